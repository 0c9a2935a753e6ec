/*
Package management talks to the coordinator's node management API.

HTTPAPI issues the raw requests: node lookup, creation with the JNLP launcher
and deletion, each authenticated with basic auth and a CSRF crumb when the
coordinator issues one. Responses are classified into TransientError
(network failures, timeouts, 429, 502, 503, 504) and FatalError (everything
else).

Client layers idempotency and retries on top:

  - Create checks for the node first and does nothing if it exists.
  - Delete checks for the node first and does nothing if it is absent.
  - Transient failures are retried Config.Retries times with a fixed
    Config.RetryDelay; fatal failures are returned at once.

Executor counts are doubled on the way out (types.ExecutorMultiplier).
*/
package management
