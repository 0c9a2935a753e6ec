/*
Package log provides structured logging for jenkins-relay using zerolog.

The package keeps one global zerolog.Logger and hands out child loggers that
carry the fields operators filter on: the component, the relation instance
and the node hostname.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Per relation instance:

	logger := log.WithRelation("reconciler", "jenkins-slave:3", "slave/3")
	logger.Info().Str("hostname", "slave-3").Msg("Node registered")

Per node:

	logger := log.WithHostname("management", "slave-3")
	logger.Warn().Msg("Node still absent after creation")

# Output

Logs go to stderr by default. Hook invocations print their results (flags,
published fields) on stdout, so the two streams never mix.

JSON format:

	{"level":"info","component":"reconciler","relation_id":"jenkins-slave:3","time":"...","message":"Node registered"}

Console format:

	2025-01-02T10:30:00Z INF Node registered component=reconciler relation_id=jenkins-slave:3
*/
package log
