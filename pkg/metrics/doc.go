/*
Package metrics exposes Prometheus metrics and health endpoints for the relay.

# Metrics

Relation handling:

	jenkins_relay_events_total{kind,result}        result: success, deferred, error
	jenkins_relay_event_duration_seconds{kind}
	jenkins_relay_relation_instances{phase}

Management API:

	jenkins_relay_node_operations_total{operation,result}
	jenkins_relay_api_retries_total{operation}
	jenkins_relay_api_request_duration_seconds{method}
	jenkins_relay_postcondition_mismatches_total

All collectors are registered with the default registry in init and served
by Handler.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EventDuration, "changed")

# Health

Components report themselves with SetComponent, which also sets the
jenkins_relay_component_healthy gauge. A failing entry of
RequiredComponents (store, engine) makes the relay unhealthy and
HealthHandler answers 503. Any other failing component, such as the
coordinator probe, only marks it degraded. ReadyHandler waits for every
required component. LivenessHandler always answers 200.
*/
package metrics
