package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health states reported by /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// RequiredComponents gate readiness. A failing component outside this list
// only degrades health; the coordinator probe is one of those.
var RequiredComponents = []string{"store", "engine"}

// Report is the body of the health endpoints
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type component struct {
	healthy bool
	message string
}

type registry struct {
	mu         sync.RWMutex
	components map[string]component
	started    time.Time
	version    string
}

var health = newRegistry()

func newRegistry() *registry {
	return &registry{components: make(map[string]component), started: time.Now()}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// SetComponent records the state of a relay component and mirrors it into
// the component_healthy gauge.
func SetComponent(name string, healthy bool, message string) {
	health.mu.Lock()
	health.components[name] = component{healthy: healthy, message: message}
	health.mu.Unlock()

	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealthy.WithLabelValues(name).Set(v)
}

func isRequired(name string) bool {
	for _, r := range RequiredComponents {
		if r == name {
			return true
		}
	}
	return false
}

func describe(c component) string {
	if c.healthy {
		return "ok"
	}
	return "failing: " + c.message
}

// Health reports every component. Failing required components make the relay
// unhealthy, any other failure degrades it.
func Health() Report {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := StatusHealthy
	var failing []string
	components := make(map[string]string, len(health.components))
	for name, c := range health.components {
		components[name] = describe(c)
		if c.healthy {
			continue
		}
		failing = append(failing, name)
		if isRequired(name) {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}

	r := health.report(status, components)
	if len(failing) > 0 {
		sort.Strings(failing)
		r.Message = "failing: " + joinNames(failing)
	}
	return r
}

// Readiness reports whether every required component is registered and
// healthy.
func Readiness() Report {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := StatusReady
	message := ""
	components := make(map[string]string, len(RequiredComponents))
	for _, name := range RequiredComponents {
		c, ok := health.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
		case !c.healthy:
			components[name] = describe(c)
		default:
			components[name] = "ok"
			continue
		}
		if status == StatusReady {
			message = "waiting for " + name
		}
		status = StatusNotReady
	}

	r := health.report(status, components)
	r.Message = message
	return r
}

func (h *registry) report(status string, components map[string]string) Report {
	return Report{
		Status:     status,
		Components: components,
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	}
}

func joinNames(names []string) string {
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

// HealthHandler serves Health. Only an unhealthy relay answers 503.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Health()
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeReport(w, code, report)
	}
}

// ReadyHandler serves Readiness
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Readiness()
		code := http.StatusOK
		if report.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeReport(w, code, report)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health.mu.RLock()
		uptime := time.Since(health.started).Round(time.Second).String()
		health.mu.RUnlock()
		writeReport(w, http.StatusOK, Report{Status: "alive", Uptime: uptime})
	}
}

func writeReport(w http.ResponseWriter, code int, report Report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
