package agent

import (
	"encoding/json"
	"net/http"
)

// HealthHandler serves the current HealthSnapshot as JSON, mirroring
// the bus's /healthz sidecar so amoskysctl can query an agent's
// circuit-breaker state without touching its LDQ file directly.
func (r *Runtime) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.Health())
	}
}
