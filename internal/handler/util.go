package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/guardrail-ai/llm-gateway/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFault maps a tagged fault to an HTTP response. Retry information is
// exposed through the Retry-After header for throttled and circuit-rejected
// requests.
func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)

	var status int
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindRateLimited, fault.KindCircuitOpen:
		status = http.StatusTooManyRequests
		if retryAfter := fault.RetryAfter(err); retryAfter > 0 {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	case fault.KindUpstream:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  kind.String(),
	})
}
