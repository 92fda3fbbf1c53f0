package observability

import (
	"net"
	"net/http"
	"strings"
)

// EventEnvelope wraps every event published to the message broker.
type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// BuildHeaders assembles broker headers carrying request correlation.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// DeviceIDFromRequest extracts the caller's device identifier, if sent.
func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

// RequestIDFromRequest extracts the inbound request id header.
func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

// IPFromRequest resolves the caller IP, honoring X-Forwarded-For.
func IPFromRequest(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
