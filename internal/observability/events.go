package observability

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// SessionEventPayload describes a websocket session lifecycle event.
type SessionEventPayload struct {
	ConnID     string `json:"conn_id"`
	UserID     int64  `json:"user_id"`
	DeviceID   string `json:"device_id"`
	IP         string `json:"ip"`
	Event      string `json:"event"`
	DurationMs int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

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
