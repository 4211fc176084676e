package types

// Response is what a single turn returns to the transport layer.
type Response struct {
	Text              string         `json:"text"`
	WorkerUsed        string         `json:"worker_used"`
	Confidence        float64        `json:"confidence"`
	Blocked           bool           `json:"blocked"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}
