// Package generator talks to the briefing generation webhook.
package generator

// generateResponse is the body returned by the webhook on success.
type generateResponse struct {
	Script               string  `json:"script"`
	AudioPath            string  `json:"audio_path"`
	AudioDurationSeconds int     `json:"audio_duration_seconds"`
	Transcript           string  `json:"transcript"`
	Cost                 float64 `json:"cost"`
}

// errorResponse is the body returned by the webhook when generation fails.
type errorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}
