package providers

import "fmt"

// ChatRequest is the body posted to the LLM app's /chat endpoint.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the JSON reply of the LLM app.
type ChatResponse struct {
	Response struct {
		Content *string `json:"content"`
	} `json:"response"`
}

// ChatReply is the result of one Chat call.
// Exactly one of Content and Raw is meaningful: Raw is set when the app
// answered 200 with a non-JSON body.
type ChatReply struct {
	Content string
	Raw     string
}

// IsRaw reports whether the app returned an undecoded text body.
func (r *ChatReply) IsRaw() bool { return r != nil && r.Content == "" && r.Raw != "" }

// ChatError describes a failed LLM app call. Cause is the short text shown to chat users.
type ChatError struct {
	Cause string
	Err   error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat app: %s: %v", e.Cause, e.Err)
	}
	return "chat app: " + e.Cause
}

func (e *ChatError) Unwrap() error { return e.Err }
