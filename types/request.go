package types

import "errors"

// ChatRequest is the caller input for one streaming chat call.
type ChatRequest struct {
	// ProjectID selects the project; it becomes part of the request path.
	ProjectID string
	// Message is the user message sent in the request body.
	Message string
}

// Validate checks that both fields are present.
func (r ChatRequest) Validate() error {
	if r.ProjectID == "" {
		return errors.New("project id is required")
	}
	if r.Message == "" {
		return errors.New("message is required")
	}
	return nil
}
