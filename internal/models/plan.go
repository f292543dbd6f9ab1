package models

// PlanRequest is the inbound body shared by every planning route. Each route
// reads only the fields it needs. Days is any JSON number; the builders
// require a whole one.
type PlanRequest struct {
	Prompt      string  `json:"prompt"`
	Destination string  `json:"destination"`
	Days        float64 `json:"days"`
}

// ChatReply wraps unparsed model text
type ChatReply struct {
	Reply string `json:"reply"`
}

// ErrorResponse is returned on every failure. Raw carries the model text
// when it could not be parsed.
type ErrorResponse struct {
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}
