package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"url is required"`
}

// TrackEventResponse represents a successful tracking response
type TrackEventResponse struct {
	EventID string `json:"event_id" example:"evt_1a2b3c4d5e6f"`
	Status  string `json:"status" example:"accepted"`
}

// TrackEventsBulkResponse represents a successful bulk tracking response
type TrackEventsBulkResponse struct {
	Accepted int      `json:"accepted" example:"5"`
	Rejected int      `json:"rejected" example:"0"`
	EventIDs []string `json:"event_ids"`
	Errors   []string `json:"errors,omitempty"`
}

// RegisterExperienceResponse represents a successful registration response
type RegisterExperienceResponse struct {
	ExperienceID string `json:"experience_id"`
	Sent         bool   `json:"sent"`
}

// FlushResponse represents the outcome of a forced flush
type FlushResponse struct {
	Status string `json:"status" example:"flushed"`
}
