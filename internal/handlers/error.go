package handlers

// ErrorResponse is the API error body.
type ErrorResponse struct {
	Message string `json:"message"`
}
