package errors

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Display       string         `json:"message"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// NewErrorResponse builds the response body for err.
// Details carry invoice_id and step when the error was built with them.
func NewErrorResponse(err error) ErrorResponse {
	display := DisplayMessage(err)
	if display == "" {
		display = "An unexpected error occurred"
	}

	details := ReportableDetails(err)
	if len(details) == 0 {
		details = nil
	}

	return ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Display: display,
			Details: details,
		},
	}
}
