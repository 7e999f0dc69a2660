package dto

// SuccessResponse wraps every successful payload
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func NewSuccessResponse(data any) SuccessResponse {
	return SuccessResponse{Success: true, Data: data}
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
