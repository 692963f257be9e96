package dto

import "encoding/json"

// HairResponse is returned by POST /fusion/hair
type HairResponse struct {
	Status         string `json:"status"`
	SourceImageURL string `json:"source_image_url"`
	// FusedImageURL is null when synthesis failed
	FusedImageURL *string `json:"fused_image_url"`
}

// TaskCreatedResponse is returned by POST /fusion/meshify
type TaskCreatedResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

// TaskStatusResponse is returned by GET /fusion/meshify/:task_id
type TaskStatusResponse struct {
	Status   string          `json:"status"`
	TaskID   string          `json:"task_id"`
	Progress *float64        `json:"progress"`
	GLBURL   *string         `json:"glb_url"`
	Task     json.RawMessage `json:"task"`
}

// FullResponse is returned by POST /fusion/full
type FullResponse struct {
	Status          string  `json:"status"`
	SourceImageURL  string  `json:"source_image_url"`
	FusedImageURL   *string `json:"fused_image_url"`
	UsedImageSource string  `json:"used_image_source"`
	TaskID          string  `json:"task_id"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status          string `json:"status"`
	MeshyConfigured bool   `json:"meshy_configured"`
	AILabConfigured bool   `json:"ailab_configured"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HairTypeErrorResponse lists the accepted hair_type values
type HairTypeErrorResponse struct {
	Error   string `json:"error"`
	Allowed []int  `json:"allowed"`
}
