package models

type QueuedResponse struct {
	Data  QueuedData `json:"data"`
	Error struct{}   `json:"error"`
}

type QueuedData struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
