package types

import "time"

// EndpointStat counts completed requests for one method and route pattern.
type EndpointStat struct {
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint"`
	Count      int       `json:"count"`
	LastCalled time.Time `json:"lastCalled"`
}

// Usage describes a user's quota state after a tracked call.
type Usage struct {
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}
