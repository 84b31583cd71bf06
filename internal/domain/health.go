package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// AllocatorMetrics is returned by GET /v1/metrics/allocator.
type AllocatorMetrics struct {
	Computations   int64            `json:"computations"`
	RecordsEmitted int64            `json:"recordsEmitted"`
	CacheHitRate   float64          `json:"cacheHitRate"`
	Anomalies      map[string]int64 `json:"anomalies"`
	Period         string           `json:"period"`
}

// RatePreview is returned by GET /v1/rates/normalize.
type RatePreview struct {
	Raw        string `json:"raw"`
	Encoding   string `json:"encoding"`
	Bps        string `json:"bps"`
	DisplayBps int64  `json:"display_bps"`
	Multiplier string `json:"multiplier"`
}
