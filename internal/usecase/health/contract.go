package health

import "context"

// Pinger checks that the vector index is reachable and its collection exists.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober checks embedding provider availability.
type Prober interface {
	HealthCheck(ctx context.Context) error
}
