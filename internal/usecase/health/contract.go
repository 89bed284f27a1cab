package health

import "context"

// DBPinger checks metadata store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker is any component with a health probe: the vector index or the embedding server.
type Checker interface {
	HealthCheck(ctx context.Context) error
}
