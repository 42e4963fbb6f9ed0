package system

import "context"

// Service is a background component with a managed lifecycle, such as
// the deadline sweeper. The manager starts registered services together
// and stops them in reverse order on shutdown.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
