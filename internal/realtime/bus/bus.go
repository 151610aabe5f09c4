package bus

import (
	"context"

	"github.com/openadmit/counselor-backend/internal/realtime"
)

// Bus fans frames out across backend instances so a client subscribed on one
// instance sees frames produced on another.
type Bus interface {
	Publish(ctx context.Context, f realtime.Frame) error
	StartForwarder(ctx context.Context, onFrame func(f realtime.Frame)) error
	Close() error
}
