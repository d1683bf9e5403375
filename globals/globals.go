package globals

import (
	"context"
	"errors"
	"net"
	"time"
)

var (
	// JwtSecret signs and verifies relay session tokens. main overrides it
	// from JWT_SECRET.
	JwtSecret = []byte("your_secret_key")
)

// Context keys
type ContextKey string

const RoleKey ContextKey = "role"
const UserIDKey ContextKey = "userId"

// Default deadlines for network and realtime operations.
const (
	RequestTimeout = 15 * time.Second
	EmitTimeout    = 10 * time.Second
	ConnectTimeout = 10 * time.Second
	HistoryTimeout = 10 * time.Second
)

// ErrTimeout is returned (wrapped) whenever a network or realtime
// operation gives up because its deadline passed.
var ErrTimeout = errors.New("operation timed out")

// WithDefaultTimeout applies d unless ctx already carries a deadline.
func WithDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// AsTimeout rewrites context deadline errors into ErrTimeout so callers
// can tell a hung peer apart from a refused request.
func AsTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
