package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/voicebooth/internal/audio"
)

// PermissionRequester asks the platform for capture permission.
type PermissionRequester interface {
	RequestCapturePermission(ctx context.Context) (bool, error)
}

// PermissionFunc adapts a function to PermissionRequester.
type PermissionFunc func(ctx context.Context) (bool, error)

// RequestCapturePermission implements PermissionRequester.
func (f PermissionFunc) RequestCapturePermission(ctx context.Context) (bool, error) {
	return f(ctx)
}

// DevicePermission grants capture when the backend reports an input device.
type DevicePermission struct {
	Capture audio.Capture
}

// RequestCapturePermission implements PermissionRequester.
func (p DevicePermission) RequestCapturePermission(ctx context.Context) (bool, error) {
	return p.Capture.HasInputDevice(ctx)
}

// PermissionGate asks for permission lazily, once per process. Concurrent
// first callers share a single request. A decision, granted or denied, is
// cached; request errors are not.
type PermissionGate struct {
	requester PermissionRequester
	group     singleflight.Group

	mu      sync.Mutex
	decided bool
	granted bool

	requests atomic.Int64
}

// NewPermissionGate wraps requester.
func NewPermissionGate(requester PermissionRequester) *PermissionGate {
	return &PermissionGate{requester: requester}
}

// Check returns the cached decision, requesting it on first use.
func (g *PermissionGate) Check(ctx context.Context) (bool, error) {
	if granted, ok := g.cached(); ok {
		return granted, nil
	}

	v, err, shared := g.group.Do("capture", func() (interface{}, error) {
		if granted, ok := g.cached(); ok {
			return granted, nil
		}

		g.requests.Add(1)
		granted, err := g.requester.RequestCapturePermission(ctx)
		if err != nil {
			return false, err
		}

		g.mu.Lock()
		g.decided = true
		g.granted = granted
		g.mu.Unlock()

		log.Debug("Capture permission decided", "granted", granted)
		return granted, nil
	})
	if err != nil {
		return false, err
	}
	if shared {
		log.Debug("Capture permission request shared")
	}
	return v.(bool), nil
}

// Reset forgets the cached decision so the next Check asks again. It is
// meant for an external "open settings and retry" flow.
func (g *PermissionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decided = false
	g.granted = false
}

// Requests returns how many times the requester was actually asked.
func (g *PermissionGate) Requests() int64 {
	return g.requests.Load()
}

func (g *PermissionGate) cached() (granted, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted, g.decided
}
