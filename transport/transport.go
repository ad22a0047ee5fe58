// Package transport defines the network adapter contract the sync engine
// consumes (spec §6, "Network adapter") and ships an HTTP implementation
// grounded on the teacher's internal/syncclient.Client request/response
// plumbing, generalized from td's fixed project/event endpoints to
// arbitrary per-table paths.
package transport

import (
	"context"
	"time"
)

// Response is a parsed HTTP response: status code plus JSON-decoded body.
// Data is nil when the body was empty or not valid JSON.
type Response struct {
	StatusCode int
	Data       any
}

// Adapter is the contract the sync engine uses for all remote I/O.
type Adapter interface {
	// Initialize configures the adapter. Safe to call more than once;
	// later calls replace the configuration.
	Initialize(baseURL string, defaultHeaders map[string]string, timeout time.Duration) error

	Get(ctx context.Context, path string) (Response, error)
	Post(ctx context.Context, path string, data any) (Response, error)
	Put(ctx context.Context, path string, data any) (Response, error)
	Patch(ctx context.Context, path string, data any) (Response, error)
	Delete(ctx context.Context, path string) (Response, error)

	// IsOnline reports the adapter's last-observed connectivity state.
	IsOnline() bool

	// ConnectivityStream yields the connectivity state whenever it
	// changes. A nil channel means the adapter has no connectivity signal.
	// HTTPAdapter sends the current state first and never closes the
	// channels it returns.
	ConnectivityStream() <-chan bool

	// TestConnection actively probes reachability, optionally against a
	// specific URL rather than the configured base URL.
	TestConnection(ctx context.Context, url string) bool
}
