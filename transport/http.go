package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/synckit/synerr"
)

// HTTPAdapter is the reference Adapter implementation. Request plumbing
// (marshal body, attach headers, classify non-2xx responses) mirrors the
// teacher's internal/syncclient.Client.doRequest, generalized to arbitrary
// paths instead of td's fixed project/event endpoint set.
type HTTPAdapter struct {
	mu             sync.RWMutex
	baseURL        string
	defaultHeaders map[string]string
	client         *http.Client

	online bool
	subs   map[chan bool]struct{}
}

// NewHTTPAdapter returns an adapter with no base URL configured; call
// Initialize before issuing requests.
func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{
		client: &http.Client{Timeout: 30 * time.Second},
		online: true,
		subs:   make(map[chan bool]struct{}),
	}
}

func (a *HTTPAdapter) Initialize(baseURL string, defaultHeaders map[string]string, timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseURL = baseURL
	a.defaultHeaders = defaultHeaders
	if timeout > 0 {
		a.client = &http.Client{Timeout: timeout}
	}
	return nil
}

func (a *HTTPAdapter) Get(ctx context.Context, path string) (Response, error) {
	return a.do(ctx, http.MethodGet, path, nil)
}

func (a *HTTPAdapter) Post(ctx context.Context, path string, data any) (Response, error) {
	return a.do(ctx, http.MethodPost, path, data)
}

func (a *HTTPAdapter) Put(ctx context.Context, path string, data any) (Response, error) {
	return a.do(ctx, http.MethodPut, path, data)
}

func (a *HTTPAdapter) Patch(ctx context.Context, path string, data any) (Response, error) {
	return a.do(ctx, http.MethodPatch, path, data)
}

func (a *HTTPAdapter) Delete(ctx context.Context, path string) (Response, error) {
	return a.do(ctx, http.MethodDelete, path, nil)
}

func (a *HTTPAdapter) IsOnline() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.online
}

// SetOnline updates the adapter's connectivity state and notifies
// subscribers on change. Called by a connectivity.Detector, not by engine
// code directly.
func (a *HTTPAdapter) SetOnline(online bool) {
	a.mu.Lock()
	changed := a.online != online
	a.online = online
	subs := make([]chan bool, 0, len(a.subs))
	for ch := range a.subs {
		subs = append(subs, ch)
	}
	a.mu.Unlock()

	if !changed {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

func (a *HTTPAdapter) ConnectivityStream() <-chan bool {
	ch := make(chan bool, 1)
	a.mu.Lock()
	ch <- a.online
	a.subs[ch] = struct{}{}
	a.mu.Unlock()
	return ch
}

func (a *HTTPAdapter) TestConnection(ctx context.Context, url string) bool {
	a.mu.RLock()
	target := url
	if target == "" {
		target = a.baseURL
	}
	client := a.client
	a.mu.RUnlock()

	if target == "" {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, body any) (Response, error) {
	a.mu.RLock()
	baseURL := a.baseURL
	headers := a.defaultHeaders
	client := a.client
	a.mu.RUnlock()

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Response{}, synerr.Wrap(synerr.Validation, "marshal request body", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bodyReader)
	if err != nil {
		return Response{}, synerr.Wrap(synerr.NetworkFailure, "create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, synerr.Wrap(synerr.NetworkFailure, "read response body", err)
	}

	var data any
	if len(raw) > 0 {
		json.Unmarshal(raw, &data) // best-effort; non-JSON bodies leave Data nil
	}

	result := Response{StatusCode: resp.StatusCode, Data: data}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return result, synerr.New(synerr.Auth, fmt.Sprintf("%s %s: unauthorized", method, path))
	case http.StatusForbidden:
		return result, synerr.New(synerr.Permission, fmt.Sprintf("%s %s: forbidden", method, path))
	case http.StatusTooManyRequests:
		return result, synerr.New(synerr.RateLimited, fmt.Sprintf("%s %s: rate limited", method, path))
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return result, synerr.New(synerr.Timeout, fmt.Sprintf("%s %s: timed out", method, path))
	}
	if resp.StatusCode >= 400 {
		return result, synerr.New(synerr.NetworkFailure, fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode))
	}
	return result, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return synerr.Wrap(synerr.Timeout, "request timed out", err)
	}
	return synerr.Wrap(synerr.NetworkFailure, "transport error", err)
}
