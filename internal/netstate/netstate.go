package netstate

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Checker reports whether a site is reachable right now.
type Checker interface {
	Online(ctx context.Context, siteID string) bool
}

// Static always reports the same answer.
type Static bool

func (s Static) Online(context.Context, string) bool { return bool(s) }

// Probe issues a HEAD request against each site's base URL. Any response,
// including 4xx/5xx, counts as reachable.
type Probe struct {
	mu      sync.RWMutex
	urls    map[string]string
	client  *http.Client
	timeout time.Duration
}

func NewProbe(timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Probe{urls: map[string]string{}, client: &http.Client{}, timeout: timeout}
}

// Add registers the URL probed for siteID.
func (p *Probe) Add(siteID, baseURL string) {
	p.mu.Lock()
	p.urls[siteID] = baseURL
	p.mu.Unlock()
}

func (p *Probe) Online(ctx context.Context, siteID string) bool {
	p.mu.RLock()
	u, ok := p.urls[siteID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	res, err := p.client.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()
	return true
}
