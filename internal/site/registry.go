package site

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mind-engage/quizsync/internal/config"
	"github.com/mind-engage/quizsync/internal/remote"
)

var ErrUnknownSite = errors.New("unknown site")

type Site struct {
	ID      string
	BaseURL string
	UserID  int64
}

// Registry holds the configured sites and one remote client per site.
type Registry struct {
	sites   map[string]Site
	remotes map[string]*remote.Client
	ids     []string
}

func NewRegistry(sites []config.SiteConfig, rc config.RemoteConfig, cache remote.Cache) *Registry {
	r := &Registry{sites: map[string]Site{}, remotes: map[string]*remote.Client{}}
	for _, s := range sites {
		r.sites[s.ID] = Site{ID: s.ID, BaseURL: s.BaseURL, UserID: s.UserID}
		r.remotes[s.ID] = remote.New(remote.Config{
			SiteID:       s.ID,
			BaseURL:      s.BaseURL,
			UserID:       s.UserID,
			Token:        s.Token,
			TokenURL:     s.TokenURL,
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			Timeout:      rc.Timeout,
			RatePerSec:   rc.RatePerSec,
			Burst:        rc.Burst,
			CacheTTL:     rc.CacheTTL,
		}, cache)
		r.ids = append(r.ids, s.ID)
	}
	sort.Strings(r.ids)
	return r
}

// IDs returns the site ids in lexical order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Site(id string) (Site, bool) {
	s, ok := r.sites[id]
	return s, ok
}

func (r *Registry) Remote(id string) (*remote.Client, error) {
	c, ok := r.remotes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, id)
	}
	return c, nil
}
