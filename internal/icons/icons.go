// Package icons resolves app icons from the iTunes lookup API and keeps them
// in a local file cache.
package icons

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLookupURL = "https://itunes.apple.com/lookup"
	// BatchSize is the number of icons fetched concurrently.
	BatchSize = 3
	// BatchPause is the pause between two batches.
	BatchPause = 200 * time.Millisecond

	urlCacheSize = 512
)

// Resolver returns an icon URL for a bundle identifier.
type Resolver interface {
	// CachedURL returns the URL of an already cached icon without blocking.
	CachedURL(bundleID string) (string, bool)
	// Resolve returns the cached URL or fetches and caches the icon.
	Resolve(ctx context.Context, bundleID string) (string, error)
}

type lookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		ArtworkURL512 string `json:"artworkUrl512"`
		ArtworkURL100 string `json:"artworkUrl100"`
		ArtworkURL60  string `json:"artworkUrl60"`
	} `json:"results"`
}

// ITunes resolves icons through the iTunes lookup API.
type ITunes struct {
	Dir       string
	LookupURL string
	Client    *http.Client

	group singleflight.Group
	urls  *lru.Cache[string, string]
}

// NewITunes creates a resolver caching icons in dir.
func NewITunes(dir string) (*ITunes, error) {
	if dir == "" {
		return nil, fmt.Errorf("'dir' is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create icon cache directory '%s': %w", dir, err)
	}
	urls, err := lru.New[string, string](urlCacheSize)
	if err != nil {
		return nil, err
	}
	return &ITunes{
		Dir:       dir,
		LookupURL: DefaultLookupURL,
		Client:    &http.Client{Timeout: 30 * time.Second},
		urls:      urls,
	}, nil
}

// FileName is the cache file name of a bundle's icon.
func FileName(bundleID string) string {
	return strings.ReplaceAll(bundleID, ".", "_") + ".png"
}

func (r *ITunes) path(bundleID string) string {
	return filepath.Join(r.Dir, FileName(bundleID))
}

func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// CachedURL implements Resolver.
func (r *ITunes) CachedURL(bundleID string) (string, bool) {
	if bundleID == "" {
		return "", false
	}
	if u, ok := r.urls.Get(bundleID); ok {
		return u, true
	}
	p := r.path(bundleID)
	if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
		return "", false
	}
	u := fileURL(p)
	r.urls.Add(bundleID, u)
	return u, true
}

// Resolve implements Resolver. Concurrent calls for the same bundle share
// one download.
func (r *ITunes) Resolve(ctx context.Context, bundleID string) (string, error) {
	if bundleID == "" {
		return "", model.NewError(model.InvalidInput, "icon", "missing bundle id", nil)
	}
	if u, ok := r.CachedURL(bundleID); ok {
		return u, nil
	}
	v, err, _ := r.group.Do(bundleID, func() (any, error) {
		if u, ok := r.CachedURL(bundleID); ok {
			return u, nil
		}
		return r.fetch(ctx, bundleID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *ITunes) fetch(ctx context.Context, bundleID string) (string, error) {
	artwork, err := r.lookup(ctx, bundleID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artwork, nil)
	if err != nil {
		return "", model.NewError(model.InvalidInput, "icon", "bad artwork url", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", model.NewError(model.RemoteUnavailable, "icon", "failed to download artwork", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", model.NewError(model.RemoteUnavailable, "icon", fmt.Sprintf("artwork download returned %s", resp.Status), nil)
	}

	p := r.path(bundleID)
	tmp, err := os.CreateTemp(r.Dir, ".icon-*")
	if err != nil {
		return "", fmt.Errorf("failed to create icon file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write icon file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("failed to move icon file: %w", err)
	}

	u := fileURL(p)
	r.urls.Add(bundleID, u)
	log.WithField("bundle_id", bundleID).Debug("cached app icon")
	return u, nil
}

func (r *ITunes) lookup(ctx context.Context, bundleID string) (string, error) {
	q := url.Values{}
	q.Set("bundleId", bundleID)
	q.Set("entity", "software")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.LookupURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", model.NewError(model.InvalidInput, "icon", "bad lookup url", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", model.NewError(model.RemoteUnavailable, "icon", "lookup failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", model.NewError(model.RemoteUnavailable, "icon", fmt.Sprintf("lookup returned %s", resp.Status), nil)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("failed to JSON decode lookup response: %w", err)
	}
	for _, res := range lr.Results {
		for _, u := range []string{res.ArtworkURL512, res.ArtworkURL100, res.ArtworkURL60} {
			if u != "" {
				return u, nil
			}
		}
	}
	return "", model.NewError(model.NotFound, "icon", "no artwork for "+bundleID, nil)
}

// LoadBatched resolves icons in batches of BatchSize concurrent requests,
// pausing between batches. fn is called, possibly concurrently, for every
// icon found; failures are logged and skipped.
func LoadBatched(ctx context.Context, r Resolver, bundleIDs []string, fn func(bundleID, url string)) error {
	return loadBatched(ctx, r, bundleIDs, BatchSize, BatchPause, fn)
}

func loadBatched(ctx context.Context, r Resolver, bundleIDs []string, size int, pause time.Duration, fn func(bundleID, url string)) error {
	for start := 0; start < len(bundleIDs); start += size {
		if start > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
		batch := bundleIDs[start:min(start+size, len(bundleIDs))]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(size)
		for _, id := range batch {
			g.Go(func() error {
				u, err := r.Resolve(gctx, id)
				if err != nil {
					log.WithError(err).WithField("bundle_id", id).Debug("failed to load icon")
					return nil
				}
				fn(id, u)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return ctx.Err()
}
