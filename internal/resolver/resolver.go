// Package resolver turns media catalog entries into playable URLs.
// Direct sources carry their URL; media-server sources (Plex, Jellyfin,
// Emby) are resolved against their library's base URL and token. Results
// are cached with a TTL because server-issued URLs expire.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/airwavetv/airwave/internal/models"
	"github.com/airwavetv/airwave/internal/repository"
)

// ErrUnresolvable is returned when a media item has no usable URL and no
// library to resolve against.
var ErrUnresolvable = errors.New("media item cannot be resolved to a URL")

// DefaultTTL bounds how long a resolved URL is trusted. Server-issued
// URLs commonly expire after a few minutes.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	url       string
	expiresAt time.Time
}

// Resolver resolves media items to playable URLs with a small TTL cache.
type Resolver struct {
	media  repository.MediaRepository
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[models.ULID]cacheEntry
}

// New creates a Resolver. ttl <= 0 selects DefaultTTL.
func New(media repository.MediaRepository, logger *slog.Logger, ttl time.Duration) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		media:  media,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[models.ULID]cacheEntry),
	}
}

// Resolve returns a playable URL for the media item.
func (r *Resolver) Resolve(ctx context.Context, item *models.MediaItem) (string, error) {
	if item == nil {
		return "", ErrUnresolvable
	}

	r.mu.Lock()
	if entry, ok := r.cache[item.ID]; ok && r.now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.url, nil
	}
	r.mu.Unlock()

	resolved, err := r.resolve(ctx, item)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[item.ID] = cacheEntry{url: resolved, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return resolved, nil
}

// Invalidate drops any cached URL for the media item. The self-healing
// loop calls this when an expired-URL pattern is detected.
func (r *Resolver) Invalidate(id models.ULID) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *Resolver) resolve(ctx context.Context, item *models.MediaItem) (string, error) {
	switch item.Source {
	case models.MediaSourceYouTube, models.MediaSourceArchiveOrg:
		if item.URL == "" {
			return "", fmt.Errorf("%w: %s item %s has no URL", ErrUnresolvable, item.Source, item.ID)
		}
		return item.URL, nil

	case models.MediaSourceLocal:
		if item.URL != "" {
			return item.URL, nil
		}
		if item.SourceID == "" {
			return "", fmt.Errorf("%w: local item %s has no path", ErrUnresolvable, item.ID)
		}
		library, err := r.library(ctx, item)
		if err != nil {
			return "", err
		}
		if library != nil {
			return filepath.Join(library.BaseURL, item.SourceID), nil
		}
		return item.SourceID, nil

	case models.MediaSourcePlex:
		library, err := r.requireLibrary(ctx, item)
		if err != nil {
			return "", err
		}
		// Plex serves the raw media part; the rating key is the SourceID.
		u := fmt.Sprintf("%s/library/metadata/%s/media?X-Plex-Token=%s",
			strings.TrimRight(library.BaseURL, "/"),
			url.PathEscape(item.SourceID),
			url.QueryEscape(library.AccessToken),
		)
		return u, nil

	case models.MediaSourceJellyfin, models.MediaSourceEmby:
		library, err := r.requireLibrary(ctx, item)
		if err != nil {
			return "", err
		}
		u := fmt.Sprintf("%s/Videos/%s/stream?static=true&api_key=%s",
			strings.TrimRight(library.BaseURL, "/"),
			url.PathEscape(item.SourceID),
			url.QueryEscape(library.AccessToken),
		)
		return u, nil

	default:
		return "", fmt.Errorf("%w: unknown source %q", ErrUnresolvable, item.Source)
	}
}

func (r *Resolver) library(ctx context.Context, item *models.MediaItem) (*models.MediaLibrary, error) {
	if item.Library != nil {
		return item.Library, nil
	}
	if item.LibraryID == nil {
		return nil, nil
	}
	library, err := r.media.GetLibrary(ctx, *item.LibraryID)
	if err != nil {
		return nil, fmt.Errorf("loading library for media %s: %w", item.ID, err)
	}
	return library, nil
}

func (r *Resolver) requireLibrary(ctx context.Context, item *models.MediaItem) (*models.MediaLibrary, error) {
	library, err := r.library(ctx, item)
	if err != nil {
		return nil, err
	}
	if library == nil {
		return nil, fmt.Errorf("%w: %s item %s has no library", ErrUnresolvable, item.Source, item.ID)
	}
	return library, nil
}
