package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/models"
)

// fakeMediaRepo implements the subset of repository.MediaRepository the
// resolver touches.
type fakeMediaRepo struct {
	libraries map[models.ULID]*models.MediaLibrary
	calls     int
}

func (f *fakeMediaRepo) GetByID(context.Context, models.ULID) (*models.MediaItem, error) {
	return nil, nil
}
func (f *fakeMediaRepo) GetCollection(context.Context, models.ULID) (*models.Collection, error) {
	return nil, nil
}
func (f *fakeMediaRepo) CollectionItems(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}
func (f *fakeMediaRepo) ArtistItems(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}
func (f *fakeMediaRepo) ShowEpisodes(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}
func (f *fakeMediaRepo) SeasonEpisodes(context.Context, models.ULID) ([]*models.MediaItem, error) {
	return nil, nil
}
func (f *fakeMediaRepo) GetLibrary(_ context.Context, id models.ULID) (*models.MediaLibrary, error) {
	f.calls++
	return f.libraries[id], nil
}

func TestResolveDirectURL(t *testing.T) {
	r := New(&fakeMediaRepo{}, nil, 0)

	item := &models.MediaItem{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Source:    models.MediaSourceYouTube,
		URL:       "https://cdn.example.com/v/abc.mp4",
		Title:     "Clip",
	}
	got, err := r.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/v/abc.mp4", got)
}

func TestResolveJellyfin(t *testing.T) {
	libID := models.NewULID()
	repo := &fakeMediaRepo{libraries: map[models.ULID]*models.MediaLibrary{
		libID: {
			BaseModel:   models.BaseModel{ID: libID},
			Source:      models.MediaSourceJellyfin,
			BaseURL:     "http://jellyfin.local:8096/",
			AccessToken: "tok123",
		},
	}}
	r := New(repo, nil, 0)

	item := &models.MediaItem{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Source:    models.MediaSourceJellyfin,
		SourceID:  "item42",
		LibraryID: &libID,
		Title:     "Episode",
	}
	got, err := r.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "http://jellyfin.local:8096/Videos/item42/stream?static=true&api_key=tok123", got)
}

func TestResolveCachesUntilTTL(t *testing.T) {
	libID := models.NewULID()
	repo := &fakeMediaRepo{libraries: map[models.ULID]*models.MediaLibrary{
		libID: {BaseModel: models.BaseModel{ID: libID}, Source: models.MediaSourcePlex, BaseURL: "http://plex:32400", AccessToken: "t"},
	}}
	r := New(repo, nil, time.Minute)

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	item := &models.MediaItem{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Source:    models.MediaSourcePlex,
		SourceID:  "1234",
		LibraryID: &libID,
		Title:     "Movie",
	}

	_, err := r.Resolve(context.Background(), item)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	now = now.Add(2 * time.Minute)
	_, err = r.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestResolveInvalidate(t *testing.T) {
	r := New(&fakeMediaRepo{}, nil, time.Hour)
	item := &models.MediaItem{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Source:    models.MediaSourceLocal,
		SourceID:  "/media/movie.mkv",
		Title:     "Movie",
	}

	got, err := r.Resolve(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "/media/movie.mkv", got)

	r.Invalidate(item.ID)
	r.mu.Lock()
	_, cached := r.cache[item.ID]
	r.mu.Unlock()
	assert.False(t, cached)
}

func TestResolveUnresolvable(t *testing.T) {
	r := New(&fakeMediaRepo{}, nil, 0)

	_, err := r.Resolve(context.Background(), &models.MediaItem{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Source:    models.MediaSourceYouTube,
		Title:     "No URL",
	})
	assert.ErrorIs(t, err, ErrUnresolvable)

	_, err = r.Resolve(context.Background(), &models.MediaItem{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Source:    models.MediaSourceEmby,
		SourceID:  "7",
		Title:     "No library",
	})
	assert.ErrorIs(t, err, ErrUnresolvable)
}
