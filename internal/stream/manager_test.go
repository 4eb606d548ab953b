package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavetv/airwave/internal/models"
)

// fakeChannelRepo serves channels from memory.
type fakeChannelRepo struct {
	channels map[string]*models.Channel
}

func (f *fakeChannelRepo) Create(context.Context, *models.Channel) error { return nil }
func (f *fakeChannelRepo) GetByID(_ context.Context, id models.ULID) (*models.Channel, error) {
	for _, c := range f.channels {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}
func (f *fakeChannelRepo) GetByNumber(_ context.Context, number string) (*models.Channel, error) {
	return f.channels[number], nil
}
func (f *fakeChannelRepo) GetAll(context.Context) ([]*models.Channel, error)     { return nil, nil }
func (f *fakeChannelRepo) GetEnabled(context.Context) ([]*models.Channel, error) { return nil, nil }
func (f *fakeChannelRepo) Update(context.Context, *models.Channel) error         { return nil }
func (f *fakeChannelRepo) Delete(context.Context, models.ULID) error             { return nil }

// fakeTimeline records re-bases and serves no items, which parks streams
// in the recovery path without spawning processes.
type fakeTimeline struct {
	mu      sync.Mutex
	rebased []models.ULID
}

func (f *fakeTimeline) ItemAt(context.Context, models.ULID, time.Time) (*models.PlayoutItem, error) {
	return nil, nil
}
func (f *fakeTimeline) EnsureHorizon(context.Context, models.ULID, time.Time) error { return nil }
func (f *fakeTimeline) Rebase(_ context.Context, channelID models.ULID, _ time.Time) error {
	f.mu.Lock()
	f.rebased = append(f.rebased, channelID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTimeline) rebaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rebased)
}

func newTestManager(t *testing.T, channels ...*models.Channel) (*Manager, *fakeTimeline) {
	t.Helper()
	repo := &fakeChannelRepo{channels: make(map[string]*models.Channel)}
	for _, c := range channels {
		repo.channels[c.Number] = c
	}
	timeline := &fakeTimeline{}
	sessions := NewSessionManager(testSessionConfig(), nil, nil)
	m := NewManager(ManagerDeps{
		Channels: repo,
		Timeline: timeline,
		Sessions: sessions,
		Stream: ChannelStreamDeps{
			Timeline: timeline,
			Slate:    NewSlateGenerator(DefaultSlateConfig(), nil),
		},
	})
	sessions.SetReleaser(m)
	m.Start(context.Background(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, timeline
}

func TestOpenSessionUnknownChannel(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.OpenSession(context.Background(), "99", "", "")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestOpenSessionDisabledChannel(t *testing.T) {
	channel := &models.Channel{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Number:    "3",
		Name:      "3 Three",
		Enabled:   models.BoolPtr(false),
	}
	m, _ := newTestManager(t, channel)

	_, err := m.OpenSession(context.Background(), "3", "", "")
	assert.ErrorIs(t, err, ErrChannelDisabled)
}

func TestOpenSessionSharesOneStream(t *testing.T) {
	channel := &models.Channel{
		BaseModel:   models.BaseModel{ID: models.NewULID()},
		Number:      "2.1",
		Name:        "2.1 Westerns",
		PlayoutMode: models.PlayoutModeContinuous,
	}
	m, _ := newTestManager(t, channel)

	s1, err := m.OpenSession(context.Background(), "2.1", "10.0.0.1:1", "")
	require.NoError(t, err)
	s2, err := m.OpenSession(context.Background(), "2.1", "10.0.0.2:1", "")
	require.NoError(t, err)

	assert.Len(t, m.ActiveStreams(), 1)
	assert.NotEqual(t, s1.ID, s2.ID)

	m.CloseSession(s1)
	m.CloseSession(s2)
}

func TestOpenSessionRebasesOnDemandChannel(t *testing.T) {
	channel := &models.Channel{
		BaseModel:   models.BaseModel{ID: models.NewULID()},
		Number:      "7",
		Name:        "7 Movies",
		PlayoutMode: models.PlayoutModeOnDemand,
	}
	m, timeline := newTestManager(t, channel)

	s, err := m.OpenSession(context.Background(), "7", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, timeline.rebaseCount())

	// Sharing the running stream does not re-base again.
	s2, err := m.OpenSession(context.Background(), "7", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, timeline.rebaseCount())

	m.CloseSession(s)
	m.CloseSession(s2)
}

func TestOpenSessionEnforcesCap(t *testing.T) {
	channel := &models.Channel{
		BaseModel:   models.BaseModel{ID: models.NewULID()},
		Number:      "4",
		Name:        "4 News",
		PlayoutMode: models.PlayoutModeContinuous,
	}
	m, _ := newTestManager(t, channel)

	for i := 0; i < 2; i++ {
		_, err := m.OpenSession(context.Background(), "4", "", "")
		require.NoError(t, err)
	}
	_, err := m.OpenSession(context.Background(), "4", "", "")
	assert.ErrorIs(t, err, ErrChannelSaturated)
}

func TestReleaseIfIdleStopsStream(t *testing.T) {
	channel := &models.Channel{
		BaseModel:   models.BaseModel{ID: models.NewULID()},
		Number:      "8",
		Name:        "8 Late Night",
		PlayoutMode: models.PlayoutModeOnDemand,
	}
	m, _ := newTestManager(t, channel)

	s, err := m.OpenSession(context.Background(), "8", "", "")
	require.NoError(t, err)
	require.Len(t, m.ActiveStreams(), 1)

	m.CloseSession(s)
	m.ReleaseIfIdle(context.Background(), channel.ID)

	assert.Empty(t, m.ActiveStreams())
	assert.Equal(t, StateIdle, m.StreamState(channel.ID))
}
