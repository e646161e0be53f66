package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/charcoal/internal/atproto"
	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/profile"
	"github.com/nvandessel/charcoal/internal/store"
)

// memStore is a minimal in-memory store.Store fake for pipeline tests.
type memStore struct {
	mu           sync.Mutex
	scanState    map[string]string
	scores       map[string]models.AccountScore
	events       []models.AmplificationEvent
	fingerprint  *models.TopicFingerprint
	medianCached float64
}

func newMemStore() *memStore {
	return &memStore{
		scanState: make(map[string]string),
		scores:    make(map[string]models.AccountScore),
	}
}

func (m *memStore) GetScanState(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanState[key], nil
}
func (m *memStore) SetScanState(ctx context.Context, key, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanState[key] = cursor
	return nil
}
func (m *memStore) SaveFingerprint(ctx context.Context, ownerDID string, fp models.TopicFingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprint = &fp
	return nil
}
func (m *memStore) GetFingerprint(ctx context.Context, ownerDID string) (*models.TopicFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fingerprint, nil
}
func (m *memStore) SaveEmbedding(ctx context.Context, did string, vec []float32) error { return nil }
func (m *memStore) GetEmbedding(ctx context.Context, did string) ([]float32, error)    { return nil, nil }
func (m *memStore) UpsertAccountScore(ctx context.Context, score models.AccountScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[score.DID] = score
	return nil
}
func (m *memStore) GetAccountScore(ctx context.Context, did string) (*models.AccountScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[did]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (m *memStore) GetRankedThreats(ctx context.Context, minTier models.ThreatTier, limit int) ([]store.RankedThreat, error) {
	return nil, nil
}
func (m *memStore) GetAllAccountScores(ctx context.Context) ([]models.AccountScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AccountScore
	for _, s := range m.scores {
		out = append(out, s)
	}
	return out, nil
}
func (m *memStore) IsScoreStale(ctx context.Context, did string, maxAge time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[did]
	if !ok {
		return true, nil
	}
	return time.Since(s.ScoredAt) > maxAge, nil
}
func (m *memStore) InsertAmplificationEvent(ctx context.Context, event models.AmplificationEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event.ID, nil
}
func (m *memStore) GetRecentEvents(ctx context.Context, originalPostURI string, window time.Duration) ([]models.AmplificationEvent, error) {
	return nil, nil
}
func (m *memStore) GetEventsForPileOn(ctx context.Context, ownerDID string, window time.Duration) ([]models.AmplificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AmplificationEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}
func (m *memStore) GetAllEvents(ctx context.Context) ([]models.AmplificationEvent, error) {
	return m.GetEventsForPileOn(ctx, "", 0)
}
func (m *memStore) GetMedianEngagement(ctx context.Context, ownerDID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.medianCached, nil
}
func (m *memStore) SetMedianEngagement(ctx context.Context, ownerDID string, median float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.medianCached = median
	return nil
}
func (m *memStore) TableCount(ctx context.Context, table string) (int, error) { return len(m.scores), nil }
func (m *memStore) Close() error                                             { return nil }

// fakePostFetcher satisfies profile.PostFetcher without any network.
type fakePostFetcher struct {
	posts []models.Post
}

func (f fakePostFetcher) GetRecentPosts(ctx context.Context, handle string, limit int) ([]models.Post, error) {
	return f.posts, nil
}
func (f fakePostFetcher) GetReplySample(ctx context.Context, handle string, pageLimit int) (models.ReplySample, error) {
	return models.ReplySample{}, nil
}

// fakeBacklinkClient drives the amplification pipeline without any network.
type fakeBacklinkClient struct {
	protectedPosts []models.Post
	backlinks      map[string][]atproto.BacklinkEvent
	followers      map[string][]atproto.Follower
	handles        map[string]string
}

func (f *fakeBacklinkClient) GetRecentPosts(ctx context.Context, handle string, limit int) ([]models.Post, error) {
	return f.protectedPosts, nil
}
func (f *fakeBacklinkClient) GetBacklinks(ctx context.Context, postURI, cursor string, limit int) ([]atproto.BacklinkEvent, string, error) {
	return f.backlinks[postURI], "", nil
}
func (f *fakeBacklinkClient) GetFollowers(ctx context.Context, handle, cursor string, limit int) ([]atproto.Follower, string, error) {
	return f.followers[handle], "", nil
}
func (f *fakeBacklinkClient) ResolveDIDs(ctx context.Context, dids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, d := range dids {
		if h, ok := f.handles[d]; ok {
			out[d] = h
		}
	}
	return out, nil
}

func TestAmplificationRunScoresNewQuoteAmplifierFollowers(t *testing.T) {
	s := newMemStore()
	client := &fakeBacklinkClient{
		protectedPosts: []models.Post{{URI: "at://protected/post/1"}},
		backlinks: map[string][]atproto.BacklinkEvent{
			"at://protected/post/1": {
				{EventType: models.EventQuote, OriginalPostURI: "at://protected/post/1", AmplifierDID: "did:plc:quoter", DetectedAt: time.Now()},
			},
		},
		followers: map[string][]atproto.Follower{
			"quoter.test": {{DID: "did:plc:follower1", Handle: "follower1.test"}},
		},
		handles: map[string]string{"did:plc:quoter": "quoter.test"},
	}
	builder := &profile.Builder{Posts: fakePostFetcher{posts: []models.Post{{URI: "x", Text: "hi"}}}}

	amp := &Amplification{
		Store:           s,
		Client:          client,
		Builder:         builder,
		Pool:            NewPool(2, nil),
		ProtectedDID:    "did:plc:protected",
		ProtectedHandle: "protected.test",
	}

	if err := amp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := s.scores["did:plc:follower1"]; !ok {
		t.Error("expected follower1 to be scored after a quote amplification")
	}
	if len(s.events) != 1 {
		t.Fatalf("expected 1 amplification event recorded, got %d", len(s.events))
	}
	if s.events[0].OriginalPostURI != "at://protected/post/1" {
		t.Errorf("expected recorded event to carry the original post URI, got %q", s.events[0].OriginalPostURI)
	}
}

func TestAmplificationRunSkipsFollowerFanOutForReposts(t *testing.T) {
	s := newMemStore()
	client := &fakeBacklinkClient{
		protectedPosts: []models.Post{{URI: "at://protected/post/1"}},
		backlinks: map[string][]atproto.BacklinkEvent{
			"at://protected/post/1": {
				{EventType: models.EventRepost, AmplifierDID: "did:plc:reposter", DetectedAt: time.Now()},
			},
		},
		followers: map[string][]atproto.Follower{
			"reposter.test": {{DID: "did:plc:follower2", Handle: "follower2.test"}},
		},
	}
	builder := &profile.Builder{Posts: fakePostFetcher{posts: nil}}

	amp := &Amplification{
		Store:           s,
		Client:          client,
		Builder:         builder,
		Pool:            NewPool(2, nil),
		ProtectedDID:    "did:plc:protected",
		ProtectedHandle: "protected.test",
	}

	if err := amp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := s.scores["did:plc:follower2"]; ok {
		t.Error("expected repost amplifiers to not trigger follower fan-out")
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(1, nil)
	var ran bool
	p.Go(func() { panic("boom") })
	p.Go(func() { ran = true })
	p.Wait()
	if !ran {
		t.Error("expected the pool to keep running tasks after a prior task panicked")
	}
}
