package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/auth"
	"github.com/jornet-server/internal/captoken"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
	"github.com/jornet-server/internal/integrity"
	"github.com/jornet-server/internal/service"
	"github.com/jornet-server/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCache is an in-process ScoreCache that can be told to fail.
type fakeCache struct {
	mu     sync.Mutex
	seen   map[string]bool
	best   map[uuid.UUID]map[uuid.UUID]domain.BestScore
	fail   bool
	resets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		seen: make(map[string]bool),
		best: make(map[uuid.UUID]map[uuid.UUID]domain.BestScore),
	}
}

var errCacheDown = errors.New("cache down")

func (c *fakeCache) SeenSubmission(ctx context.Context, digest string, _ time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return false, errCacheDown
	}
	if c.seen[digest] {
		return true, nil
	}
	c.seen[digest] = true
	return false, nil
}

func (c *fakeCache) ForgetSubmission(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, digest)
	return nil
}

func (c *fakeCache) marked(digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[digest]
}

func (c *fakeCache) RecordScore(_ context.Context, leaderboardID uuid.UUID, best domain.BestScore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errCacheDown
	}
	board := c.best[leaderboardID]
	if board == nil {
		board = make(map[uuid.UUID]domain.BestScore)
		c.best[leaderboardID] = board
	}
	if current, ok := board[best.PlayerID]; !ok || best.Score > current.Score {
		board[best.PlayerID] = best
	}
	return nil
}

func (c *fakeCache) Top(_ context.Context, leaderboardID uuid.UUID, n int) ([]domain.RankedEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errCacheDown
	}
	var all []domain.BestScore
	for _, b := range c.best[leaderboardID] {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > n {
		all = all[:n]
	}
	entries := make([]domain.RankedEntry, len(all))
	for i, b := range all {
		entries[i] = domain.RankedEntry{Rank: int64(i + 1), Player: b.Player, Score: b.Score}
	}
	return entries, nil
}

func (c *fakeCache) Reset(_ context.Context, leaderboardID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.best, leaderboardID)
	c.resets++
	return nil
}

type recordingHub struct {
	mu     sync.Mutex
	events []domain.ScoreEvent
}

func (h *recordingHub) BroadcastScore(event domain.ScoreEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

type harness struct {
	store        *memory.Store
	engine       *auth.Engine
	auth         *service.AuthService
	players      *service.PlayerService
	leaderboards *service.LeaderboardService
	scores       *service.ScoreService
	cache        *fakeCache
	hub          *recordingHub
	cfg          *config.ScoresConfig
}

func newHarness(t *testing.T, withCache bool) *harness {
	t.Helper()
	_, private, err := captoken.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	engine, err := auth.NewEngine(auth.Config{PrivateKey: private})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	h := &harness{
		store:  memory.New(),
		engine: engine,
		hub:    &recordingHub{},
		cfg:    &config.DefaultConfig().Scores,
	}
	var cache service.ScoreCache
	if withCache {
		h.cache = newFakeCache()
		cache = h.cache
	}
	logger := discardLogger()
	h.auth = service.NewAuthService(h.store, engine, logger)
	h.players = service.NewPlayerService(h.store, logger)
	h.leaderboards = service.NewLeaderboardService(h.store, cache, logger)
	h.scores = service.NewScoreService(h.store, cache, h.cfg, logger)
	h.scores.SetHub(h.hub)
	return h
}

// signIn runs the UUID handshake and returns the verified admin.
func (h *harness) signIn(t *testing.T) domain.AdminAccount {
	t.Helper()
	token, err := h.auth.ByUUID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ByUUID: %v", err)
	}
	admin, err := h.engine.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return admin
}

func (h *harness) setup(t *testing.T) (domain.AdminAccount, *domain.CreatedLeaderboard, *domain.Player) {
	t.Helper()
	ctx := context.Background()
	admin := h.signIn(t)
	lb, err := h.leaderboards.Create(ctx, admin, domain.CreateLeaderboardRequest{Name: "arcade"})
	if err != nil {
		t.Fatalf("Create leaderboard: %v", err)
	}
	name := "Ada"
	player, err := h.players.Create(ctx, &name)
	if err != nil {
		t.Fatalf("Create player: %v", err)
	}
	return admin, lb, player
}

func signed(player *domain.Player, lbKey uuid.UUID, score float32, meta *string, timestamp int64) integrity.Submission {
	sub := integrity.Submission{Score: score, Player: player.ID, Meta: meta, Timestamp: timestamp}
	sub.Sign(player.Key, lbKey)
	return sub
}

func TestScenario_SubmitAndRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, lb, player := h.setup(t)

	if lb.Name != "arcade" || lb.Key == uuid.Nil || lb.ID == uuid.Nil {
		t.Fatalf("created leaderboard = %+v", lb)
	}

	sub := signed(player, lb.Key, 543.21, nil, 1700000000)
	if err := h.scores.Submit(ctx, lb.ID, sub); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	views, err := h.scores.List(ctx, lb.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("List returned %d rows, want 1", len(views))
	}
	got := views[0]
	if got.Score != 543.21 || got.Player != "Ada" || got.Meta != nil || got.Timestamp != "2023-11-14T22:13:20Z" {
		t.Errorf("row = %+v", got)
	}
}

func TestScenario_DuplicateSubmission(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		name := "store only"
		if withCache {
			name = "with cache"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, withCache)
			_, lb, player := h.setup(t)

			sub := signed(player, lb.Key, 543.21, nil, 1700000000)
			if err := h.scores.Submit(ctx, lb.ID, sub); err != nil {
				t.Fatalf("first Submit: %v", err)
			}
			if err := h.scores.Submit(ctx, lb.ID, sub); !errors.Is(err, domain.ErrDuplicateSubmission) {
				t.Fatalf("second Submit: got %v, want ErrDuplicateSubmission", err)
			}

			views, err := h.scores.List(ctx, lb.ID)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(views) != 1 {
				t.Errorf("%d rows persisted, want 1", len(views))
			}
		})
	}
}

func TestScenario_LeaderboardKeyMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, lb, player := h.setup(t)

	sub := signed(player, uuid.New(), 543.21, nil, 1700000000)
	if err := h.scores.Submit(ctx, lb.ID, sub); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("Submit with wrong leaderboard key: got %v, want ErrSignatureInvalid", err)
	}

	views, err := h.scores.List(ctx, lb.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("%d rows persisted, want 0", len(views))
	}
	if len(h.hub.events) != 0 {
		t.Errorf("rejected score was broadcast")
	}
}

func TestSubmit_CrossLeaderboardReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	admin, lbA, player := h.setup(t)
	lbB, err := h.leaderboards.Create(ctx, admin, domain.CreateLeaderboardRequest{Name: "other"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sub := signed(player, lbA.Key, 100, nil, 1700000000)
	if err := h.scores.Submit(ctx, lbA.ID, sub); err != nil {
		t.Fatalf("Submit to A: %v", err)
	}
	if err := h.scores.Submit(ctx, lbB.ID, sub); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Errorf("replay to B: got %v, want ErrSignatureInvalid", err)
	}
}

func TestSubmit_VerificationOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, lb, player := h.setup(t)

	unknownPlayer := signed(&domain.Player{ID: uuid.New(), Key: uuid.New()}, lb.Key, 1, nil, 1)
	if err := h.scores.Submit(ctx, lb.ID, unknownPlayer); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Errorf("unknown player: got %v, want ErrPlayerNotFound", err)
	}

	// A bad signature for an unknown leaderboard reports the leaderboard.
	forged := signed(player, uuid.New(), 1, nil, 1)
	if err := h.scores.Submit(ctx, uuid.New(), forged); !errors.Is(err, domain.ErrLeaderboardNotFound) {
		t.Errorf("unknown leaderboard: got %v, want ErrLeaderboardNotFound", err)
	}

	tampered := signed(player, lb.Key, 10, nil, 1700000000)
	tampered.Score = 10000
	if err := h.scores.Submit(ctx, lb.ID, tampered); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Errorf("tampered score: got %v, want ErrSignatureInvalid", err)
	}
}

func TestSubmit_HistoryPerPlayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, lb, player := h.setup(t)

	for i := int64(0); i < 3; i++ {
		if err := h.scores.Submit(ctx, lb.ID, signed(player, lb.Key, 50, nil, 1700000000+i)); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	views, err := h.scores.List(ctx, lb.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 3 {
		t.Errorf("%d rows, want 3 (same score, different timestamps)", len(views))
	}
}

func TestSubmit_TimestampWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, lb, player := h.setup(t)
	now := time.Unix(1700000000, 0)
	h.scores.SetClock(func() time.Time { return now })

	old := signed(player, lb.Key, 1, nil, now.Add(-365*24*time.Hour).Unix())
	if err := h.scores.Submit(ctx, lb.ID, old); err != nil {
		t.Fatalf("year-old score with window disabled: %v", err)
	}

	h.cfg.MaxAge = time.Hour
	h.cfg.MaxFutureSkew = time.Minute

	tests := []struct {
		name string
		at   time.Time
		want error
	}{
		{"fresh", now.Add(-time.Minute), nil},
		{"too old", now.Add(-2 * time.Hour), domain.ErrStaleSubmission},
		{"slightly ahead", now.Add(30 * time.Second), nil},
		{"far future", now.Add(time.Hour), domain.ErrStaleSubmission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.scores.Submit(ctx, lb.ID, signed(player, lb.Key, 2, nil, tt.at.Unix()))
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit: got %v, want %v", err, tt.want)
			}
		})
	}

	// Signature failures win over the window.
	forged := signed(player, uuid.New(), 3, nil, now.Add(-2*time.Hour).Unix())
	if err := h.scores.Submit(ctx, lb.ID, forged); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Errorf("forged stale score: got %v, want ErrSignatureInvalid", err)
	}
}

func TestSubmit_BroadcastsWithoutKeys(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, lb, player := h.setup(t)
	meta := "lap 3"

	if err := h.scores.Submit(ctx, lb.ID, signed(player, lb.Key, 77, &meta, 1700000000)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(h.hub.events) != 1 {
		t.Fatalf("%d events broadcast, want 1", len(h.hub.events))
	}
	event := h.hub.events[0]
	if event.LeaderboardID != lb.ID || event.Player != "Ada" || event.Score != 77 || *event.Meta != meta {
		t.Errorf("event = %+v", event)
	}
}

func TestSubmit_CacheFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, lb, player := h.setup(t)
	h.cache.fail = true

	sub := signed(player, lb.Key, 5, nil, 1700000000)
	if err := h.scores.Submit(ctx, lb.ID, sub); err != nil {
		t.Fatalf("Submit with cache down: %v", err)
	}
	if err := h.scores.Submit(ctx, lb.ID, sub); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Errorf("duplicate with cache down: got %v, want ErrDuplicateSubmission", err)
	}

	top, err := h.scores.Top(ctx, lb.ID, 10)
	if err != nil {
		t.Fatalf("Top with cache down: %v", err)
	}
	if len(top) != 1 || top[0].Player != "Ada" {
		t.Errorf("Top = %+v", top)
	}
}

func TestSubmit_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, lb, player := h.setup(t)
	sub := signed(player, lb.Key, 9, nil, 1700000000)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.scores.Submit(ctx, lb.ID, sub)
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
		} else if !errors.Is(err, domain.ErrDuplicateSubmission) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Errorf("%d submissions accepted, want 1", accepted)
	}
}

// droppingStore cancels the request on its first insert and stores
// nothing, the way a client disconnecting mid-write does.
type droppingStore struct {
	*memory.Store
	cancel  context.CancelFunc
	inserts int
}

func (s *droppingStore) InsertScore(ctx context.Context, score domain.Score) error {
	s.inserts++
	if s.inserts == 1 {
		s.cancel()
		return ctx.Err()
	}
	return s.Store.InsertScore(ctx, score)
}

func TestSubmit_CancelledInsertReleasesMarker(t *testing.T) {
	h := newHarness(t, true)
	_, lb, player := h.setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &droppingStore{Store: h.store, cancel: cancel}
	scores := service.NewScoreService(store, h.cache, h.cfg, discardLogger())

	sub := signed(player, lb.Key, 543.21, nil, 1700000000)
	if err := scores.Submit(ctx, lb.ID, sub); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit with dropped client: got %v, want context.Canceled", err)
	}
	digest := service.ReplayDigest(domain.Score{Leaderboard: lb.ID, Player: player.ID, Score: 543.21, Timestamp: 1700000000})
	if h.cache.marked(digest) {
		t.Error("replay marker kept after a failed insert")
	}

	if err := scores.Submit(context.Background(), lb.ID, sub); err != nil {
		t.Fatalf("retry after dropped client: %v", err)
	}
	views, err := h.scores.List(context.Background(), lb.ID)
	if err != nil || len(views) != 1 {
		t.Errorf("rows after retry = %+v, %v; want 1", views, err)
	}
}

func TestSubmit_MarkerWithoutRowIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, lb, player := h.setup(t)

	digest := service.ReplayDigest(domain.Score{Leaderboard: lb.ID, Player: player.ID, Score: 12, Timestamp: 1700000000})
	if _, err := h.cache.SeenSubmission(ctx, digest, time.Hour); err != nil {
		t.Fatalf("SeenSubmission: %v", err)
	}

	sub := signed(player, lb.Key, 12, nil, 1700000000)
	if err := h.scores.Submit(ctx, lb.ID, sub); err != nil {
		t.Fatalf("Submit with orphaned marker: %v", err)
	}
	if err := h.scores.Submit(ctx, lb.ID, sub); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Errorf("second Submit: got %v, want ErrDuplicateSubmission", err)
	}
}

// blindStore never sees existing rows in the pre-check, so only the
// insert can report the duplicate.
type blindStore struct {
	*memory.Store
	inserts int
}

func (s *blindStore) ScoreExists(context.Context, domain.Score) (bool, error) {
	return false, nil
}

func (s *blindStore) InsertScore(ctx context.Context, score domain.Score) error {
	s.inserts++
	return s.Store.InsertScore(ctx, score)
}

func TestSubmit_InsertReportsDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, lb, player := h.setup(t)
	store := &blindStore{Store: h.store}
	scores := service.NewScoreService(store, nil, h.cfg, discardLogger())
	scores.SetHub(h.hub)

	sub := signed(player, lb.Key, 8, nil, 1700000000)
	if err := scores.Submit(ctx, lb.ID, sub); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := scores.Submit(ctx, lb.ID, sub); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("second Submit: got %v, want ErrDuplicateSubmission", err)
	}
	if store.inserts != 2 {
		t.Errorf("InsertScore calls = %d, want 2", store.inserts)
	}
	if len(h.hub.events) != 1 {
		t.Errorf("%d events broadcast, want 1", len(h.hub.events))
	}
}

func TestTop(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		t.Run(map[bool]string{false: "store", true: "cache"}[withCache], func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, withCache)
			_, lb, ada := h.setup(t)
			graceName := "Grace"
			grace, err := h.players.Create(ctx, &graceName)
			if err != nil {
				t.Fatalf("Create player: %v", err)
			}

			submissions := []integrity.Submission{
				signed(ada, lb.Key, 10, nil, 1),
				signed(ada, lb.Key, 90, nil, 2),
				signed(grace, lb.Key, 50, nil, 3),
			}
			for _, sub := range submissions {
				if err := h.scores.Submit(ctx, lb.ID, sub); err != nil {
					t.Fatalf("Submit: %v", err)
				}
			}

			top, err := h.scores.Top(ctx, lb.ID, 0)
			if err != nil {
				t.Fatalf("Top: %v", err)
			}
			want := []domain.RankedEntry{
				{Rank: 1, Player: "Ada", Score: 90},
				{Rank: 2, Player: "Grace", Score: 50},
			}
			if len(top) != len(want) {
				t.Fatalf("Top = %+v, want %+v", top, want)
			}
			for i := range want {
				if top[i] != want[i] {
					t.Errorf("Top[%d] = %+v, want %+v", i, top[i], want[i])
				}
			}

			top, err = h.scores.Top(ctx, lb.ID, 1)
			if err != nil || len(top) != 1 {
				t.Errorf("Top(1) = %+v, %v", top, err)
			}
		})
	}
}

func TestTop_EmptyCacheReadsStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, lb, player := h.setup(t)

	// Rows the cache never saw, as after a Redis flush
	if err := h.store.InsertScore(ctx, domain.Score{Leaderboard: lb.ID, Player: player.ID, Score: 42, Timestamp: 1}); err != nil {
		t.Fatalf("InsertScore: %v", err)
	}

	top, err := h.scores.Top(ctx, lb.ID, 5)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 1 || top[0].Player != "Ada" || top[0].Score != 42 {
		t.Errorf("Top = %+v", top)
	}
}

func TestQueries_UnknownLeaderboard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	if _, err := h.scores.List(ctx, uuid.New()); !errors.Is(err, domain.ErrLeaderboardNotFound) {
		t.Errorf("List: got %v", err)
	}
	if _, err := h.scores.Top(ctx, uuid.New(), 5); !errors.Is(err, domain.ErrLeaderboardNotFound) {
		t.Errorf("Top: got %v", err)
	}
}

func TestPlayerNames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	empty := ""
	spaces := "   "
	for _, name := range []*string{nil, &empty, &spaces} {
		player, err := h.players.Create(ctx, name)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if player.Name == "" || player.Name == spaces {
			t.Errorf("generated name = %q", player.Name)
		}
	}

	exact := "  Ada Lovelace 🚀 "
	player, err := h.players.Create(ctx, &exact)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if player.Name != exact {
		t.Errorf("name = %q, want %q", player.Name, exact)
	}
	if player.Key == uuid.Nil || player.ID == uuid.Nil || player.Key == player.ID {
		t.Errorf("player id/key = %s/%s", player.ID, player.Key)
	}
}

func TestLeaderboards_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	owner, lb, player := h.setup(t)
	stranger := h.signIn(t)

	for i := int64(0); i < 2; i++ {
		if err := h.scores.Submit(ctx, lb.ID, signed(player, lb.Key, 1, nil, i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	list, err := h.leaderboards.List(ctx, owner)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != lb.ID || list[0].Scores != 2 {
		t.Errorf("List = %+v", list)
	}
	list, err = h.leaderboards.List(ctx, stranger)
	if err != nil || len(list) != 0 {
		t.Errorf("stranger List = %+v, %v", list, err)
	}

	if err := h.leaderboards.DeleteAllScores(ctx, stranger, lb.ID); !errors.Is(err, domain.ErrLeaderboardNotFound) {
		t.Errorf("stranger DeleteAllScores: got %v, want ErrLeaderboardNotFound", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.leaderboards.DeleteAllScores(ctx, owner, lb.ID); err != nil {
			t.Fatalf("DeleteAllScores #%d: %v", i+1, err)
		}
	}
	if h.cache.resets != 2 {
		t.Errorf("cache resets = %d, want 2", h.cache.resets)
	}
	views, err := h.scores.List(ctx, lb.ID)
	if err != nil || len(views) != 0 {
		t.Errorf("scores after delete = %+v, %v", views, err)
	}

	if _, err := h.leaderboards.Create(ctx, owner, domain.CreateLeaderboardRequest{Name: "  "}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Create with blank name: got %v, want ErrInvalidRequest", err)
	}
}

func TestAuth_UUIDHandshake(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	id := uuid.New()

	for i := 0; i < 2; i++ {
		token, err := h.auth.ByUUID(ctx, id)
		if err != nil {
			t.Fatalf("ByUUID #%d: %v", i+1, err)
		}
		admin, err := h.engine.Verify(token)
		if err != nil || admin.ID != id {
			t.Fatalf("Verify = %v, %v; want %s", admin, err, id)
		}
	}

	identity, err := h.auth.WhoAmI(ctx, domain.AdminAccount{ID: id})
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if identity.Admin.ID != id || identity.GitHub != nil {
		t.Errorf("WhoAmI = %+v", identity)
	}

	if _, err := h.auth.ByUUID(ctx, uuid.Nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("ByUUID(nil uuid): got %v", err)
	}
}

func TestAuth_GitHub(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	user := domain.GitHubUser{ID: 583231, Login: "octocat"}

	first, err := h.auth.ByGitHub(ctx, user)
	if err != nil {
		t.Fatalf("ByGitHub: %v", err)
	}
	second, err := h.auth.ByGitHub(ctx, user)
	if err != nil {
		t.Fatalf("second ByGitHub: %v", err)
	}
	adminA, err := h.engine.Verify(first)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	adminB, err := h.engine.Verify(second)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if adminA.ID != adminB.ID {
		t.Errorf("GitHub sign-ins map to %s and %s, want the same admin", adminA.ID, adminB.ID)
	}

	identity, err := h.auth.WhoAmI(ctx, adminA)
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if identity.GitHub == nil || *identity.GitHub != user {
		t.Errorf("WhoAmI github = %+v, want %+v", identity.GitHub, user)
	}

	// The UUID handshake is closed for GitHub-linked accounts.
	if _, err := h.auth.ByUUID(ctx, adminA.ID); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("ByUUID on linked account: got %v, want ErrUnauthenticated", err)
	}
}

// lateLinkStore misses an existing link on the first lookup, as when a
// concurrent callback links the account between lookup and link.
type lateLinkStore struct {
	*memory.Store
	lookups int
}

func (s *lateLinkStore) AdminByGitHub(ctx context.Context, githubID int64) (uuid.UUID, error) {
	s.lookups++
	if s.lookups == 1 {
		return uuid.Nil, domain.ErrAdminNotFound
	}
	return s.Store.AdminByGitHub(ctx, githubID)
}

func TestAuth_GitHubConcurrentLink(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	user := domain.GitHubUser{ID: 583231, Login: "octocat"}

	first, err := h.auth.ByGitHub(ctx, user)
	if err != nil {
		t.Fatalf("ByGitHub: %v", err)
	}
	winner, err := h.engine.Verify(first)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	racing := service.NewAuthService(&lateLinkStore{Store: h.store}, h.engine, discardLogger())
	token, err := racing.ByGitHub(ctx, user)
	if err != nil {
		t.Fatalf("ByGitHub after losing the link: %v", err)
	}
	admin, err := h.engine.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if admin.ID != winner.ID {
		t.Errorf("signed in as %s, want the linked admin %s", admin.ID, winner.ID)
	}
}

func TestReplayDigest(t *testing.T) {
	score := domain.Score{Leaderboard: uuid.New(), Player: uuid.New(), Score: 1.5, Timestamp: 10}
	meta := "ignored"
	withMeta := score
	withMeta.Meta = &meta
	if service.ReplayDigest(score) != service.ReplayDigest(withMeta) {
		t.Error("digest depends on meta; uniqueness is on the tuple without meta")
	}
	later := score
	later.Timestamp++
	if service.ReplayDigest(score) == service.ReplayDigest(later) {
		t.Error("digest ignores timestamp")
	}
	if len(service.ReplayDigest(score)) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(service.ReplayDigest(score)))
	}
}
