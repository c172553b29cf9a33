// internal/queue/manager.go
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/models"
	"github.com/vantage-gg/arena/internal/monitoring"
	"github.com/vantage-gg/arena/internal/region"
	"github.com/vantage-gg/arena/internal/registry"
)

// LobbyCreator forms a lobby from a full group of matched sessions. Returning
// an error reverts the group to searching with its queue position intact.
type LobbyCreator interface {
	CreateFromMatch(ctx context.Context, group []models.QueueSession) (*models.Lobby, error)
}

// Archiver persists session records to the durable store. A nil Archiver is a
// no-op, which keeps the matching path testable without a database.
type Archiver interface {
	SaveSession(ctx context.Context, s *models.QueueSession) error
}

// Config tunes the matching behavior.
type Config struct {
	// ModeCapacities maps game_mode to group size. Modes not listed use
	// DefaultCapacity.
	ModeCapacities  map[string]int
	DefaultCapacity int
	// WorkersPerRegion is the fixed matching worker pool size per region.
	WorkersPerRegion int
	// TickInterval bounds how long a bucket can sit unscanned.
	TickInterval time.Duration
}

func (c Config) capacity(mode string) int {
	if n, ok := c.ModeCapacities[mode]; ok && n >= 1 {
		return n
	}
	if c.DefaultCapacity >= 1 {
		return c.DefaultCapacity
	}
	return 2
}

type bucketKey struct {
	gameID   string
	gameMode string
	region   string
}

// bucket holds the FIFO of searching sessions for one (game, mode, region).
// Each bucket has its own mutex so different buckets match fully in parallel.
type bucket struct {
	mu       sync.Mutex
	key      bucketKey
	sessions []*models.QueueSession // ordered by RequestedAt
}

// Manager owns all queue sessions and drives matching. Public operations
// never block on a match scan; scans run on per-region workers.
type Manager struct {
	cfg      Config
	router   region.Router
	registry *registry.SessionRegistry
	creator  LobbyCreator
	archiver Archiver
	logger   *log.Logger

	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	sessions map[uuid.UUID]*models.QueueSession // session_id -> session
	active   map[activeKey]uuid.UUID            // (player, game) -> searching session
	notify   map[string]chan struct{}           // region -> wake signal

	stop chan struct{}
	wg   sync.WaitGroup
}

type activeKey struct {
	playerID uuid.UUID
	gameID   string
}

// NewManager wires a Manager. creator is required; archiver may be nil.
func NewManager(cfg Config, reg *registry.SessionRegistry, creator LobbyCreator, archiver Archiver, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.WorkersPerRegion <= 0 {
		cfg.WorkersPerRegion = 1
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		creator:  creator,
		archiver: archiver,
		logger:   logger,
		buckets:  make(map[bucketKey]*bucket),
		sessions: make(map[uuid.UUID]*models.QueueSession),
		active:   make(map[activeKey]uuid.UUID),
		notify:   make(map[string]chan struct{}),
		stop:     make(chan struct{}),
	}
}

// JoinRequest carries one player's search parameters.
type JoinRequest struct {
	PlayerID uuid.UUID
	GameID   string
	GameMode string
	Region   string // optional; empty resolves via RTTHints
	RTTHints map[string]int
	Stake    int64
	Currency string
}

// JoinQueue creates a searching session. A player may hold at most one
// searching session per game.
func (m *Manager) JoinQueue(ctx context.Context, req JoinRequest) (*models.QueueSession, error) {
	if req.GameID == "" || req.GameMode == "" {
		return nil, fmt.Errorf("%w: game_id and game_mode are required", apperr.ErrValidation)
	}
	if req.Stake < 0 {
		return nil, fmt.Errorf("%w: stake must not be negative", apperr.ErrValidation)
	}
	resolved, err := m.router.Resolve(req.Region, req.RTTHints)
	if err != nil {
		monitoring.TrackQueueOperation("join", "invalid_region")
		return nil, err
	}

	s := &models.QueueSession{
		ID:          uuid.New(),
		PlayerID:    req.PlayerID,
		GameID:      req.GameID,
		GameMode:    req.GameMode,
		Region:      resolved,
		Stake:       req.Stake,
		Currency:    req.Currency,
		RequestedAt: time.Now(),
		Status:      models.SessionSearching,
	}

	key := bucketKey{req.GameID, req.GameMode, resolved}

	m.mu.Lock()
	if _, exists := m.active[activeKey{req.PlayerID, req.GameID}]; exists {
		m.mu.Unlock()
		monitoring.TrackQueueOperation("join", "already_queued")
		return nil, fmt.Errorf("%w: game %s", apperr.ErrAlreadyQueued, req.GameID)
	}
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{key: key}
		m.buckets[key] = b
	}
	m.sessions[s.ID] = s
	m.active[activeKey{req.PlayerID, req.GameID}] = s.ID
	m.mu.Unlock()

	// s is not yet visible to the matching workers; register and archive
	// before the bucket insert publishes it.
	m.registry.RegisterSession(s.ID, s.PlayerID)
	m.archiveSession(ctx, s)

	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	depth := len(b.sessions)
	out := copySession(s)
	b.mu.Unlock()

	monitoring.TrackQueueOperation("join", "ok")
	monitoring.SetQueueDepth(key.gameID, key.gameMode, key.region, depth)
	m.logger.WithFields(log.Fields{
		"session_id": s.ID, "player_id": s.PlayerID,
		"game_id": s.GameID, "game_mode": s.GameMode, "region": s.Region,
	}).Info("queue: session created")

	m.wake(resolved)
	return out, nil
}

// LeaveQueue withdraws a session. Only the session owner may leave.
// Leaving an already-left session is a no-op success so retried client
// requests stay safe.
func (m *Manager) LeaveQueue(ctx context.Context, sessionID, requesterID uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		monitoring.TrackQueueOperation("leave", "not_found")
		return fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	// Ownership is the registry's call; terminal sessions are already
	// unregistered, so fall back to the record for the idempotent path.
	if !m.registry.IsSessionOwner(sessionID, requesterID) && s.PlayerID != requesterID {
		monitoring.TrackQueueOperation("leave", "forbidden")
		return fmt.Errorf("%w: session %s", apperr.ErrForbidden, sessionID)
	}

	b := m.bucketFor(s)
	b.mu.Lock()
	switch s.Status {
	case models.SessionLeft:
		b.mu.Unlock()
		monitoring.TrackQueueOperation("leave", "noop")
		return nil
	case models.SessionSearching:
		s.Status = models.SessionLeft
		b.remove(sessionID)
	default:
		// Matched or expired sessions are terminal for the queue.
		b.mu.Unlock()
		monitoring.TrackQueueOperation("leave", "terminal")
		return fmt.Errorf("%w: session %s is %s", apperr.ErrNotFound, sessionID, s.Status)
	}
	depth := len(b.sessions)
	b.mu.Unlock()

	m.mu.Lock()
	delete(m.active, activeKey{s.PlayerID, s.GameID})
	m.mu.Unlock()
	m.registry.UnregisterSession(sessionID)
	m.archiveSession(ctx, s)

	monitoring.TrackQueueOperation("leave", "ok")
	monitoring.SetQueueDepth(b.key.gameID, b.key.gameMode, b.key.region, depth)
	m.logger.WithField("session_id", sessionID).Info("queue: session left")
	return nil
}

// Session returns a snapshot of one session.
func (m *Manager) Session(sessionID uuid.UUID) (*models.QueueSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	b := m.bucketFor(s)
	b.mu.Lock()
	defer b.mu.Unlock()
	return copySession(s), nil
}

// Start launches the fixed per-region matching workers. Matching also runs on
// a timer tick so a bucket never sits unscanned behind a missed wakeup.
func (m *Manager) Start(ctx context.Context) {
	for _, r := range region.All() {
		ch := m.wakeChan(r)
		for i := 0; i < m.cfg.WorkersPerRegion; i++ {
			m.wg.Add(1)
			go m.worker(ctx, r, ch)
		}
	}
}

// Stop terminates the workers and waits for them to exit.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context, reg string, wake <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-wake:
		case <-ticker.C:
		}
		m.MatchRegion(ctx, reg)
	}
}

// MatchRegion runs one matching pass over every bucket in the region.
func (m *Manager) MatchRegion(ctx context.Context, reg string) {
	m.mu.Lock()
	var todo []*bucket
	for k, b := range m.buckets {
		if k.region == reg {
			todo = append(todo, b)
		}
	}
	m.mu.Unlock()
	for _, b := range todo {
		m.matchBucket(ctx, b)
	}
}

// matchBucket greedily groups the oldest searching sessions up to the mode's
// capacity. A selected group is never split; if lobby creation fails the
// whole group reverts to searching with its original requested_at, so nobody
// loses queue position.
func (m *Manager) matchBucket(ctx context.Context, b *bucket) {
	capacity := m.cfg.capacity(b.key.gameMode)
	for {
		b.mu.Lock()
		if len(b.sessions) < capacity {
			monitoring.SetQueueDepth(b.key.gameID, b.key.gameMode, b.key.region, len(b.sessions))
			b.mu.Unlock()
			return
		}
		group := make([]models.QueueSession, 0, capacity)
		members := b.sessions[:capacity]
		for _, s := range members {
			s.Status = models.SessionMatched
			group = append(group, *s)
		}
		b.sessions = append([]*models.QueueSession(nil), b.sessions[capacity:]...)
		b.mu.Unlock()

		lobby, err := m.creator.CreateFromMatch(ctx, group)
		if err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"game_id": b.key.gameID, "region": b.key.region,
			}).Error("queue: lobby creation failed, reverting group")
			m.revert(b, members)
			monitoring.TrackQueueOperation("match", "revert")
			return
		}

		now := time.Now()
		for _, s := range group {
			m.mu.Lock()
			delete(m.active, activeKey{s.PlayerID, s.GameID})
			m.mu.Unlock()
			m.registry.UnregisterSession(s.ID)
			m.archiveSession(ctx, &s)
			monitoring.TrackMatchWait(s.GameID, s.Region, now.Sub(s.RequestedAt))
		}
		monitoring.TrackQueueOperation("match", "ok")
		m.logger.WithFields(log.Fields{
			"lobby_id": lobby.ID, "game_id": b.key.gameID,
			"region": b.key.region, "size": len(group),
		}).Info("queue: group matched into lobby")
	}
}

// revert puts a failed group back at its original queue position.
func (m *Manager) revert(b *bucket, members []*models.QueueSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range members {
		s.Status = models.SessionSearching
	}
	b.sessions = append(b.sessions, members...)
	sort.Slice(b.sessions, func(i, j int) bool {
		return b.sessions[i].RequestedAt.Before(b.sessions[j].RequestedAt)
	})
}

func (m *Manager) bucketFor(s *models.QueueSession) *bucket {
	key := bucketKey{s.GameID, s.GameMode, s.Region}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{key: key}
		m.buckets[key] = b
	}
	return b
}

func (m *Manager) wake(reg string) {
	select {
	case m.wakeChan(reg) <- struct{}{}:
	default:
	}
}

func (m *Manager) wakeChan(reg string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.notify[reg]
	if !ok {
		ch = make(chan struct{}, 1)
		m.notify[reg] = ch
	}
	return ch
}

func (m *Manager) archiveSession(ctx context.Context, s *models.QueueSession) {
	if m.archiver == nil {
		return
	}
	if err := m.archiver.SaveSession(ctx, s); err != nil {
		m.logger.WithError(err).WithField("session_id", s.ID).Warn("queue: session archive failed")
	}
}

// remove drops a session from the FIFO. Caller holds b.mu.
func (b *bucket) remove(sessionID uuid.UUID) {
	for i, s := range b.sessions {
		if s.ID == sessionID {
			b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
			return
		}
	}
}

func copySession(s *models.QueueSession) *models.QueueSession {
	cp := *s
	return &cp
}
