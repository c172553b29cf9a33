// internal/lobbies/coordinator.go
package lobbies

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/events"
	"github.com/vantage-gg/arena/internal/models"
	"github.com/vantage-gg/arena/internal/monitoring"
	"github.com/vantage-gg/arena/internal/queue"
	"github.com/vantage-gg/arena/internal/region"
	"github.com/vantage-gg/arena/internal/registry"
)

// Settler is the prize-pool side of the lobby lifecycle. The coordinator
// never computes money; it only tells the ledger when escrow membership
// changes and when a terminal transition makes settlement legal.
type Settler interface {
	CreatePool(ctx context.Context, lobbyID uuid.UUID, currency string, contributions map[uuid.UUID]int64, total int64) (*models.PrizePool, error)
	Contribute(ctx context.Context, lobbyID, playerID uuid.UUID, amount int64) error
	Withdraw(ctx context.Context, lobbyID, playerID uuid.UUID) error
	RefundByLobby(ctx context.Context, lobbyID uuid.UUID) error
	DistributeByLobby(ctx context.Context, lobbyID uuid.UUID, allocations map[uuid.UUID]int64) error
	HasPool(lobbyID uuid.UUID) bool
}

// Archiver persists lobby records. Nil is a no-op.
type Archiver interface {
	SaveLobby(ctx context.Context, l *models.Lobby) error
}

// record pairs a lobby with its serialization point. All transitions for one
// lobby_id happen under this mutex, in order; no two transitions interleave.
type record struct {
	mu    sync.Mutex
	lobby *models.Lobby
	stake int64 // per-seat stake for direct-create staked lobbies
}

// Coordinator owns the lobby state machine.
type Coordinator struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*record

	registry *registry.SessionRegistry
	settler  Settler
	archiver Archiver
	bus      *events.Bus
	logger   *log.Logger
	router   region.Router
}

// NewCoordinator wires a Coordinator. settler, archiver and bus may be nil.
func NewCoordinator(reg *registry.SessionRegistry, archiver Archiver, bus *events.Bus, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{
		lobbies:  make(map[uuid.UUID]*record),
		registry: reg,
		archiver: archiver,
		bus:      bus,
		logger:   logger,
	}
}

// SetSettler attaches the prize-pool ledger. Wired post-construction because
// the ledger reads lobby state back through the coordinator.
func (c *Coordinator) SetSettler(s Settler) { c.settler = s }

// CreateRequest is a direct "create lobby" call.
type CreateRequest struct {
	CreatorID uuid.UUID
	GameID    string
	GameMode  string
	Region    string
	Capacity  int
	Stake     int64 // per-seat, minor units; 0 means unstaked
	Currency  string
}

// Create builds an Open lobby with the creator seated.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*models.Lobby, error) {
	if req.GameID == "" || req.GameMode == "" {
		return nil, fmt.Errorf("%w: game_id and game_mode are required", apperr.ErrValidation)
	}
	if req.Capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be at least 1", apperr.ErrValidation)
	}
	if req.Stake < 0 {
		return nil, fmt.Errorf("%w: stake must not be negative", apperr.ErrValidation)
	}
	resolved, err := c.router.Resolve(req.Region, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	l := &models.Lobby{
		ID:        uuid.New(),
		GameID:    req.GameID,
		GameMode:  req.GameMode,
		Region:    resolved,
		CreatorID: req.CreatorID,
		Capacity:  req.Capacity,
		Members: []models.LobbyMember{
			{PlayerID: req.CreatorID, JoinedAt: now},
		},
		Status:    models.LobbyOpen,
		CreatedAt: now,
	}

	if req.Stake > 0 && c.settler != nil {
		_, err := c.settler.CreatePool(ctx, l.ID, req.Currency,
			map[uuid.UUID]int64{req.CreatorID: req.Stake}, req.Stake)
		if err != nil {
			return nil, fmt.Errorf("escrow creator stake: %w", err)
		}
	}

	c.mu.Lock()
	c.lobbies[l.ID] = &record{lobby: l, stake: req.Stake}
	c.mu.Unlock()

	c.registry.RegisterMember(l.ID, req.CreatorID)
	c.archive(ctx, l)
	monitoring.AddActiveLobby(l.GameID, l.Region, 1)
	c.publish(events.TypeLobbyFormed, l)
	c.logger.WithFields(log.Fields{
		"lobby_id": l.ID, "game_id": l.GameID, "region": l.Region,
	}).Info("lobby: created")
	return snapshot(l), nil
}

// CreateFromMatch forms a lobby from a matched queue group. The bucket
// guarantees every session shares (game, mode, region); the lobby's region
// therefore equals every member's resolved region. Implements
// queue.LobbyCreator.
func (c *Coordinator) CreateFromMatch(ctx context.Context, group []models.QueueSession) (*models.Lobby, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("%w: empty match group", apperr.ErrValidation)
	}
	first := group[0]

	now := time.Now()
	l := &models.Lobby{
		ID:           uuid.New(),
		GameID:       first.GameID,
		GameMode:     first.GameMode,
		Region:       first.Region,
		CreatorID:    first.PlayerID, // oldest session leads the lobby
		Capacity:     len(group),
		Status:       models.LobbyOpen,
		QueueSourced: true,
		CreatedAt:    now,
	}

	contributions := make(map[uuid.UUID]int64)
	var total int64
	currency := ""
	for _, s := range group {
		l.Members = append(l.Members, models.LobbyMember{PlayerID: s.PlayerID, JoinedAt: now})
		if s.Stake > 0 {
			contributions[s.PlayerID] = s.Stake
			total += s.Stake
			currency = s.Currency
		}
	}

	if total > 0 && c.settler != nil {
		if _, err := c.settler.CreatePool(ctx, l.ID, currency, contributions, total); err != nil {
			return nil, fmt.Errorf("escrow matched stakes: %w", err)
		}
	}

	c.mu.Lock()
	c.lobbies[l.ID] = &record{lobby: l}
	c.mu.Unlock()

	for _, m := range l.Members {
		c.registry.RegisterMember(l.ID, m.PlayerID)
	}
	c.archive(ctx, l)
	monitoring.AddActiveLobby(l.GameID, l.Region, 1)
	c.publish(events.TypeLobbyFormed, l)
	return snapshot(l), nil
}

var _ queue.LobbyCreator = (*Coordinator)(nil)

// Join seats a player in an Open lobby.
func (c *Coordinator) Join(ctx context.Context, lobbyID, playerID uuid.UUID) (*models.Lobby, error) {
	r, err := c.record(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	l := r.lobby
	if l.Status != models.LobbyOpen {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}
	if l.Full() {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby %s", apperr.ErrLobbyFull, lobbyID)
	}
	if l.Member(playerID) != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: already a member", apperr.ErrValidation)
	}

	if r.stake > 0 && c.settler != nil {
		if err := c.settler.Contribute(ctx, lobbyID, playerID, r.stake); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("escrow joining stake: %w", err)
		}
	}

	l.Members = append(l.Members, models.LobbyMember{PlayerID: playerID, JoinedAt: time.Now()})
	out := snapshot(l)
	r.mu.Unlock()

	c.registry.RegisterMember(lobbyID, playerID)
	c.archive(ctx, out)
	c.publish(events.TypeLobbyUpdate, out)
	return out, nil
}

// Leave removes a member. An emptied queue-sourced lobby auto-cancels; a
// leave during ready-check reverts the lobby to Open. The seat stays
// refillable from the queue while the lobby is Open.
func (c *Coordinator) Leave(ctx context.Context, lobbyID, playerID uuid.UUID) error {
	r, err := c.record(lobbyID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	l := r.lobby
	if !c.registry.IsMember(lobbyID, playerID) || l.Member(playerID) == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: not a member of lobby %s", apperr.ErrNotFound, lobbyID)
	}
	if l.Status.Terminal() || l.Status == models.LobbyInProgress {
		r.mu.Unlock()
		return fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}

	now := time.Now()
	for i := range l.Members {
		if l.Members[i].PlayerID == playerID {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			break
		}
	}
	if l.Status == models.LobbyOpen && c.settler != nil && c.settler.HasPool(lobbyID) {
		if err := c.settler.Withdraw(ctx, lobbyID, playerID); err != nil {
			c.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("lobby: stake withdraw failed")
		}
	}
	if l.Status == models.LobbyReadyCheck || l.Status == models.LobbyStarting {
		l.Status = models.LobbyOpen
	}

	autoCancel := len(l.Members) == 0 && l.QueueSourced
	if autoCancel {
		l.Status = models.LobbyCancelled
		l.EndedAt = &now
	}
	out := snapshot(l)
	r.mu.Unlock()

	c.registry.UnregisterMember(lobbyID, playerID)
	c.archive(ctx, out)

	if autoCancel {
		monitoring.AddActiveLobby(out.GameID, out.Region, -1)
		c.publish(events.TypeLobbyCancelled, out)
		c.settle(ctx, lobbyID)
	} else {
		c.publish(events.TypeLobbyUpdate, out)
	}
	return nil
}

// SetReady flips a member's ready flag. When the last seat readies up in a
// full lobby the state advances to ready_check; an unready during ready
// check reverts to Open.
func (c *Coordinator) SetReady(ctx context.Context, lobbyID, playerID uuid.UUID, ready bool) (*models.Lobby, error) {
	r, err := c.record(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	l := r.lobby
	if l.Status != models.LobbyOpen && l.Status != models.LobbyReadyCheck {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}
	m := l.Member(playerID)
	if m == nil || !c.registry.IsMember(lobbyID, playerID) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: not a member of lobby %s", apperr.ErrNotFound, lobbyID)
	}

	m.Ready = ready
	if ready && l.Status == models.LobbyOpen && l.Full() && l.AllReady() {
		l.Status = models.LobbyReadyCheck
	}
	if !ready && l.Status == models.LobbyReadyCheck {
		l.Status = models.LobbyOpen
	}
	out := snapshot(l)
	r.mu.Unlock()

	c.archive(ctx, out)
	c.publish(events.TypeLobbyUpdate, out)
	return out, nil
}

// Start moves a ready-checked lobby to starting. Creator only.
func (c *Coordinator) Start(ctx context.Context, lobbyID, requesterID uuid.UUID) (*models.Lobby, error) {
	r, err := c.record(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	l := r.lobby
	if l.CreatorID != requesterID {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: only the creator may start", apperr.ErrForbidden)
	}
	if l.Status != models.LobbyReadyCheck || !l.AllReady() {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}
	now := time.Now()
	l.Status = models.LobbyStarting
	l.StartedAt = &now
	out := snapshot(l)
	r.mu.Unlock()

	c.archive(ctx, out)
	c.publish(events.TypeLobbyStarted, out)
	c.logger.WithField("lobby_id", lobbyID).Info("lobby: starting")
	return out, nil
}

// Cancel terminates a forming lobby. Creator only; a live (in_progress)
// match can only complete, never cancel.
func (c *Coordinator) Cancel(ctx context.Context, lobbyID, requesterID uuid.UUID) error {
	r, err := c.record(lobbyID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	l := r.lobby
	if l.CreatorID != requesterID {
		r.mu.Unlock()
		return fmt.Errorf("%w: only the creator may cancel", apperr.ErrForbidden)
	}
	switch l.Status {
	case models.LobbyOpen, models.LobbyReadyCheck, models.LobbyStarting:
	default:
		r.mu.Unlock()
		return fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}
	now := time.Now()
	l.Status = models.LobbyCancelled
	l.EndedAt = &now
	members := make([]uuid.UUID, 0, len(l.Members))
	for _, m := range l.Members {
		members = append(members, m.PlayerID)
	}
	out := snapshot(l)
	r.mu.Unlock()

	for _, pid := range members {
		c.registry.UnregisterMember(lobbyID, pid)
	}
	c.archive(ctx, out)
	monitoring.AddActiveLobby(out.GameID, out.Region, -1)
	c.publish(events.TypeLobbyCancelled, out)
	c.settle(ctx, lobbyID)
	c.logger.WithField("lobby_id", lobbyID).Info("lobby: cancelled")
	return nil
}

// BeginMatch is the external signal that the match session has begun.
func (c *Coordinator) BeginMatch(ctx context.Context, lobbyID uuid.UUID) (*models.Lobby, error) {
	r, err := c.record(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	l := r.lobby
	if l.Status != models.LobbyStarting {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}
	l.Status = models.LobbyInProgress
	out := snapshot(l)
	r.mu.Unlock()

	c.archive(ctx, out)
	c.publish(events.TypeLobbyUpdate, out)
	return out, nil
}

// CompleteMatch is the external outcome signal. Settlement is driven after
// the terminal transition commits, outside the lobby lock, so a crash in
// between leaves the pool escrowed and re-drivable by pool_id.
func (c *Coordinator) CompleteMatch(ctx context.Context, lobbyID uuid.UUID, allocations map[uuid.UUID]int64) (*models.Lobby, error) {
	r, err := c.record(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	l := r.lobby
	if l.Status != models.LobbyInProgress {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby is %s", apperr.ErrInvalidState, l.Status)
	}
	now := time.Now()
	l.Status = models.LobbyCompleted
	l.EndedAt = &now
	members := make([]uuid.UUID, 0, len(l.Members))
	for _, m := range l.Members {
		members = append(members, m.PlayerID)
	}
	out := snapshot(l)
	r.mu.Unlock()

	for _, pid := range members {
		c.registry.UnregisterMember(lobbyID, pid)
	}
	c.archive(ctx, out)
	monitoring.AddActiveLobby(out.GameID, out.Region, -1)
	c.publish(events.TypeLobbyCompleted, out)

	if len(allocations) > 0 && c.settler != nil && c.settler.HasPool(lobbyID) {
		if err := c.settler.DistributeByLobby(ctx, lobbyID, allocations); err != nil {
			c.logger.WithError(err).WithField("lobby_id", lobbyID).
				Error("lobby: distribution failed, pool remains re-drivable")
		}
	}
	return out, nil
}

// Restore seeds the coordinator from durable rows at startup. Terminal
// lobbies are kept addressable so the ledger's settlement guards can read
// their final state; live lobbies get their memberships re-registered.
func (c *Coordinator) Restore(ls []*models.Lobby) {
	c.mu.Lock()
	for _, l := range ls {
		if _, exists := c.lobbies[l.ID]; exists {
			continue
		}
		c.lobbies[l.ID] = &record{lobby: snapshot(l)}
	}
	c.mu.Unlock()

	for _, l := range ls {
		if l.Status.Terminal() {
			continue
		}
		for _, m := range l.Members {
			c.registry.RegisterMember(l.ID, m.PlayerID)
		}
		monitoring.AddActiveLobby(l.GameID, l.Region, 1)
	}
}

// Get returns a snapshot of one lobby.
func (c *Coordinator) Get(lobbyID uuid.UUID) (*models.Lobby, error) {
	r, err := c.record(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.lobby), nil
}

// LobbyStatus reports the current state machine position. Used by the ledger
// to guard settlement transitions.
func (c *Coordinator) LobbyStatus(lobbyID uuid.UUID) (models.LobbyStatus, error) {
	l, err := c.Get(lobbyID)
	if err != nil {
		return "", err
	}
	return l.Status, nil
}

// ListFilter narrows List output; zero values match everything.
type ListFilter struct {
	GameID string
	Region string
	Status models.LobbyStatus
}

// List returns snapshots of matching lobbies.
func (c *Coordinator) List(f ListFilter) []*models.Lobby {
	c.mu.Lock()
	recs := make([]*record, 0, len(c.lobbies))
	for _, r := range c.lobbies {
		recs = append(recs, r)
	}
	c.mu.Unlock()

	out := []*models.Lobby{}
	for _, r := range recs {
		r.mu.Lock()
		l := r.lobby
		match := (f.GameID == "" || l.GameID == f.GameID) &&
			(f.Region == "" || l.Region == f.Region) &&
			(f.Status == "" || l.Status == f.Status)
		if match {
			out = append(out, snapshot(l))
		}
		r.mu.Unlock()
	}
	return out
}

func (c *Coordinator) record(lobbyID uuid.UUID) (*record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.lobbies[lobbyID]
	if !ok {
		return nil, fmt.Errorf("%w: lobby %s", apperr.ErrNotFound, lobbyID)
	}
	return r, nil
}

func (c *Coordinator) settle(ctx context.Context, lobbyID uuid.UUID) {
	if c.settler == nil || !c.settler.HasPool(lobbyID) {
		return
	}
	if err := c.settler.RefundByLobby(ctx, lobbyID); err != nil {
		c.logger.WithError(err).WithField("lobby_id", lobbyID).
			Error("lobby: refund failed, pool remains re-drivable")
	}
}

func (c *Coordinator) archive(ctx context.Context, l *models.Lobby) {
	if c.archiver == nil {
		return
	}
	if err := c.archiver.SaveLobby(ctx, l); err != nil {
		c.logger.WithError(err).WithField("lobby_id", l.ID).Warn("lobby: archive failed")
	}
}

func (c *Coordinator) publish(typ string, l *models.Lobby) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:    typ,
		LobbyID: l.ID,
		Payload: map[string]interface{}{
			"status":   string(l.Status),
			"game_id":  l.GameID,
			"region":   l.Region,
			"members":  len(l.Members),
			"capacity": l.Capacity,
		},
	})
}

// snapshot deep-copies a lobby so callers never see live state.
func snapshot(l *models.Lobby) *models.Lobby {
	cp := *l
	cp.Members = append([]models.LobbyMember(nil), l.Members...)
	return &cp
}
