// internal/lobbies/coordinator_test.go
package lobbies

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/models"
	"github.com/vantage-gg/arena/internal/registry"
)

// mockSettler records every escrow call so tests can assert the coordinator
// drives the ledger at the right transitions.
type mockSettler struct {
	mu          sync.Mutex
	pools       map[uuid.UUID]map[uuid.UUID]int64 // lobby -> contributions
	refunded    []uuid.UUID
	distributed map[uuid.UUID]map[uuid.UUID]int64
}

func newMockSettler() *mockSettler {
	return &mockSettler{
		pools:       make(map[uuid.UUID]map[uuid.UUID]int64),
		distributed: make(map[uuid.UUID]map[uuid.UUID]int64),
	}
}

func (s *mockSettler) CreatePool(ctx context.Context, lobbyID uuid.UUID, currency string, contributions map[uuid.UUID]int64, total int64) (*models.PrizePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(map[uuid.UUID]int64, len(contributions))
	for k, v := range contributions {
		c[k] = v
	}
	s.pools[lobbyID] = c
	return &models.PrizePool{ID: uuid.New(), LobbyID: lobbyID, TotalAmount: total}, nil
}

func (s *mockSettler) Contribute(ctx context.Context, lobbyID, playerID uuid.UUID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[lobbyID][playerID] = amount
	return nil
}

func (s *mockSettler) Withdraw(ctx context.Context, lobbyID, playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools[lobbyID], playerID)
	return nil
}

func (s *mockSettler) RefundByLobby(ctx context.Context, lobbyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunded = append(s.refunded, lobbyID)
	return nil
}

func (s *mockSettler) DistributeByLobby(ctx context.Context, lobbyID uuid.UUID, allocations map[uuid.UUID]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distributed[lobbyID] = allocations
	return nil
}

func (s *mockSettler) HasPool(lobbyID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pools[lobbyID]
	return ok
}

func newTestCoordinator(t *testing.T) (*Coordinator, *mockSettler) {
	t.Helper()
	c := NewCoordinator(registry.New(), nil, nil, nil)
	s := newMockSettler()
	c.SetSettler(s)
	return c, s
}

func createLobby(t *testing.T, c *Coordinator, creatorID uuid.UUID, capacity int) *models.Lobby {
	t.Helper()
	l, err := c.Create(context.Background(), CreateRequest{
		CreatorID: creatorID,
		GameID:    "chess",
		GameMode:  "duel",
		Region:    "us-east",
		Capacity:  capacity,
	})
	require.NoError(t, err)
	return l
}

func TestCreateValidation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Create(ctx, CreateRequest{CreatorID: uuid.New(), GameMode: "duel", Capacity: 2})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.Create(ctx, CreateRequest{CreatorID: uuid.New(), GameID: "chess", GameMode: "duel"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.Create(ctx, CreateRequest{
		CreatorID: uuid.New(), GameID: "chess", GameMode: "duel", Capacity: 2, Region: "atlantis",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidRegion)
}

func TestJoinCapacity(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	l := createLobby(t, c, uuid.New(), 2)

	_, err := c.Join(ctx, l.ID, uuid.New())
	require.NoError(t, err)

	_, err = c.Join(ctx, l.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrLobbyFull)
}

func TestJoinDuplicateMember(t *testing.T) {
	c, _ := newTestCoordinator(t)
	creatorID := uuid.New()
	l := createLobby(t, c, creatorID, 3)

	_, err := c.Join(context.Background(), l.ID, creatorID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReadyCheckTransitions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	creatorID := uuid.New()
	otherID := uuid.New()
	l := createLobby(t, c, creatorID, 2)
	_, err := c.Join(ctx, l.ID, otherID)
	require.NoError(t, err)

	// One ready in a full lobby is not enough.
	got, err := c.SetReady(ctx, l.ID, creatorID, true)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyOpen, got.Status)

	got, err = c.SetReady(ctx, l.ID, otherID, true)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyReadyCheck, got.Status)

	// Unready during ready check reverts to Open.
	got, err = c.SetReady(ctx, l.ID, otherID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyOpen, got.Status)
}

func TestStartRequiresCreatorAndReadyCheck(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	creatorID := uuid.New()
	otherID := uuid.New()
	l := createLobby(t, c, creatorID, 2)
	_, err := c.Join(ctx, l.ID, otherID)
	require.NoError(t, err)

	_, err = c.Start(ctx, l.ID, creatorID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "cannot start before ready check")

	_, err = c.SetReady(ctx, l.ID, creatorID, true)
	require.NoError(t, err)
	_, err = c.SetReady(ctx, l.ID, otherID, true)
	require.NoError(t, err)

	_, err = c.Start(ctx, l.ID, otherID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := c.Start(ctx, l.ID, creatorID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyStarting, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestFullLifecycle(t *testing.T) {
	c, settler := newTestCoordinator(t)
	ctx := context.Background()
	creatorID := uuid.New()
	otherID := uuid.New()

	l, err := c.Create(ctx, CreateRequest{
		CreatorID: creatorID, GameID: "chess", GameMode: "duel",
		Capacity: 2, Stake: 500, Currency: "USD",
	})
	require.NoError(t, err)
	assert.True(t, settler.HasPool(l.ID), "creator stake escrowed at creation")

	_, err = c.Join(ctx, l.ID, otherID)
	require.NoError(t, err)
	settler.mu.Lock()
	assert.Equal(t, int64(500), settler.pools[l.ID][otherID], "joiner contributes the per-seat stake")
	settler.mu.Unlock()

	_, err = c.SetReady(ctx, l.ID, creatorID, true)
	require.NoError(t, err)
	_, err = c.SetReady(ctx, l.ID, otherID, true)
	require.NoError(t, err)
	_, err = c.Start(ctx, l.ID, creatorID)
	require.NoError(t, err)

	got, err := c.BeginMatch(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyInProgress, got.Status)

	allocations := map[uuid.UUID]int64{creatorID: 700, otherID: 300}
	got, err = c.CompleteMatch(ctx, l.ID, allocations)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyCompleted, got.Status)
	assert.NotNil(t, got.EndedAt)

	settler.mu.Lock()
	assert.Equal(t, allocations, settler.distributed[l.ID])
	settler.mu.Unlock()
}

func TestCancelRefundsAndGuards(t *testing.T) {
	c, settler := newTestCoordinator(t)
	ctx := context.Background()
	creatorID := uuid.New()

	l, err := c.Create(ctx, CreateRequest{
		CreatorID: creatorID, GameID: "chess", GameMode: "duel",
		Capacity: 2, Stake: 100, Currency: "USD",
	})
	require.NoError(t, err)

	err = c.Cancel(ctx, l.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, c.Cancel(ctx, l.ID, creatorID))
	got, err := c.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyCancelled, got.Status)

	settler.mu.Lock()
	assert.Contains(t, settler.refunded, l.ID)
	settler.mu.Unlock()

	// Terminal lobbies reject further transitions.
	err = c.Cancel(ctx, l.ID, creatorID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = c.Join(ctx, l.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestInProgressCannotCancel(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	creatorID := uuid.New()
	otherID := uuid.New()
	l := createLobby(t, c, creatorID, 2)
	_, err := c.Join(ctx, l.ID, otherID)
	require.NoError(t, err)
	_, err = c.SetReady(ctx, l.ID, creatorID, true)
	require.NoError(t, err)
	_, err = c.SetReady(ctx, l.ID, otherID, true)
	require.NoError(t, err)
	_, err = c.Start(ctx, l.ID, creatorID)
	require.NoError(t, err)
	_, err = c.BeginMatch(ctx, l.ID)
	require.NoError(t, err)

	err = c.Cancel(ctx, l.ID, creatorID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "a live match can only complete")
}

func TestLeaveDuringReadyCheckReverts(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	creatorID := uuid.New()
	otherID := uuid.New()
	thirdID := uuid.New()
	l := createLobby(t, c, creatorID, 3)
	_, err := c.Join(ctx, l.ID, otherID)
	require.NoError(t, err)
	_, err = c.Join(ctx, l.ID, thirdID)
	require.NoError(t, err)
	for _, pid := range []uuid.UUID{creatorID, otherID, thirdID} {
		_, err = c.SetReady(ctx, l.ID, pid, true)
		require.NoError(t, err)
	}
	got, err := c.Get(l.ID)
	require.NoError(t, err)
	require.Equal(t, models.LobbyReadyCheck, got.Status)

	require.NoError(t, c.Leave(ctx, l.ID, thirdID))
	got, err = c.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyOpen, got.Status)
	assert.Len(t, got.Members, 2)
}

func TestQueueSourcedAutoCancel(t *testing.T) {
	c, settler := newTestCoordinator(t)
	ctx := context.Background()

	a := models.QueueSession{ID: uuid.New(), PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Region: "us-east", RequestedAt: time.Now()}
	b := models.QueueSession{ID: uuid.New(), PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Region: "us-east", RequestedAt: time.Now()}

	l, err := c.CreateFromMatch(ctx, []models.QueueSession{a, b})
	require.NoError(t, err)
	assert.True(t, l.QueueSourced)
	assert.Equal(t, a.PlayerID, l.CreatorID, "oldest session leads the lobby")

	require.NoError(t, c.Leave(ctx, l.ID, a.PlayerID))
	require.NoError(t, c.Leave(ctx, l.ID, b.PlayerID))

	got, err := c.Get(l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyCancelled, got.Status, "emptied queue-sourced lobby auto-cancels")
	_ = settler
}

func TestCreateFromMatchEscrowsStakes(t *testing.T) {
	c, settler := newTestCoordinator(t)
	ctx := context.Background()

	a := models.QueueSession{ID: uuid.New(), PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Region: "us-east", Stake: 250, Currency: "USD", RequestedAt: time.Now()}
	b := models.QueueSession{ID: uuid.New(), PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Region: "us-east", Stake: 250, Currency: "USD", RequestedAt: time.Now()}

	l, err := c.CreateFromMatch(ctx, []models.QueueSession{a, b})
	require.NoError(t, err)

	settler.mu.Lock()
	defer settler.mu.Unlock()
	assert.Equal(t, int64(250), settler.pools[l.ID][a.PlayerID])
	assert.Equal(t, int64(250), settler.pools[l.ID][b.PlayerID])
}

func TestListFilter(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createLobby(t, c, uuid.New(), 2)
	l2, err := c.Create(ctx, CreateRequest{
		CreatorID: uuid.New(), GameID: "go", GameMode: "duel", Region: "eu-central", Capacity: 2,
	})
	require.NoError(t, err)

	assert.Len(t, c.List(ListFilter{}), 2)
	assert.Len(t, c.List(ListFilter{GameID: "go"}), 1)
	assert.Len(t, c.List(ListFilter{Region: "eu-central"}), 1)
	assert.Len(t, c.List(ListFilter{Status: models.LobbyOpen}), 2)

	require.NoError(t, c.Cancel(ctx, l2.ID, l2.CreatorID))
	assert.Len(t, c.List(ListFilter{Status: models.LobbyOpen}), 1)
}
