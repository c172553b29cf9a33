// internal/queue/manager_test.go
package queue

import (
	"context"
	"errors"
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

// mockCreator records matched groups and can be told to fail.
type mockCreator struct {
	mu     sync.Mutex
	groups [][]models.QueueSession
	fail   bool
}

func (c *mockCreator) CreateFromMatch(ctx context.Context, group []models.QueueSession) (*models.Lobby, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errors.New("creator rejected group")
	}
	c.groups = append(c.groups, group)
	return &models.Lobby{ID: uuid.New()}, nil
}

func (c *mockCreator) matched() [][]models.QueueSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]models.QueueSession, len(c.groups))
	copy(out, c.groups)
	return out
}

func newTestManager(t *testing.T, creator LobbyCreator) *Manager {
	t.Helper()
	return NewManager(Config{
		ModeCapacities:  map[string]int{"duel": 2, "squad": 4},
		DefaultCapacity: 2,
	}, registry.New(), creator, nil, nil)
}

func join(t *testing.T, m *Manager, playerID uuid.UUID, mode, reg string) *models.QueueSession {
	t.Helper()
	s, err := m.JoinQueue(context.Background(), JoinRequest{
		PlayerID: playerID,
		GameID:   "chess",
		GameMode: mode,
		Region:   reg,
	})
	require.NoError(t, err)
	return s
}

func TestJoinQueueValidation(t *testing.T) {
	m := newTestManager(t, &mockCreator{})

	_, err := m.JoinQueue(context.Background(), JoinRequest{PlayerID: uuid.New(), GameMode: "duel"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.JoinQueue(context.Background(), JoinRequest{
		PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Stake: -1,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = m.JoinQueue(context.Background(), JoinRequest{
		PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Region: "atlantis",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidRegion)
}

func TestJoinQueueDuplicatePerGame(t *testing.T) {
	m := newTestManager(t, &mockCreator{})
	playerID := uuid.New()

	s := join(t, m, playerID, "duel", "us-east")
	assert.Equal(t, models.SessionSearching, s.Status)

	// Second session in the same game is rejected even for another mode.
	_, err := m.JoinQueue(context.Background(), JoinRequest{
		PlayerID: playerID, GameID: "chess", GameMode: "squad", Region: "us-east",
	})
	assert.ErrorIs(t, err, apperr.ErrAlreadyQueued)

	// A different game is fine.
	_, err = m.JoinQueue(context.Background(), JoinRequest{
		PlayerID: playerID, GameID: "go", GameMode: "duel", Region: "us-east",
	})
	assert.NoError(t, err)
}

func TestMatchPairsOldestFirst(t *testing.T) {
	creator := &mockCreator{}
	m := newTestManager(t, creator)

	first := join(t, m, uuid.New(), "duel", "us-east")
	time.Sleep(time.Millisecond)
	second := join(t, m, uuid.New(), "duel", "us-east")
	time.Sleep(time.Millisecond)
	third := join(t, m, uuid.New(), "duel", "us-east")

	m.MatchRegion(context.Background(), "us-east")

	groups := creator.matched()
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
	assert.Equal(t, first.ID, groups[0][0].ID)
	assert.Equal(t, second.ID, groups[0][1].ID)

	got, err := m.Session(third.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSearching, got.Status, "leftover session keeps searching")

	matched, err := m.Session(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionMatched, matched.Status)
}

func TestMatchNeverCrossesRegions(t *testing.T) {
	creator := &mockCreator{}
	m := newTestManager(t, creator)

	join(t, m, uuid.New(), "duel", "us-east")
	join(t, m, uuid.New(), "duel", "eu-central")

	m.MatchRegion(context.Background(), "us-east")
	m.MatchRegion(context.Background(), "eu-central")

	assert.Empty(t, creator.matched(), "one player per region never matches")
}

func TestMatchRevertPreservesQueuePosition(t *testing.T) {
	creator := &mockCreator{fail: true}
	m := newTestManager(t, creator)

	first := join(t, m, uuid.New(), "duel", "us-east")
	time.Sleep(time.Millisecond)
	join(t, m, uuid.New(), "duel", "us-east")

	m.MatchRegion(context.Background(), "us-east")

	got, err := m.Session(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSearching, got.Status)
	assert.Equal(t, first.RequestedAt.Unix(), got.RequestedAt.Unix(), "requested_at survives revert")

	// Once the creator recovers, the same pair matches with first still ahead.
	creator.mu.Lock()
	creator.fail = false
	creator.mu.Unlock()
	m.MatchRegion(context.Background(), "us-east")

	groups := creator.matched()
	require.Len(t, groups, 1)
	assert.Equal(t, first.ID, groups[0][0].ID)
}

func TestLeaveQueue(t *testing.T) {
	m := newTestManager(t, &mockCreator{})
	playerID := uuid.New()
	s := join(t, m, playerID, "duel", "us-east")

	// Only the owner may leave.
	err := m.LeaveQueue(context.Background(), s.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, m.LeaveQueue(context.Background(), s.ID, playerID))
	got, err := m.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionLeft, got.Status)

	// Retried leave is a no-op success.
	assert.NoError(t, m.LeaveQueue(context.Background(), s.ID, playerID))

	// The player can queue again for the same game.
	_, err = m.JoinQueue(context.Background(), JoinRequest{
		PlayerID: playerID, GameID: "chess", GameMode: "duel", Region: "us-east",
	})
	assert.NoError(t, err)
}

func TestLeaveQueueUnknownSession(t *testing.T) {
	m := newTestManager(t, &mockCreator{})
	err := m.LeaveQueue(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLeaveMatchedSession(t *testing.T) {
	creator := &mockCreator{}
	m := newTestManager(t, creator)
	playerID := uuid.New()
	s := join(t, m, playerID, "duel", "us-east")
	join(t, m, uuid.New(), "duel", "us-east")

	m.MatchRegion(context.Background(), "us-east")

	err := m.LeaveQueue(context.Background(), s.ID, playerID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "matched sessions have left the queue")
}

func TestJoinQueueConcurrentWithMatching(t *testing.T) {
	creator := &mockCreator{}
	m := newTestManager(t, creator)
	ctx := context.Background()

	// Joins race against matching passes; under -race this verifies the
	// returned snapshot never observes a worker's status write.
	const joiners = 50
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.JoinQueue(ctx, JoinRequest{
				PlayerID: uuid.New(), GameID: "chess", GameMode: "duel", Region: "us-east",
			})
			assert.NoError(t, err)
			assert.NotNil(t, s)
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < joiners; i++ {
			m.MatchRegion(ctx, "us-east")
		}
	}()
	wg.Wait()
	<-done
	m.MatchRegion(ctx, "us-east")

	groups := creator.matched()
	assert.Len(t, groups, joiners/2, "every pair eventually matches")
}

func TestStats(t *testing.T) {
	m := newTestManager(t, &mockCreator{})
	join(t, m, uuid.New(), "duel", "us-east")
	join(t, m, uuid.New(), "squad", "us-east")
	join(t, m, uuid.New(), "duel", "eu-central")

	stats := m.Stats("chess", "us-east", "")
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Len(t, stats.Pools, 2)

	scoped := m.Stats("chess", "us-east", "duel")
	assert.Equal(t, 1, scoped.ActiveSessions)
}
