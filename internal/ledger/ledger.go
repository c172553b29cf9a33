// internal/ledger/ledger.go
package ledger

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
)

// PaymentExecutor performs the actual movement of funds. The ledger only
// records intents and settlement references; capture/refund mechanics live
// behind this interface. A settlement entry is written only after the
// executor acknowledges.
type PaymentExecutor interface {
	ExecutePayout(ctx context.Context, poolID, playerID uuid.UUID, amount int64, currency string) (string, error)
	ExecuteRefund(ctx context.Context, poolID, playerID uuid.UUID, amount int64, currency string) (string, error)
}

// LobbyStateReader exposes the owning lobby's state machine position.
// Settlement transitions are guarded on it: distribute requires completed,
// refund requires cancelled. The status is read before the pool lock is
// taken; terminal lobby states never regress, so the guard stays sound.
type LobbyStateReader interface {
	LobbyStatus(lobbyID uuid.UUID) (models.LobbyStatus, error)
}

// Archiver persists pool and dispute records. Nil is a no-op.
type Archiver interface {
	SavePool(ctx context.Context, p *models.PrizePool) error
	SaveDispute(ctx context.Context, d *models.Dispute) error
}

// poolRecord serializes all mutation for one pool_id.
type poolRecord struct {
	mu       sync.Mutex
	pool     *models.PrizePool
	disputes []*models.Dispute
	settled  map[uuid.UUID]bool // players with an acknowledged settlement ref
}

// Ledger escrows stakes and settles them against lobby outcomes.
type Ledger struct {
	mu      sync.Mutex
	pools   map[uuid.UUID]*poolRecord
	byLobby map[uuid.UUID]uuid.UUID

	lobbies  LobbyStateReader
	exec     PaymentExecutor
	archiver Archiver
	bus      *events.Bus
	logger   *log.Logger
}

// New wires a Ledger. exec is required for settlement; archiver and bus may
// be nil.
func New(lobbies LobbyStateReader, exec PaymentExecutor, archiver Archiver, bus *events.Bus, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Ledger{
		pools:    make(map[uuid.UUID]*poolRecord),
		byLobby:  make(map[uuid.UUID]uuid.UUID),
		lobbies:  lobbies,
		exec:     exec,
		archiver: archiver,
		bus:      bus,
		logger:   logger,
	}
}

// CreatePool escrows the initial contributions for a lobby. The supplied
// total must equal the contribution sum exactly.
func (g *Ledger) CreatePool(ctx context.Context, lobbyID uuid.UUID, currency string, contributions map[uuid.UUID]int64, total int64) (*models.PrizePool, error) {
	var sum int64
	for _, amt := range contributions {
		if amt <= 0 {
			return nil, fmt.Errorf("%w: contribution must be positive", apperr.ErrValidation)
		}
		sum += amt
	}
	if sum != total {
		return nil, fmt.Errorf("%w: contributions sum %d, total %d", apperr.ErrAmountMismatch, sum, total)
	}

	p := &models.PrizePool{
		ID:            uuid.New(),
		LobbyID:       lobbyID,
		TotalAmount:   total,
		Currency:      currency,
		Contributions: cloneAmounts(contributions),
		Status:        models.PoolEscrowed,
		CreatedAt:     time.Now(),
	}

	g.mu.Lock()
	if _, exists := g.byLobby[lobbyID]; exists {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: lobby %s already has a pool", apperr.ErrValidation, lobbyID)
	}
	g.pools[p.ID] = &poolRecord{pool: p, settled: make(map[uuid.UUID]bool)}
	g.byLobby[lobbyID] = p.ID
	g.mu.Unlock()

	g.archivePool(ctx, p)
	g.logger.WithFields(log.Fields{
		"pool_id": p.ID, "lobby_id": lobbyID, "total": total,
	}).Info("ledger: pool escrowed")
	return clonePool(p), nil
}

// Contribute escrows an additional seat's stake while the pool is still
// forming. Called by the coordinator under the lobby's serialization point,
// which guarantees the lobby is Open.
func (g *Ledger) Contribute(ctx context.Context, lobbyID, playerID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: contribution must be positive", apperr.ErrValidation)
	}
	r, err := g.recordByLobby(lobbyID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pool
	if p.Status != models.PoolEscrowed {
		return fmt.Errorf("%w: pool is %s", apperr.ErrInvalidState, p.Status)
	}
	if _, ok := p.Contributions[playerID]; ok {
		return fmt.Errorf("%w: player already contributed", apperr.ErrValidation)
	}
	p.Contributions[playerID] = amount
	p.TotalAmount += amount
	g.archivePool(ctx, p)
	return nil
}

// Withdraw returns a leaving member's stake while the pool is still forming.
// The refund executes against the external escrow before the contribution is
// dropped, so the settlement trail always reconciles with the money moved.
// Idempotent: withdrawing a player with no contribution is a no-op.
func (g *Ledger) Withdraw(ctx context.Context, lobbyID, playerID uuid.UUID) error {
	r, err := g.recordByLobby(lobbyID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pool
	if p.Status != models.PoolEscrowed {
		return fmt.Errorf("%w: pool is %s", apperr.ErrInvalidState, p.Status)
	}
	amt, ok := p.Contributions[playerID]
	if !ok {
		return nil
	}
	ref, err := g.exec.ExecuteRefund(ctx, p.ID, playerID, amt, p.Currency)
	if err != nil {
		return fmt.Errorf("withdraw refund for player %s: %w", playerID, err)
	}
	p.Settlements = append(p.Settlements, models.SettlementRef{
		PlayerID:  playerID,
		Kind:      models.SettlementRefund,
		Amount:    amt,
		Reference: ref,
		CreatedAt: time.Now(),
	})
	delete(p.Contributions, playerID)
	p.TotalAmount -= amt
	g.archivePool(ctx, p)
	return nil
}

// Distribute records the payout split for a completed lobby. Allocations
// must sum exactly to the escrowed total. Retry-safe by pool_id: players
// whose settlement reference is already recorded are skipped, and a pool
// already distributed with the same outcome is a no-op success.
func (g *Ledger) Distribute(ctx context.Context, poolID uuid.UUID, allocations map[uuid.UUID]int64) error {
	r, err := g.recordByID(poolID)
	if err != nil {
		return err
	}
	status, err := g.lobbies.LobbyStatus(r.lobbyID())
	if err != nil {
		return fmt.Errorf("read lobby state: %w", err)
	}
	if status != models.LobbyCompleted {
		return fmt.Errorf("%w: lobby is %s, distribution requires completed", apperr.ErrInvalidState, status)
	}

	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pool

	if p.Status == models.PoolDistributed {
		return nil // idempotent re-drive
	}
	if p.Status != models.PoolEscrowed {
		return fmt.Errorf("%w: pool is %s", apperr.ErrInvalidState, p.Status)
	}
	if err := checkSum(allocations, p.TotalAmount, apperr.ErrAllocationMismatch); err != nil {
		return err
	}

	p.Allocations = cloneAmounts(allocations)
	g.archivePool(ctx, p) // persist intent before executing, for crash re-drive

	if err := g.execute(ctx, r, allocations, false); err != nil {
		monitoring.TrackSettlement("distribute_error", time.Since(start))
		return err
	}

	p.Status = models.PoolDistributed
	g.archivePool(ctx, p)
	monitoring.TrackSettlement("distributed", time.Since(start))
	g.publish(events.TypePoolSettled, p)
	g.logger.WithField("pool_id", p.ID).Info("ledger: pool distributed")
	return nil
}

// Refund returns every contribution to its original payer. Allowed only when
// the owning lobby is cancelled; a pool already refunded is a no-op success.
func (g *Ledger) Refund(ctx context.Context, poolID uuid.UUID) error {
	r, err := g.recordByID(poolID)
	if err != nil {
		return err
	}
	status, err := g.lobbies.LobbyStatus(r.lobbyID())
	if err != nil {
		return fmt.Errorf("read lobby state: %w", err)
	}
	if status != models.LobbyCancelled {
		return fmt.Errorf("%w: lobby is %s, refund requires cancelled", apperr.ErrInvalidState, status)
	}

	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pool

	if p.Status == models.PoolRefunded {
		return nil
	}
	if p.Status != models.PoolEscrowed {
		return fmt.Errorf("%w: pool is %s", apperr.ErrInvalidState, p.Status)
	}

	if err := g.execute(ctx, r, p.Contributions, true); err != nil {
		monitoring.TrackSettlement("refund_error", time.Since(start))
		return err
	}

	p.Status = models.PoolRefunded
	g.archivePool(ctx, p)
	monitoring.TrackSettlement("refunded", time.Since(start))
	g.publish(events.TypePoolSettled, p)
	g.logger.WithField("pool_id", p.ID).Info("ledger: pool refunded")
	return nil
}

// RaiseDispute opens an arbitration challenge against a completed lobby's
// pool. Only a contributor may raise one, and only one dispute may be open
// at a time.
func (g *Ledger) RaiseDispute(ctx context.Context, poolID, raisedBy uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", apperr.ErrValidation)
	}
	r, err := g.recordByID(poolID)
	if err != nil {
		return nil, err
	}
	status, err := g.lobbies.LobbyStatus(r.lobbyID())
	if err != nil {
		return nil, fmt.Errorf("read lobby state: %w", err)
	}
	if status != models.LobbyCompleted {
		return nil, fmt.Errorf("%w: lobby is %s, disputes require completed", apperr.ErrInvalidState, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pool
	if p.Status != models.PoolDistributed && p.Status != models.PoolEscrowed {
		return nil, fmt.Errorf("%w: pool is %s", apperr.ErrInvalidState, p.Status)
	}
	if _, ok := p.Contributions[raisedBy]; !ok {
		return nil, fmt.Errorf("%w: only contributors may dispute pool %s", apperr.ErrForbidden, poolID)
	}
	for _, d := range r.disputes {
		if d.Status == models.DisputeOpen {
			return nil, fmt.Errorf("%w: dispute %s", apperr.ErrDuplicateDispute, d.ID)
		}
	}

	d := &models.Dispute{
		ID:        uuid.New(),
		PoolID:    poolID,
		RaisedBy:  raisedBy,
		Reason:    reason,
		Status:    models.DisputeOpen,
		CreatedAt: time.Now(),
	}
	r.disputes = append(r.disputes, d)
	p.Status = models.PoolDisputed
	g.archivePool(ctx, p)
	g.archiveDispute(ctx, d)
	g.publish(events.TypePoolDisputed, p)
	g.logger.WithFields(log.Fields{"pool_id": poolID, "dispute_id": d.ID}).Info("ledger: dispute raised")
	return cloneDispute(d), nil
}

// ResolveDispute is the arbitration step. It replaces the allocations,
// re-validates the exact sum, executes the corrected payouts and closes the
// dispute. Caller authorization (arbiter role) is enforced at the boundary.
func (g *Ledger) ResolveDispute(ctx context.Context, poolID, resolverID uuid.UUID, allocations map[uuid.UUID]int64) error {
	r, err := g.recordByID(poolID)
	if err != nil {
		return err
	}

	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pool
	if p.Status != models.PoolDisputed {
		return fmt.Errorf("%w: pool is %s", apperr.ErrInvalidState, p.Status)
	}
	var open *models.Dispute
	for _, d := range r.disputes {
		if d.Status == models.DisputeOpen {
			open = d
			break
		}
	}
	if open == nil {
		return fmt.Errorf("%w: no open dispute for pool %s", apperr.ErrNotFound, poolID)
	}
	if err := checkSum(allocations, p.TotalAmount, apperr.ErrAllocationMismatch); err != nil {
		return err
	}

	// Reverse the superseded payouts before executing the corrected ruling,
	// so the external escrow account reconciles to the corrected allocations
	// rather than the sum of both rulings. Each reversal carries its own
	// settlement reference; on partial failure a retry recomputes the
	// outstanding net per player and only re-drives the remainder.
	for playerID := range r.settled {
		net := settledNet(p.Settlements, playerID)
		if net > 0 {
			ref, err := g.exec.ExecuteRefund(ctx, p.ID, playerID, net, p.Currency)
			if err != nil {
				monitoring.TrackSettlement("resolve_error", time.Since(start))
				return fmt.Errorf("reversal refund for player %s: %w", playerID, err)
			}
			p.Settlements = append(p.Settlements, models.SettlementRef{
				PlayerID:  playerID,
				Kind:      models.SettlementRefund,
				Amount:    net,
				Reference: ref,
				CreatedAt: time.Now(),
			})
			g.archivePool(ctx, p)
		}
		delete(r.settled, playerID)
	}

	p.Allocations = cloneAmounts(allocations)
	if err := g.execute(ctx, r, allocations, false); err != nil {
		monitoring.TrackSettlement("resolve_error", time.Since(start))
		return err
	}

	now := time.Now()
	open.Status = models.DisputeResolved
	open.Resolution = &models.DisputeResolution{
		WinnerAllocations: cloneAmounts(allocations),
		ResolvedBy:        resolverID,
		ResolvedAt:        now,
	}
	p.Status = models.PoolResolved
	g.archivePool(ctx, p)
	g.archiveDispute(ctx, open)
	monitoring.TrackSettlement("resolved", time.Since(start))
	g.publish(events.TypePoolSettled, p)
	g.logger.WithFields(log.Fields{"pool_id": poolID, "resolved_by": resolverID}).Info("ledger: dispute resolved")
	return nil
}

// execute drives the external payment calls for every allocation not yet
// acknowledged, recording a settlement reference per ack. Zero allocations
// need no external call. On partial failure the recorded refs survive so a
// retry only re-drives the remainder.
func (g *Ledger) execute(ctx context.Context, r *poolRecord, amounts map[uuid.UUID]int64, refund bool) error {
	p := r.pool
	for playerID, amt := range amounts {
		if amt == 0 || r.settled[playerID] {
			continue
		}
		var (
			ref string
			err error
		)
		kind := models.SettlementPayout
		if refund {
			kind = models.SettlementRefund
			ref, err = g.exec.ExecuteRefund(ctx, p.ID, playerID, amt, p.Currency)
		} else {
			ref, err = g.exec.ExecutePayout(ctx, p.ID, playerID, amt, p.Currency)
		}
		if err != nil {
			return fmt.Errorf("payment execution for player %s: %w", playerID, err)
		}
		p.Settlements = append(p.Settlements, models.SettlementRef{
			PlayerID:  playerID,
			Kind:      kind,
			Amount:    amt,
			Reference: ref,
			CreatedAt: time.Now(),
		})
		r.settled[playerID] = true
	}
	return nil
}

// settledNet is the player's acknowledged balance out of escrow: payouts
// minus refunds. A fully reversed payout nets to zero.
func settledNet(refs []models.SettlementRef, playerID uuid.UUID) int64 {
	var net int64
	for _, s := range refs {
		if s.PlayerID != playerID {
			continue
		}
		if s.Kind == models.SettlementRefund {
			net -= s.Amount
		} else {
			net += s.Amount
		}
	}
	return net
}

// Pool returns a snapshot by pool id.
func (g *Ledger) Pool(poolID uuid.UUID) (*models.PrizePool, error) {
	r, err := g.recordByID(poolID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePool(r.pool), nil
}

// PoolByLobby returns a snapshot by owning lobby id.
func (g *Ledger) PoolByLobby(lobbyID uuid.UUID) (*models.PrizePool, error) {
	r, err := g.recordByLobby(lobbyID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePool(r.pool), nil
}

// Disputes returns snapshots of a pool's disputes, newest last.
func (g *Ledger) Disputes(poolID uuid.UUID) ([]*models.Dispute, error) {
	r, err := g.recordByID(poolID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Dispute, 0, len(r.disputes))
	for _, d := range r.disputes {
		out = append(out, cloneDispute(d))
	}
	return out, nil
}

// Pools returns snapshots of every tracked pool, in no particular order.
func (g *Ledger) Pools() []*models.PrizePool {
	g.mu.Lock()
	recs := make([]*poolRecord, 0, len(g.pools))
	for _, r := range g.pools {
		recs = append(recs, r)
	}
	g.mu.Unlock()

	out := make([]*models.PrizePool, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		out = append(out, clonePool(r.pool))
		r.mu.Unlock()
	}
	return out
}

// HasPool reports whether a lobby carries a stake.
func (g *Ledger) HasPool(lobbyID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byLobby[lobbyID]
	return ok
}

// RefundByLobby resolves the pool for a cancelled lobby and refunds it.
func (g *Ledger) RefundByLobby(ctx context.Context, lobbyID uuid.UUID) error {
	g.mu.Lock()
	poolID, ok := g.byLobby[lobbyID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no pool for lobby %s", apperr.ErrNotFound, lobbyID)
	}
	return g.Refund(ctx, poolID)
}

// DistributeByLobby resolves the pool for a completed lobby and distributes.
func (g *Ledger) DistributeByLobby(ctx context.Context, lobbyID uuid.UUID, allocations map[uuid.UUID]int64) error {
	g.mu.Lock()
	poolID, ok := g.byLobby[lobbyID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no pool for lobby %s", apperr.ErrNotFound, lobbyID)
	}
	return g.Distribute(ctx, poolID, allocations)
}

// ReDrive retries settlement for every escrowed pool whose lobby already
// reached a terminal state. Run at startup and on a timer so a crash between
// "lobby completed" and "pool distributed" heals itself.
func (g *Ledger) ReDrive(ctx context.Context) {
	g.mu.Lock()
	ids := make([]uuid.UUID, 0, len(g.pools))
	for id := range g.pools {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		r, err := g.recordByID(id)
		if err != nil {
			continue
		}
		r.mu.Lock()
		escrowed := r.pool.Status == models.PoolEscrowed
		hasAlloc := len(r.pool.Allocations) > 0
		alloc := cloneAmounts(r.pool.Allocations)
		r.mu.Unlock()
		if !escrowed {
			continue
		}

		status, err := g.lobbies.LobbyStatus(r.lobbyID())
		if err != nil {
			continue
		}
		switch {
		case status == models.LobbyCancelled:
			if err := g.Refund(ctx, id); err != nil {
				g.logger.WithError(err).WithField("pool_id", id).Warn("ledger: re-drive refund failed")
			}
		case status == models.LobbyCompleted && hasAlloc:
			if err := g.Distribute(ctx, id, alloc); err != nil {
				g.logger.WithError(err).WithField("pool_id", id).Warn("ledger: re-drive distribution failed")
			}
		}
	}
}

// Restore seeds the ledger from durable records at startup.
func (g *Ledger) Restore(pools []*models.PrizePool, disputes []*models.Dispute) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range pools {
		r := &poolRecord{pool: clonePool(p), settled: make(map[uuid.UUID]bool)}
		// A player is settled while their acknowledged refs net to a real
		// movement; a payout its reversal already cancelled is re-drivable.
		for _, s := range p.Settlements {
			if settledNet(p.Settlements, s.PlayerID) != 0 {
				r.settled[s.PlayerID] = true
			}
		}
		g.pools[p.ID] = r
		g.byLobby[p.LobbyID] = p.ID
	}
	for _, d := range disputes {
		if r, ok := g.pools[d.PoolID]; ok {
			r.disputes = append(r.disputes, cloneDispute(d))
		}
	}
}

func (r *poolRecord) lobbyID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.LobbyID
}

func (g *Ledger) recordByID(poolID uuid.UUID) (*poolRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", apperr.ErrNotFound, poolID)
	}
	return r, nil
}

func (g *Ledger) recordByLobby(lobbyID uuid.UUID) (*poolRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byLobby[lobbyID]
	if !ok {
		return nil, fmt.Errorf("%w: no pool for lobby %s", apperr.ErrNotFound, lobbyID)
	}
	return g.pools[id], nil
}

func (g *Ledger) archivePool(ctx context.Context, p *models.PrizePool) {
	if g.archiver == nil {
		return
	}
	if err := g.archiver.SavePool(ctx, p); err != nil {
		g.logger.WithError(err).WithField("pool_id", p.ID).Warn("ledger: pool archive failed")
	}
}

func (g *Ledger) archiveDispute(ctx context.Context, d *models.Dispute) {
	if g.archiver == nil {
		return
	}
	if err := g.archiver.SaveDispute(ctx, d); err != nil {
		g.logger.WithError(err).WithField("dispute_id", d.ID).Warn("ledger: dispute archive failed")
	}
}

func (g *Ledger) publish(typ string, p *models.PrizePool) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.Event{
		Type:    typ,
		LobbyID: p.LobbyID,
		PoolID:  p.ID,
		Payload: map[string]interface{}{
			"status": string(p.Status),
			"total":  p.TotalAmount,
		},
	})
}

func checkSum(amounts map[uuid.UUID]int64, total int64, mismatch error) error {
	var sum int64
	for _, amt := range amounts {
		if amt < 0 {
			return fmt.Errorf("%w: negative allocation", apperr.ErrValidation)
		}
		sum += amt
	}
	if sum != total {
		return fmt.Errorf("%w: sum %d, total %d", mismatch, sum, total)
	}
	return nil
}

func cloneAmounts(in map[uuid.UUID]int64) map[uuid.UUID]int64 {
	if in == nil {
		return nil
	}
	out := make(map[uuid.UUID]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clonePool(p *models.PrizePool) *models.PrizePool {
	cp := *p
	cp.Contributions = cloneAmounts(p.Contributions)
	cp.Allocations = cloneAmounts(p.Allocations)
	cp.Settlements = append([]models.SettlementRef(nil), p.Settlements...)
	return &cp
}

func cloneDispute(d *models.Dispute) *models.Dispute {
	cp := *d
	if d.Resolution != nil {
		res := *d.Resolution
		res.WinnerAllocations = cloneAmounts(d.Resolution.WinnerAllocations)
		cp.Resolution = &res
	}
	return &cp
}
