// internal/database/archive.go
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vantage-gg/arena/internal/models"
)

// Store is the durable write-through behind the in-memory coordinators. Every
// record type is keyed by its id; rows are upserted so a transition replayed
// after a crash converges instead of conflicting.
type Store struct{}

// NewStore returns a Store backed by the global pool.
func NewStore() *Store { return &Store{} }

// SaveSession upserts a queue session row.
func (*Store) SaveSession(ctx context.Context, s *models.QueueSession) error {
	q := `
	INSERT INTO queue_sessions (id, player_id, game_id, game_mode, region, stake, currency, requested_at, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			s.ID, s.PlayerID, s.GameID, s.GameMode, s.Region,
			s.Stake, s.Currency, s.RequestedAt, s.Status,
		)
		return err
	})
}

// SaveLobby upserts a lobby row. Members travel as a jsonb document; the
// matching scan indexes live in memory, the row exists for audit and
// recovery.
func (*Store) SaveLobby(ctx context.Context, l *models.Lobby) error {
	members, err := json.Marshal(l.Members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	q := `
	INSERT INTO lobbies (id, game_id, game_mode, region, creator_id, capacity,
	                     members, status, queue_sourced, created_at, started_at, ended_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		members = EXCLUDED.members,
		status = EXCLUDED.status,
		started_at = EXCLUDED.started_at,
		ended_at = EXCLUDED.ended_at
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			l.ID, l.GameID, l.GameMode, l.Region, l.CreatorID, l.Capacity,
			members, l.Status, l.QueueSourced, l.CreatedAt, l.StartedAt, l.EndedAt,
		)
		return err
	})
}

// SavePool upserts a prize pool row with its monetary maps as jsonb.
func (*Store) SavePool(ctx context.Context, p *models.PrizePool) error {
	contributions, err := json.Marshal(p.Contributions)
	if err != nil {
		return fmt.Errorf("marshal contributions: %w", err)
	}
	allocations, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	settlements, err := json.Marshal(p.Settlements)
	if err != nil {
		return fmt.Errorf("marshal settlements: %w", err)
	}
	q := `
	INSERT INTO prize_pools (id, lobby_id, total_amount, currency,
	                         contributions, allocations, settlements, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		total_amount = EXCLUDED.total_amount,
		contributions = EXCLUDED.contributions,
		allocations = EXCLUDED.allocations,
		settlements = EXCLUDED.settlements,
		status = EXCLUDED.status
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			p.ID, p.LobbyID, p.TotalAmount, p.Currency,
			contributions, allocations, settlements, p.Status, p.CreatedAt,
		)
		return err
	})
}

// SaveDispute upserts a dispute row.
func (*Store) SaveDispute(ctx context.Context, d *models.Dispute) error {
	resolution, err := json.Marshal(d.Resolution)
	if err != nil {
		return fmt.Errorf("marshal resolution: %w", err)
	}
	q := `
	INSERT INTO disputes (id, pool_id, raised_by, reason, status, resolution, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		resolution = EXCLUDED.resolution
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			d.ID, d.PoolID, d.RaisedBy, d.Reason, d.Status, resolution, d.CreatedAt,
		)
		return err
	})
}

// OpenPools returns every pool not yet in a settled state, for ledger restore
// and crash re-drive.
func (*Store) OpenPools(ctx context.Context) ([]*models.PrizePool, error) {
	q := `
	SELECT id, lobby_id, total_amount, currency, contributions, allocations, settlements, status, created_at
	FROM prize_pools
	WHERE status IN ('escrowed', 'disputed')
	`
	rows, err := DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*models.PrizePool
	for rows.Next() {
		var (
			p             models.PrizePool
			contributions []byte
			allocations   []byte
			settlements   []byte
		)
		if err := rows.Scan(&p.ID, &p.LobbyID, &p.TotalAmount, &p.Currency,
			&contributions, &allocations, &settlements, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(contributions, &p.Contributions); err != nil {
			return nil, fmt.Errorf("unmarshal contributions: %w", err)
		}
		if len(allocations) > 0 {
			if err := json.Unmarshal(allocations, &p.Allocations); err != nil {
				return nil, fmt.Errorf("unmarshal allocations: %w", err)
			}
		}
		if len(settlements) > 0 {
			if err := json.Unmarshal(settlements, &p.Settlements); err != nil {
				return nil, fmt.Errorf("unmarshal settlements: %w", err)
			}
		}
		pools = append(pools, &p)
	}
	return pools, rows.Err()
}

// LobbiesByID loads the lobby rows for the given ids, for coordinator restore.
// The ledger's state guards read lobby status through the coordinator, so a
// restored pool needs its owning lobby restored alongside it.
func (*Store) LobbiesByID(ctx context.Context, ids []uuid.UUID) ([]*models.Lobby, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `
	SELECT id, game_id, game_mode, region, creator_id, capacity,
	       members, status, queue_sourced, created_at, started_at, ended_at
	FROM lobbies
	WHERE id = ANY($1)
	`
	rows, err := DB.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []*models.Lobby
	for rows.Next() {
		var (
			l       models.Lobby
			members []byte
		)
		if err := rows.Scan(&l.ID, &l.GameID, &l.GameMode, &l.Region, &l.CreatorID, &l.Capacity,
			&members, &l.Status, &l.QueueSourced, &l.CreatedAt, &l.StartedAt, &l.EndedAt); err != nil {
			return nil, err
		}
		if len(members) > 0 {
			if err := json.Unmarshal(members, &l.Members); err != nil {
				return nil, fmt.Errorf("unmarshal members: %w", err)
			}
		}
		lobbies = append(lobbies, &l)
	}
	return lobbies, rows.Err()
}

// OpenDisputes returns every dispute still open, for ledger restore.
func (*Store) OpenDisputes(ctx context.Context) ([]*models.Dispute, error) {
	q := `
	SELECT id, pool_id, raised_by, reason, status, created_at
	FROM disputes
	WHERE status = 'open'
	`
	rows, err := DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		var d models.Dispute
		if err := rows.Scan(&d.ID, &d.PoolID, &d.RaisedBy, &d.Reason, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		disputes = append(disputes, &d)
	}
	return disputes, rows.Err()
}
