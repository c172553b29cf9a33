// internal/models/pool.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// PoolStatus is the escrow lifecycle of a prize pool.
type PoolStatus string

const (
	PoolEscrowed    PoolStatus = "escrowed"
	PoolDistributed PoolStatus = "distributed"
	PoolDisputed    PoolStatus = "disputed"
	PoolResolved    PoolStatus = "resolved"
	PoolRefunded    PoolStatus = "refunded"
)

// PrizePool escrows the stakes tied 1:1 to a lobby. All amounts are integer
// minor units; sum checks are exact equality, never tolerance-based.
type PrizePool struct {
	ID            uuid.UUID           `json:"pool_id"`
	LobbyID       uuid.UUID           `json:"lobby_id"`
	TotalAmount   int64               `json:"total_amount"`
	Currency      string              `json:"currency"`
	Contributions map[uuid.UUID]int64 `json:"contributions"`
	Allocations   map[uuid.UUID]int64 `json:"allocations,omitempty"`
	Settlements   []SettlementRef     `json:"settlements,omitempty"`
	Status        PoolStatus          `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}

// SettlementKind distinguishes funds paid out of escrow from funds returned
// to a payer.
type SettlementKind string

const (
	SettlementPayout SettlementKind = "payout"
	SettlementRefund SettlementKind = "refund"
)

// SettlementRef records one acknowledged external payment execution.
type SettlementRef struct {
	PlayerID  uuid.UUID      `json:"player_id"`
	Kind      SettlementKind `json:"kind"`
	Amount    int64          `json:"amount"`
	Reference string         `json:"reference"`
	CreatedAt time.Time      `json:"created_at"`
}

// DisputeStatus is the arbitration state of a dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute is a post-completion challenge to a pool's distribution. A pool has
// at most one open dispute at a time.
type Dispute struct {
	ID         uuid.UUID          `json:"dispute_id"`
	PoolID     uuid.UUID          `json:"pool_id"`
	RaisedBy   uuid.UUID          `json:"raised_by"`
	Reason     string             `json:"reason"`
	Status     DisputeStatus      `json:"status"`
	Resolution *DisputeResolution `json:"resolution,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// DisputeResolution is the arbiter's final allocation ruling.
type DisputeResolution struct {
	WinnerAllocations map[uuid.UUID]int64 `json:"winner_allocations"`
	ResolvedBy        uuid.UUID           `json:"resolved_by"`
	ResolvedAt        time.Time           `json:"resolved_at"`
}
