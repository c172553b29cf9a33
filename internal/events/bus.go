// internal/events/bus.go
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Event is one observable state change in the matchmaking core. Payload is a
// JSON-ready map shaped like the HTTP resources.
type Event struct {
	Type      string                 `json:"type"`
	LobbyID   uuid.UUID              `json:"lobby_id,omitempty"`
	PoolID    uuid.UUID              `json:"pool_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"ts"`
}

// Event types emitted by the core.
const (
	TypeLobbyFormed    = "lobby_formed"
	TypeLobbyUpdate    = "lobby_update"
	TypeLobbyStarted   = "lobby_started"
	TypeLobbyCompleted = "lobby_completed"
	TypeLobbyCancelled = "lobby_cancelled"
	TypePoolSettled    = "pool_settled"
	TypePoolDisputed   = "pool_disputed"
)

// Bus is a small in-process fan-out. Subscribers receive events on a buffered
// channel; a subscriber that falls behind has events dropped rather than
// blocking publishers.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscription
}

type subscription struct {
	lobbyID uuid.UUID // uuid.Nil subscribes to everything
	ch      chan Event
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers interest in events for one lobby (or all events when
// lobbyID is uuid.Nil). The returned cancel func must be called to release
// the subscription.
func (b *Bus) Subscribe(lobbyID uuid.UUID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscription{lobbyID: lobbyID, ch: make(chan Event, 16)}
	b.subs[id] = sub
	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

// Publish stamps and fans out the event. Non-blocking per subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.lobbyID != uuid.Nil && sub.lobbyID != ev.LobbyID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Warnf("events: subscriber for lobby %s full, dropped %s", sub.lobbyID, ev.Type)
		}
	}
}
