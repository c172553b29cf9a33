// internal/cache/redis_test.go
package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-gg/arena/internal/events"
)

func TestPublishEvent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	Rdb = db
	defer func() { Rdb = nil }()

	ev := events.Event{
		Type:      events.TypeLobbyFormed,
		LobbyID:   uuid.New(),
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectRPush(DefaultFeedName, data).SetVal(1)
	require.NoError(t, PublishEvent(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	Rdb = db
	defer func() { Rdb = nil }()

	type snapshot struct {
		Active int `json:"active"`
	}
	in := snapshot{Active: 7}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	mock.ExpectSet("stats:queue:chess", data, 5*time.Second).SetVal("OK")
	require.NoError(t, SetStats(context.Background(), "queue:chess", in, 5*time.Second))

	mock.ExpectGet("stats:queue:chess").SetVal(string(data))
	var out snapshot
	ok, err := GetStats(context.Background(), "queue:chess", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in, out)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatsMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	Rdb = db
	defer func() { Rdb = nil }()

	mock.ExpectGet("stats:queue:go").RedisNil()
	var out map[string]int
	ok, err := GetStats(context.Background(), "queue:go", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
