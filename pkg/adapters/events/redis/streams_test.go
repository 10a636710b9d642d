package redis

import (
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
)

func TestIsBroadcastTopic(t *testing.T) {
	// Lifecycle events fan out to every subscriber; run requests are a work
	// queue where exactly one worker takes each event.
	assert.True(t, isBroadcastTopic(domain.TopicRunEvents))
	assert.False(t, isBroadcastTopic(domain.TopicRunRequests))
}

func TestDecodeMessage(t *testing.T) {
	payload, err := json.Marshal(domain.Event{
		ID:    "evt-1",
		Type:  domain.EventTypeRunSubmitted,
		RunID: "run-1",
	})
	require.NoError(t, err)

	event, ok := decodeMessage(zap.NewNop(), "stream", redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": string(payload)},
	})
	require.True(t, ok)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "run-1", event.RunID)
}

func TestDecodeMessageMalformed(t *testing.T) {
	_, ok := decodeMessage(zap.NewNop(), "stream", redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{},
	})
	assert.False(t, ok)

	_, ok = decodeMessage(zap.NewNop(), "stream", redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"data": "not json"},
	})
	assert.False(t, ok)
}
