//go:build integration

package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetwise/pkg/logging"
)

func TestRedisPublisher_RoundTrip(t *testing.T) {
	addr := os.Getenv("MEETWISE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEETWISE_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	sub := client.Subscribe(ctx, ChannelArtifactRecorded)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, logging.NewNopLogger())
	require.NoError(t, p.PublishArtifactRecorded(ctx, ArtifactRecordedEvent{MeetingID: "m-1", Kind: "summary", MeetingVersion: 7}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got ArtifactRecordedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "meeting.artifact_recorded", got.EventType)
	assert.Equal(t, "summary", got.Kind)
	assert.EqualValues(t, 7, got.MeetingVersion)
}
