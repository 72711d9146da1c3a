package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []published
	failTopic    string
	disconnected bool
}

func (f *fakeClient) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == f.failTopic {
		return errors.New("broker down")
	}
	f.messages = append(f.messages, published{topic, payload})
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "maintenance/record.completed", NewNotifier(nil, "maintenance/", nil).Topic(events.RecordCompleted))
	assert.Equal(t, "cycle.created", NewNotifier(nil, "", nil).Topic(events.CycleCreated))
}

func TestRunForwardsEventsUntilFeedCloses(t *testing.T) {
	client := &fakeClient{failTopic: "plant/record.deleted"}
	n := NewNotifier(client, "plant", zaptest.NewLogger(t))

	record := maintenance.Record{ID: uuid.New(), MachineName: "bal1-pc"}
	feed := make(chan events.Event, 3)
	feed <- events.New(events.RecordDeleted, record)
	feed <- events.New(events.RecordCompleted, record)
	feed <- events.New(events.CycleCreated, record)
	close(feed)

	n.Run(context.Background(), feed)

	require.Len(t, client.messages, 2, "a failed publish does not stop the loop")
	assert.Equal(t, "plant/record.completed", client.messages[0].topic)
	assert.Equal(t, "plant/cycle.created", client.messages[1].topic)
	assert.True(t, client.disconnected)

	var got events.Event
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &got))
	assert.Equal(t, record.ID, got.Record.ID)
}

func TestRunStopsOnCancel(t *testing.T) {
	client := &fakeClient{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewNotifier(client, "plant", zaptest.NewLogger(t)).Run(ctx, make(chan events.Event))
	assert.True(t, client.disconnected)
}
