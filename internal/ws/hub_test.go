package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
	"messaging-service/internal/presence"
)

func newTestHub() (*Hub, *presence.Store) {
	store := presence.NewStore(30*time.Minute, 2*time.Minute)
	return NewHub(store), store
}

func newTestClient(hub *Hub, store *presence.Store, userID int, connID string) *Client {
	return NewClient(hub, nil, ConnInfo{ConnID: connID, UserID: userID, Device: "test"}, store)
}

func TestRegisterFeedsPresence(t *testing.T) {
	hub, store := newTestHub()
	client := newTestClient(hub, store, 1, "c1")

	hub.Register(client)
	assert.Equal(t, models.StatusOnline, store.GetAggregatedPresence(1).Status)

	hub.Unregister(client)
	assert.Equal(t, models.StatusOffline, store.GetAggregatedPresence(1).Status)
}

func TestUnregisterTwiceIsSafe(t *testing.T) {
	hub, store := newTestHub()
	client := newTestClient(hub, store, 1, "c1")

	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)
	assert.Equal(t, models.StatusOffline, store.GetAggregatedPresence(1).Status)
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	hub, store := newTestHub()
	phone := newTestClient(hub, store, 1, "phone")
	laptop := newTestClient(hub, store, 1, "laptop")
	other := newTestClient(hub, store, 2, "other")
	hub.Register(phone)
	hub.Register(laptop)
	hub.Register(other)

	msg := models.Message{ID: "m1", SenderID: 2, ReceiverID: 1, State: models.StateSent}
	hub.SendToUser(1, models.WireEvent{Type: "message", Message: &msg})

	for _, c := range []*Client{phone, laptop} {
		select {
		case payload := <-c.send:
			var event models.WireEvent
			require.NoError(t, json.Unmarshal(payload, &event))
			assert.Equal(t, "message", event.Type)
			require.NotNil(t, event.Message)
			assert.Equal(t, "m1", event.Message.ID)
		default:
			t.Fatalf("connection %s received nothing", c.info.ConnID)
		}
	}
	assert.Empty(t, other.send, "other users must not see the message")
}

func TestSendToOfflineUserIsNoop(t *testing.T) {
	hub, _ := newTestHub()
	hub.SendToUser(7, models.WireEvent{Type: "message"})
}

func TestSendToUserRacesUnregister(t *testing.T) {
	hub, store := newTestHub()

	for i := 0; i < 200; i++ {
		client := newTestClient(hub, store, 7, fmt.Sprintf("c%d", i))
		hub.Register(client)

		drained := make(chan struct{})
		go func() {
			for range client.send {
			}
			close(drained)
		}()

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.SendToUser(7, models.WireEvent{Type: "message"})
			}()
		}
		hub.Unregister(client)
		wg.Wait()
		<-drained
	}
	assert.Equal(t, models.StatusOffline, store.GetAggregatedPresence(7).Status)
}

func TestSendAfterUnregisterIsDropped(t *testing.T) {
	hub, store := newTestHub()
	client := newTestClient(hub, store, 1, "c1")
	hub.Register(client)
	hub.Unregister(client)

	// Pushes after the client is gone are silent no-ops.
	hub.SendToUser(1, models.WireEvent{Type: "message"})
	hub.BroadcastPresence(models.AggregatedPresence{UserID: 1, Status: models.StatusOffline})

	queued, closed := client.trySend([]byte("{}"))
	assert.False(t, queued)
	assert.True(t, closed)
}

func TestBroadcastPresenceReachesEveryone(t *testing.T) {
	hub, store := newTestHub()
	a := newTestClient(hub, store, 1, "a")
	b := newTestClient(hub, store, 2, "b")
	hub.Register(a)
	hub.Register(b)

	hub.BroadcastPresence(models.AggregatedPresence{UserID: 1, Status: models.StatusBusy})

	for _, c := range []*Client{a, b} {
		select {
		case payload := <-c.send:
			var event models.WireEvent
			require.NoError(t, json.Unmarshal(payload, &event))
			assert.Equal(t, "presence", event.Type)
			require.NotNil(t, event.Presence)
			assert.Equal(t, models.StatusBusy, event.Presence.Status)
		default:
			t.Fatalf("client %s received nothing", c.info.ConnID)
		}
	}
}
