package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
)

func testConnection(cm *ConnectionManager, email string, buffer int) *Connection {
	return &Connection{
		ID:       email,
		Identity: models.Identity{Email: email},
		Send:     make(chan []byte, buffer),
		Manager:  cm,
	}
}

func countEvent(t *testing.T) *round.Event {
	t.Helper()
	ev, err := round.NewEvent(round.EventTypePlayerCountUpdate, models.RoomSnapshot{}, round.PlayerCountPayload{})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	return ev
}

func TestBroadcastDuringDisconnects(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	var lastClosed atomic.Int32
	cm.OnLastClose(func(models.Identity) { lastClosed.Add(1) })
	ev := countEvent(t)

	const players = 50
	const broadcasts = 200
	leaving := make([]*Connection, players)
	for i := range leaving {
		leaving[i] = testConnection(cm, fmt.Sprintf("p%d@example.com", i), 2*broadcasts+1)
		cm.registerConnection(leaving[i])
	}
	joining := make([]*Connection, players)
	for i := range joining {
		joining[i] = testConnection(cm, fmt.Sprintf("n%d@example.com", i), 2*broadcasts+1)
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range broadcasts {
				cm.handleBroadcast(BroadcastMessage{Event: ev})
			}
		}()
	}
	for i := range players {
		wg.Add(2)
		go func(c *Connection) {
			defer wg.Done()
			cm.unregisterConnection(c)
		}(leaving[i])
		go func(c *Connection) {
			defer wg.Done()
			cm.registerConnection(c)
			cm.handleBroadcast(BroadcastMessage{Event: ev, Target: c})
		}(joining[i])
	}
	wg.Wait()

	if got := cm.ConnectionCount(); got != players {
		t.Errorf("Expected %d connections, got %d", players, got)
	}
	if got := lastClosed.Load(); got != players {
		t.Errorf("Expected %d last-close callbacks, got %d", players, got)
	}
	for _, c := range leaving {
		for range c.Send {
		}
	}
	for _, c := range joining {
		if len(c.Send) == 0 {
			t.Errorf("Expected %s to receive its targeted event", c.ID)
		}
	}
}

func TestTargetedEventSkipsClosedConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := testConnection(cm, "a@example.com", 4)
	cm.registerConnection(c)
	cm.unregisterConnection(c)

	cm.handleBroadcast(BroadcastMessage{Event: countEvent(t), Target: c})

	if _, ok := <-c.Send; ok {
		t.Error("Expected no delivery to a closed connection")
	}
}

func TestSlowConnectionIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	var closed []string
	cm.OnLastClose(func(id models.Identity) { closed = append(closed, id.Email) })

	slow := testConnection(cm, "slow@example.com", 1)
	fast := testConnection(cm, "fast@example.com", 4)
	cm.registerConnection(slow)
	cm.registerConnection(fast)

	ev := countEvent(t)
	cm.handleBroadcast(BroadcastMessage{Event: ev})
	cm.handleBroadcast(BroadcastMessage{Event: ev})

	if got := cm.ConnectionCount(); got != 1 {
		t.Errorf("Expected only the fast connection left, got %d", got)
	}
	if len(closed) != 1 || closed[0] != "slow@example.com" {
		t.Errorf("Expected slow connection closed, got %v", closed)
	}
	if len(fast.Send) != 2 {
		t.Errorf("Expected fast connection to hold 2 events, got %d", len(fast.Send))
	}
}
