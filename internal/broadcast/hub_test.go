package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainRenderer struct{}

func (plainRenderer) Message(evt events.Event) events.Message {
	msg := events.Message{Type: evt.Type, OwnerId: evt.OwnerId, SentAt: evt.At}
	if evt.Wallet != nil {
		msg.Balance = &events.BalancePayload{Currency: evt.Wallet.Currency, NewBalance: evt.Wallet.Balance}
	}
	return msg
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(plainRenderer{}, nil, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeConn(conn, r.URL.Query().Get("owner"))
	}))
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, owner string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?owner="+owner, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func balanceEvent(owner, amount string) events.Event {
	return events.FromWallet(models.Wallet{
		OwnerId:  owner,
		Currency: "USDT",
		Balance:  decimal.RequireFromString(amount),
	}, time.Now())
}

func readMessage(t *testing.T, conn *websocket.Conn) events.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_DeliversToAllOwnerConnections(t *testing.T) {
	hub, url := startHub(t)
	phone := dial(t, url, "owner1")
	laptop := dial(t, url, "owner1")
	other := dial(t, url, "owner2")

	require.Eventually(t, func() bool {
		return hub.Connections("owner1") == 2 && hub.Connections("owner2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, hub.Deliver(balanceEvent("owner1", "130")))

	for _, conn := range []*websocket.Conn{phone, laptop} {
		msg := readMessage(t, conn)
		assert.Equal(t, events.BalanceUpdated, msg.Type)
		assert.Equal(t, "owner1", msg.OwnerId)
		require.NotNil(t, msg.Balance)
		assert.Equal(t, "130", msg.Balance.NewBalance.String())
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "owner2 must not see owner1's events")
}

func TestHub_UnregistersClosedConnections(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url, "owner1")

	require.Eventually(t, func() bool { return hub.Connections("owner1") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Connections("owner1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, hub.Deliver(balanceEvent("owner1", "1")))
}

func TestHub_RunFromBus(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url, "owner1")
	require.Eventually(t, func() bool { return hub.Connections("owner1") == 1 }, 2*time.Second, 10*time.Millisecond)

	bus := events.NewBus()
	sub := bus.Subscribe("websocket", 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.Run(ctx, sub)
		close(done)
	}()

	bus.Publish(balanceEvent("owner1", "5"), balanceEvent("owner1", "6"))
	assert.Equal(t, "5", readMessage(t, conn).Balance.NewBalance.String())
	assert.Equal(t, "6", readMessage(t, conn).Balance.NewBalance.String())

	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}

func TestClient_SendDropsWhenFull(t *testing.T) {
	c := newClient(nil, "owner1", 1)

	assert.True(t, c.Send([]byte("a")))
	assert.False(t, c.Send([]byte("b")))

	c.Close()
	<-c.send
	assert.False(t, c.Send([]byte("c")), "closed client accepts nothing")
}

func TestHub_MessageIsJSONEnvelope(t *testing.T) {
	data, err := json.Marshal(plainRenderer{}.Message(balanceEvent("owner1", "2.5")))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "BALANCE_UPDATED", raw["type"])
	assert.Equal(t, "owner1", raw["ownerId"])
	assert.Contains(t, raw, "balance")
	assert.NotContains(t, raw, "slot")
}
