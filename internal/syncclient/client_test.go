package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/predictor"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func slot(accrued string, version int64) models.SlotView {
	return models.SlotView{
		Id:                  "slot1",
		OwnerId:             "owner1",
		Principal:           decimal.NewFromInt(100),
		EffectiveWeeklyRate: decimal.RequireFromString("0.3"),
		Cap:                 decimal.NewFromInt(30),
		AccruedEarnings:     decimal.RequireFromString(accrued),
		LastAccruedAt:       t0,
		CreatedAt:           t0,
		ExpiresAt:           t0.Add(7 * 24 * time.Hour),
		State:               models.SlotStateActive,
		LockVersion:         version,
	}
}

type fakeEngine struct {
	pulls   atomic.Int32
	dials   atomic.Int32
	dropWS  bool
	pushes  []events.Message
	upgrade websocket.Upgrader
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/v1/state":
		f.pulls.Add(1)
		json.NewEncoder(w).Encode(models.StateView{
			OwnerId:    "owner1",
			ServerTime: time.Now(),
			Precision:  6,
			Slots:      []models.SlotView{slot("1", 2)},
		})
	case "/v1/ws":
		f.dials.Add(1)
		conn, err := f.upgrade.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range f.pushes {
			conn.WriteJSON(msg)
		}
		if f.dropWS {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	default:
		http.NotFound(w, r)
	}
}

func TestClient_PullsAndStreams(t *testing.T) {
	pushed := slot("2", 3)
	engine := &fakeEngine{pushes: []events.Message{{Type: events.SlotUpdated, OwnerId: "owner1", Slot: &pushed}}}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	p := predictor.New(nil)
	var changes atomic.Int32
	client := New(Config{
		ServerURL:    srv.URL,
		Token:        "good",
		PullInterval: time.Hour,
		OnChange:     func() { changes.Add(1) },
	}, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := p.Predict("slot1", t0)
		return err == nil && got.Equal(decimal.NewFromInt(2))
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, engine.pulls.Load(), int32(1))
	assert.GreaterOrEqual(t, changes.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestClient_ReconnectsAndPullsAgain(t *testing.T) {
	engine := &fakeEngine{dropWS: true}
	srv := httptest.NewServer(engine)
	defer srv.Close()

	client := New(Config{
		ServerURL:      srv.URL,
		Token:          "good",
		PullInterval:   time.Hour,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, predictor.New(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	assert.Eventually(t, func() bool {
		return engine.dials.Load() >= 3 && engine.pulls.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_StopsOnRejectedToken(t *testing.T) {
	srv := httptest.NewServer(&fakeEngine{})
	defer srv.Close()

	client := New(Config{ServerURL: srv.URL, Token: "bad", PullInterval: time.Hour}, predictor.New(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, client.Run(ctx), ErrUnauthorized)
}

func TestFeedURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/v1/ws", false},
		{"https://engine.example.com/", "wss://engine.example.com/v1/ws", false},
		{"ftp://nope", "", true},
	}
	for _, tt := range tests {
		got, err := feedURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewHTTPClient_NegotiatesHTTP2(t *testing.T) {
	client, err := newHTTPClient()
	require.NoError(t, err)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Contains(t, tr.TLSClientConfig.NextProtos, "h2")
}
