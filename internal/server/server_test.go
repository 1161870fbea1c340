package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slot-ledger-go/internal/api"
	"slot-ledger-go/internal/broadcast"
	"slot-ledger-go/internal/common"
	"slot-ledger-go/internal/database"
	"slot-ledger-go/internal/events"
	"slot-ledger-go/internal/metrics"
	"slot-ledger-go/internal/models"
	"slot-ledger-go/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type fixture struct {
	srv    *httptest.Server
	db     *database.Service
	ledger *api.LedgerService
	bus    *events.Bus
	hub    *broadcast.Hub
}

func setup(t *testing.T, claimBurst int) *fixture {
	t.Helper()

	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)

	catalog := &common.CurrencyCatalog{Settlement: common.SettlementCurrency{Symbol: "USDT", Precision: 6}}
	bus := events.NewBus()
	ledger := api.NewLedgerService(db, catalog, bus)
	m := metrics.New()
	hub := broadcast.NewHub(ledger.Views(), m, 16)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, bus.Subscribe("websocket", 64))

	s := New(models.ServerConfig{
		JWTSecret:          secret,
		ClaimRatePerMinute: 60,
		ClaimBurst:         claimBurst,
	}, ledger, hub, m)
	srv := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
		cancel()
		bus.Close()
		db.Close()
	})
	return &fixture{srv: srv, db: db, ledger: ledger, bus: bus, hub: hub}
}

func token(t *testing.T, owner string) string {
	t.Helper()
	signed, _, err := IssueToken(owner, secret, time.Hour)
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, bearer string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func (f *fixture) openSlot(t *testing.T, owner string) *models.SlotView {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Deposit(ctx, owner, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	slot, err := f.ledger.Invest(ctx, owner, decimal.NewFromInt(100), decimal.Zero)
	require.NoError(t, err)
	return slot
}

func (f *fixture) expire(t *testing.T, slot *models.SlotView) {
	t.Helper()
	_, err := f.db.ExpireSlot(context.Background(), store.ExpireUpdate{
		SlotId:          slot.Id,
		ExpectedVersion: slot.LockVersion,
		AccruedEarnings: slot.Cap,
		LastAccruedAt:   slot.ExpiresAt,
		ExpiredAt:       slot.ExpiresAt,
	})
	require.NoError(t, err)
}

func TestAuthentication(t *testing.T) {
	f := setup(t, 5)

	status, body := f.do(t, http.MethodGet, "/v1/state", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	forged, _, err := IssueToken("owner1", "other-secret", time.Hour)
	require.NoError(t, err)
	status, _ = f.do(t, http.MethodGet, "/v1/state", forged)
	assert.Equal(t, http.StatusUnauthorized, status)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "owner1",
		Issuer:  issuer,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	status, _ = f.do(t, http.MethodGet, "/v1/state", unsigned)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = f.do(t, http.MethodGet, "/v1/state", token(t, "owner1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "owner1", body["ownerId"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t, 5)

	status, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSlotQueries(t *testing.T) {
	f := setup(t, 5)
	slot := f.openSlot(t, "owner1")

	status, body := f.do(t, http.MethodGet, "/v1/slots", token(t, "owner1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["slots"], 1)

	status, body = f.do(t, http.MethodGet, "/v1/slots/"+slot.Id, token(t, "owner1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ACTIVE", body["state"])
	assert.Equal(t, "30", body["cap"])

	status, body = f.do(t, http.MethodGet, "/v1/slots/"+slot.Id, token(t, "owner2"))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])

	status, body = f.do(t, http.MethodGet, "/v1/wallets", token(t, "owner1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["wallets"], 1)

	status, body = f.do(t, http.MethodGet, "/v1/transactions", token(t, "owner1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 2)
}

func TestTransactionHistory_Paging(t *testing.T) {
	f := setup(t, 5)
	f.openSlot(t, "owner1")
	bearer := token(t, "owner1")

	for _, query := range []string{"limit=-1", "limit=0", "limit=abc", "offset=-5", "offset=x"} {
		status, body := f.do(t, http.MethodGet, "/v1/transactions?"+query, bearer)
		assert.Equal(t, http.StatusBadRequest, status, query)
		assert.Equal(t, "INVALID_ARGUMENT", body["code"], query)
	}

	status, body := f.do(t, http.MethodGet, "/v1/transactions?limit=1&offset=1", bearer)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 1)

	status, body = f.do(t, http.MethodGet, "/v1/transactions?limit=5000", bearer)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 2)
}

func TestManualClaim(t *testing.T) {
	f := setup(t, 5)
	slot := f.openSlot(t, "owner1")
	path := "/v1/slots/" + slot.Id + "/claim"

	status, body := f.do(t, http.MethodPost, path, token(t, "owner1"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOT_YET_EXPIRED", body["code"])

	f.expire(t, slot)

	status, _ = f.do(t, http.MethodPost, path, token(t, "owner2"))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPost, path, token(t, "owner1"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "130", body["payout"])
	assert.Equal(t, "130", body["newBalance"])

	status, body = f.do(t, http.MethodPost, path, token(t, "owner1"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_CLAIMED", body["code"])
}

func TestManualClaim_RateLimited(t *testing.T) {
	f := setup(t, 1)
	bearer := token(t, "owner1")

	status, _ := f.do(t, http.MethodPost, "/v1/slots/missing/claim", bearer)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := f.do(t, http.MethodPost, "/v1/slots/missing/claim", bearer)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", body["code"])

	// Buckets are per owner
	status, _ = f.do(t, http.MethodPost, "/v1/slots/missing/claim", token(t, "owner2"))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWebsocketFeed(t *testing.T) {
	f := setup(t, 5)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/ws?token=" + token(t, "owner1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Connections("owner1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = f.ledger.Deposit(context.Background(), "owner1", decimal.NewFromInt(25), "")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.BalanceUpdated, msg.Type)
	require.NotNil(t, msg.Balance)
	assert.Equal(t, "25", msg.Balance.NewBalance.String())

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/v1/ws", nil)
	assert.Error(t, err, "unauthenticated upgrade must be refused")
}
