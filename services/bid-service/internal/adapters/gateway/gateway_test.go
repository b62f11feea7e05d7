package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-estates/pkg/auth"
	"github.com/floroz/gavel-estates/pkg/keylock"
	"github.com/floroz/gavel-estates/pkg/testhelpers"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/fanout"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/gateway"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/memory"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

type harness struct {
	server *httptest.Server
	store  *memory.Store
	signer *auth.Signer
	owner  uuid.UUID
}

func newHarness(t *testing.T, mutate func(*gateway.Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewStore()
	hub := fanout.NewHub(256, logger)
	t.Cleanup(hub.Close)
	ledger := bids.NewLedger(store, keylock.New(), store, store, store, hub,
		bids.LedgerConfig{LockTimeout: time.Second, RecentBids: 10}, logger)
	signer := testhelpers.NewTestSigner(t)

	cfg := gateway.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	gw := gateway.New(ledger, store, hub, signer, cfg, logger)

	router := gin.New()
	gw.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &harness{server: server, store: store, signer: signer, owner: uuid.New()}
}

func (h *harness) auction(t *testing.T, private bool) *auctions.Auction {
	t.Helper()
	now := time.Now()
	a := &auctions.Auction{
		ID:              uuid.New(),
		OwnerID:         h.owner,
		Title:           "Seaside villa",
		Status:          auctions.StatusLive,
		StartDate:       now.Add(-time.Hour),
		EndDate:         now.Add(time.Hour),
		StartingBid:     decimal.NewFromInt(1000),
		MinIncrement:    decimal.NewFromInt(100),
		IsPrivate:       private,
		ExtensionWindow: 5 * time.Minute,
		ExtensionLength: 10 * time.Minute,
	}
	require.NoError(t, h.store.CreateAuction(context.Background(), nil, a))
	return a
}

func (h *harness) dial(t *testing.T, path, token string) (*websocket.Conn, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(u, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, err
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// readType reads until a message of type typ arrives.
func readType(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		msg := readJSON(t, ws)
		if msg["type"] == typ {
			return msg
		}
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
}

func send(t *testing.T, ws *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

func TestGateway_AnonymousPublicAuction(t *testing.T) {
	h := newHarness(t, nil)
	a := h.auction(t, false)

	ws, err := h.dial(t, "/ws/auctions/"+a.ID.String(), "")
	require.NoError(t, err)

	msg := readJSON(t, ws)
	assert.Equal(t, gateway.TypeInitialState, msg["type"])
	assert.Equal(t, a.ID.String(), msg["auction_id"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "live", data["status"])
	assert.Equal(t, "1100.00", data["min_next_bid"])
	assert.Nil(t, data["current_bid"])

	send(t, ws, map[string]any{"action": "get_state"})
	state := readJSON(t, ws)
	assert.Equal(t, gateway.TypeAuctionState, state["type"])

	send(t, ws, map[string]any{"action": "place_bid", "amount": 5000, "client_id": "c1"})
	reply := readJSON(t, ws)
	assert.Equal(t, gateway.TypeError, reply["type"])
	assert.Equal(t, gateway.CodeNotAllowed, reply["code"])
	assert.Equal(t, "c1", reply["client_id"])
}

func TestGateway_HandshakeRejections(t *testing.T) {
	h := newHarness(t, nil)
	public := h.auction(t, false)
	private := h.auction(t, true)
	draft := h.auction(t, false)
	draft.Status = auctions.StatusDraft
	require.NoError(t, h.store.UpdateAuction(context.Background(), nil, draft))
	member, outsider, staff := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, h.store.AddInvitations(context.Background(), nil, private.ID, []uuid.UUID{member}))

	tests := []struct {
		name  string
		path  string
		token string
		code  int // 0 means the connection is accepted
	}{
		{"bidding requires identity", "/ws/bidding/" + public.ID.String(), "", gateway.CloseUnauthenticated},
		{"invalid token", "/ws/auctions/" + public.ID.String(), "not-a-token", gateway.CloseUnauthenticated},
		{"private requires identity", "/ws/auctions/" + private.ID.String(), "", gateway.CloseUnauthenticated},
		{"private rejects outsider", "/ws/bidding/" + private.ID.String(), testhelpers.Token(t, h.signer, outsider), gateway.CloseForbidden},
		{"private accepts invited", "/ws/bidding/" + private.ID.String(), testhelpers.Token(t, h.signer, member), 0},
		{"private accepts owner", "/ws/auctions/" + private.ID.String(), testhelpers.Token(t, h.signer, h.owner), 0},
		{"private accepts staff", "/ws/bidding/" + private.ID.String(), testhelpers.Token(t, h.signer, staff, auth.PermissionStaff), 0},
		{"draft hidden from anonymous", "/ws/auctions/" + draft.ID.String(), "", gateway.CloseNotFound},
		{"draft hidden from other users", "/ws/bidding/" + draft.ID.String(), testhelpers.Token(t, h.signer, outsider), gateway.CloseNotFound},
		{"draft visible to owner", "/ws/auctions/" + draft.ID.String(), testhelpers.Token(t, h.signer, h.owner), 0},
		{"draft visible to staff", "/ws/auctions/" + draft.ID.String(), testhelpers.Token(t, h.signer, staff, auth.PermissionStaff), 0},
		{"unknown auction", "/ws/auctions/" + uuid.New().String(), "", gateway.CloseNotFound},
		{"malformed id", "/ws/auctions/not-a-uuid", "", gateway.CloseNotFound},
		{"notifications require identity", "/ws/notifications/" + member.String(), "", gateway.CloseUnauthenticated},
		{"notifications of another user", "/ws/notifications/" + member.String(), testhelpers.Token(t, h.signer, outsider), gateway.CloseForbidden},
		{"own notifications", "/ws/notifications/" + member.String(), testhelpers.Token(t, h.signer, member), 0},
		{"staff reads any notifications", "/ws/notifications/" + member.String(), testhelpers.Token(t, h.signer, staff, auth.PermissionStaff), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, err := h.dial(t, tt.path, tt.token)
			require.NoError(t, err, "the upgrade always succeeds; failures are close frames")
			if tt.code == 0 {
				assert.Equal(t, gateway.TypeInitialState, readJSON(t, ws)["type"])
				return
			}
			expectClose(t, ws, tt.code)
		})
	}
}

func TestGateway_PlaceBidFlow(t *testing.T) {
	h := newHarness(t, nil)
	a := h.auction(t, false)
	alice, bob := uuid.New(), uuid.New()

	watcher, err := h.dial(t, "/ws/auctions/"+a.ID.String(), "")
	require.NoError(t, err)
	readType(t, watcher, gateway.TypeInitialState)

	aliceWS, err := h.dial(t, "/ws/bidding/"+a.ID.String(), testhelpers.Token(t, h.signer, alice))
	require.NoError(t, err)
	readType(t, aliceWS, gateway.TypeInitialState)

	aliceNotes, err := h.dial(t, "/ws/notifications/"+alice.String(), testhelpers.Token(t, h.signer, alice))
	require.NoError(t, err)
	readType(t, aliceNotes, gateway.TypeInitialState)

	bobWS, err := h.dial(t, "/ws/bidding/"+a.ID.String(), testhelpers.Token(t, h.signer, bob))
	require.NoError(t, err)
	readType(t, bobWS, gateway.TypeInitialState)

	send(t, aliceWS, map[string]any{"action": "place_bid", "amount": 1100, "client_id": "a-1"})

	// The submitter sees its bid through the event stream, not a direct acknowledgement.
	first := readJSON(t, aliceWS)
	assert.Equal(t, string(bids.EventNewBid), first["type"])
	bidData := first["data"].(map[string]any)
	assert.Equal(t, "1100.00", bidData["amount"])
	assert.Equal(t, float64(1), bidData["sequence"])

	price := readType(t, watcher, string(bids.EventPriceUpdate))
	assert.Equal(t, "1100.00", price["data"].(map[string]any)["current_bid"])

	send(t, bobWS, map[string]any{"action": "place_bid", "amount": "1150.00", "client_id": "b-1"})
	rejection := readType(t, bobWS, gateway.TypeError)
	assert.Equal(t, string(bids.CodeBidTooLow), rejection["code"])
	assert.Equal(t, "b-1", rejection["client_id"])
	assert.Equal(t, "1200.00", rejection["min_amount"])

	send(t, bobWS, map[string]any{"action": "place_bid", "amount": 1200, "auto_bid_limit": 1500})
	newBid := readType(t, bobWS, string(bids.EventNewBid))
	assert.Equal(t, "1200.00", newBid["data"].(map[string]any)["amount"])
	assert.Equal(t, true, newBid["data"].(map[string]any)["is_auto_bid"])

	outbid := readType(t, aliceNotes, string(bids.EventOutbid))
	assert.Equal(t, "1100.00", outbid["data"].(map[string]any)["amount"])
	assert.Equal(t, "1300.00", outbid["data"].(map[string]any)["min_next_bid"])

	// Alice's bidding stream carries the same ordered events.
	second := readType(t, aliceWS, string(bids.EventNewBid))
	assert.Equal(t, float64(2), second["data"].(map[string]any)["sequence"])
}

func TestGateway_InboundErrorsKeepConnectionOpen(t *testing.T) {
	h := newHarness(t, nil)
	a := h.auction(t, false)

	ws, err := h.dial(t, "/ws/bidding/"+a.ID.String(), testhelpers.Token(t, h.signer, uuid.New()))
	require.NoError(t, err)
	readType(t, ws, gateway.TypeInitialState)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, gateway.CodeInvalidMessage, readJSON(t, ws)["code"])

	send(t, ws, map[string]any{"action": "teleport", "client_id": "x"})
	reply := readJSON(t, ws)
	assert.Equal(t, gateway.CodeUnknownAction, reply["code"])
	assert.Equal(t, "x", reply["client_id"])

	send(t, ws, map[string]any{"action": "place_bid"})
	assert.Equal(t, gateway.CodeInvalidMessage, readJSON(t, ws)["code"])

	send(t, ws, map[string]any{"action": "place_bid", "amount": 1100.001})
	assert.Equal(t, string(bids.CodeInvalidAmount), readJSON(t, ws)["code"])

	send(t, ws, map[string]any{"action": "ping"})
	assert.Equal(t, gateway.TypePong, readJSON(t, ws)["type"])
}

func TestGateway_RateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *gateway.Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 2
	})
	a := h.auction(t, false)

	ws, err := h.dial(t, "/ws/auctions/"+a.ID.String(), "")
	require.NoError(t, err)
	readType(t, ws, gateway.TypeInitialState)

	for i := 0; i < 3; i++ {
		send(t, ws, map[string]any{"action": "ping", "client_id": "p"})
	}
	assert.Equal(t, gateway.TypePong, readJSON(t, ws)["type"])
	assert.Equal(t, gateway.TypePong, readJSON(t, ws)["type"])
	limited := readJSON(t, ws)
	assert.Equal(t, gateway.TypeError, limited["type"])
	assert.Equal(t, gateway.CodeRateLimited, limited["code"])
}

func TestGateway_QueryToken(t *testing.T) {
	h := newHarness(t, nil)
	a := h.auction(t, false)
	token := testhelpers.Token(t, h.signer, uuid.New())

	ws, err := h.dial(t, "/ws/bidding/"+a.ID.String()+"?token="+token, "")
	require.NoError(t, err)
	assert.Equal(t, gateway.TypeInitialState, readJSON(t, ws)["type"])
}
