package ws

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

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMRITESH240304/AgentMint/internal/cache/local"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

func startHub(t *testing.T, snapshot func() []domain.AuctionView) (*local.SignalBus, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := local.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Snapshot: snapshot})
	go func() { _ = hub.Run(ctx) }()
	<-hub.Ready()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return bus, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubSnapshotAndUpdates(t *testing.T) {
	views := []domain.AuctionView{{AuctionID: "nft-1", HighestBid: decimal.NewFromInt(1)}}
	bus, conn := startHub(t, func() []domain.AuctionView { return views })

	assert.Equal(t, "hello", readEnvelope(t, conn).Type)
	snap := readEnvelope(t, conn)
	assert.Equal(t, "auction_view", snap.Type)
	assert.Equal(t, "auction:nft-1", snap.Channel)

	payload, err := json.Marshal(domain.AuctionView{AuctionID: "nft-2", RemainingSeconds: 7})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), "auction:nft-2", payload))

	env := readEnvelope(t, conn)
	assert.Equal(t, "auction:nft-2", env.Channel)
	var got domain.AuctionView
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, 7, got.RemainingSeconds)
}

func TestViewFrameRejectsGarbage(t *testing.T) {
	_, _, err := viewFrame([]byte(`{"auctionId":""}`))
	assert.Error(t, err)
	_, _, err = viewFrame([]byte(`nope`))
	assert.Error(t, err)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{DefaultPattern: true}}
	assert.True(t, c.isSubscribed("auction:nft-1"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{DefaultPattern}})
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"auction:nft-2"}})
	assert.False(t, c.isSubscribed("auction:nft-1"))
	assert.True(t, c.isSubscribed("auction:nft-2"))
}
