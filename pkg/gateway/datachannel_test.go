package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/kiosk/pkg/config"
	"github.com/vango-go/kiosk/pkg/control"
	"github.com/vango-go/kiosk/pkg/router"
	"github.com/vango-go/kiosk/pkg/session"
)

// TestDatachannel_UpgradeSucceedsThroughFullMiddlewareChain proves the
// websocket upgrade survives being routed through Server.Handler()'s
// AccessLog wrapper, which previously broke every /datachannel connection
// because its statusWriter did not forward http.Hijacker.
func TestDatachannel_UpgradeSucceedsThroughFullMiddlewareChain(t *testing.T) {
	cfg := config.Config{Addr: ":0", AuthMode: config.AuthModeDisabled}
	rtr := router.New()
	registry := session.New(session.Config{
		IdleTimeout:    time.Hour,
		Duration:       time.Hour,
		SweepInterval:  time.Hour,
		SweepRetention: time.Hour,
	}, fakeRooms{}, session.NewTokenIssuer("s", time.Hour), nil)

	srv := New(cfg, registry, nil, rtr, nil, nil, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	res, err := registry.Create("kiosk_1")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/datachannel?room=" + res.RoomID + "&token=" + res.CapabilityToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
}

type fakeTerminator struct {
	terminated chan string
}

func (f *fakeTerminator) TerminateSession(sessionID string) {
	f.terminated <- sessionID
}

// TestDatachannel_OperatorTerminateFrameEndsSession proves an inbound
// terminate_session frame on the operator room reaches the registry via
// the Terminator collaborator, completing the operator force-terminate
// path end-to-end rather than just at the unit level.
func TestDatachannel_OperatorTerminateFrameEndsSession(t *testing.T) {
	cfg := config.Config{Addr: ":0", AuthMode: config.AuthModeDisabled}
	rtr := router.New()
	registry := session.New(session.Config{
		IdleTimeout:    time.Hour,
		Duration:       time.Hour,
		SweepInterval:  time.Hour,
		SweepRetention: time.Hour,
	}, fakeRooms{}, session.NewTokenIssuer("s", time.Hour), nil)
	ticker := session.NewTicker(registry, rtr, time.Hour)

	srv := New(cfg, registry, nil, rtr, nil, nil, ticker, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	res, err := registry.Create("kiosk_1")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/datachannel?room=" + session.OperatorRoomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	raw, err := control.TerminateSession{SessionID: res.SessionID}.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool {
		snap, ok := registry.Lookup(res.SessionID)
		return ok && snap.State == session.StateEnded
	}, time.Second, 5*time.Millisecond)

	snap, _ := registry.Lookup(res.SessionID)
	require.Equal(t, session.ReasonOperatorTerminate, snap.EndReason)
}
