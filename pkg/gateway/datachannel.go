package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-go/kiosk/pkg/control"
	"github.com/vango-go/kiosk/pkg/router"
	"github.com/vango-go/kiosk/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Terminator is the subset of the Remaining-Time Broadcaster the
// datachannel handler needs to act on an inbound operator
// terminate_session frame.
type Terminator interface {
	TerminateSession(sessionID string)
}

// DatachannelHandler upgrades a client or operator connection to a
// websocket and joins it to its room on the router. A kiosk client
// presents its capability token as a query parameter; the reserved
// operator room requires no token since it carries no per-session secret.
// Terminator is nil-able: without one, inbound operator frames are still
// drained but never acted on.
type DatachannelHandler struct {
	Registry   *session.Registry
	Router     *router.Router
	Terminator Terminator
}

func (h DatachannelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID != session.OperatorRoomID {
		token := r.URL.Query().Get("token")
		claims, err := h.Registry.ValidateToken(token)
		if err != nil || claims.RoomID != roomID {
			http.Error(w, "invalid capability token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	leave := h.Router.Join(roomID, conn)
	defer leave()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if roomID != session.OperatorRoomID || h.Terminator == nil {
			continue
		}
		h.handleOperatorFrame(data)
	}
}

// handleOperatorFrame decodes an inbound operator-room frame and acts on
// the ones the server understands; anything else (including a malformed
// frame) is ignored rather than tearing down the connection.
func (h DatachannelHandler) handleOperatorFrame(data []byte) {
	msg, err := control.Decode(data)
	if err != nil {
		return
	}
	if term, ok := msg.(control.TerminateSession); ok {
		h.Terminator.TerminateSession(term.SessionID)
	}
}
