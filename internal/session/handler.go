package session

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/tradegate/internal/fillstore"
	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/universe"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades inbound HTTP connections to WebSocket sessions, each
// built from a freshly constructed Provider so that sessions never share
// broker credentials or HTTP clients.
func Handler(newProvider func(override string) (provider.Provider, error), fills *fillstore.Store, resolv *universe.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("session: websocket upgrade: %v", err)
			return
		}

		prov, err := newProvider("")
		if err != nil {
			log.Printf("session: construct provider: %v", err)
			conn.Close()
			return
		}

		if err := prov.Connect(r.Context()); err != nil {
			log.Printf("session: provider connect: %v", err)
			conn.Close()
			return
		}

		sess := New(r.Context(), conn, prov, fills, resolv)

		go writePump(sess, conn)
		readPump(sess, conn)
	}
}

// readPump blocks reading inbound frames until the connection fails or the
// session is closed; it is the only goroutine that mutates session state.
func readPump(sess *Session, conn *websocket.Conn) {
	defer func() {
		sess.Close()
		sess.Wait()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("session: read error: %v", err)
			}
			return
		}
		sess.HandleMessage(message)
	}
}

// writePump drains the session's outbound queue to the socket and keeps the
// connection alive with periodic pings.
func writePump(sess *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sess.SendCh():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sess.Done():
			return
		}
	}
}
