// Package session owns the per-connection protocol engine: it parses
// client frames, routes configure/order actions, and drives the tick and
// universe-update fan-out to one client. Adapted from the feed simulator's
// client/session bookkeeping onto the gateway's provider+universe model.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/ndrandal/tradegate/internal/fillstore"
	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/schema"
	"github.com/ndrandal/tradegate/internal/universe"
)

// sendBufferSize bounds the outbound queue; once it is full, further frames
// for a slow client are dropped rather than blocking the tick pump forever.
const sendBufferSize = 256

// envelope is the wire frame shared by every client → server message. Both
// the v1 (fields at top level) and v2 (fields under "data") shapes parse
// into the same RawMessage, selected by whether "data" is present.
type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// configurePayload is the body of a "configure" action, in either shape.
type configurePayload struct {
	PaperTrade      *bool             `json:"paper_trade"`
	ProtocolVersion int               `json:"protocol_version"`
	Subscribe       []string          `json:"subscribe"`
	Filter          *schema.FilterSpec `json:"filter"`
}

// orderPayload is the body of an "order" action, in either shape.
type orderPayload struct {
	Symbol     string           `json:"symbol"`
	Qty        int              `json:"qty"`
	Side       schema.OrderSide `json:"side"`
	Type       schema.OrderType `json:"type"`
	LimitPrice *float64         `json:"limit_price"`
}

// Session is one client connection: one provider, at most one universe
// manager, and the goroutines that pump ticks and universe updates to it.
type Session struct {
	conn   *websocket.Conn
	prov   provider.Provider
	fills  *fillstore.Store
	resolv *universe.Resolver

	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu              sync.Mutex
	paperTrade      bool
	protocolVersion int
	universeMgr     *universe.Manager
	tickStarted     bool

	closeOnce sync.Once
}

// New constructs a Session. The caller feeds inbound frames to
// HandleMessage, drains SendCh to the client, and calls Close and Wait on
// disconnect.
func New(ctx context.Context, conn *websocket.Conn, prov provider.Provider, fills *fillstore.Store, resolv *universe.Resolver) *Session {
	sessCtx, cancel := context.WithCancel(ctx)
	return &Session{
		conn:            conn,
		prov:            prov,
		fills:           fills,
		resolv:          resolv,
		sendCh:          make(chan []byte, sendBufferSize),
		ctx:             sessCtx,
		cancel:          cancel,
		paperTrade:      true,
		protocolVersion: 1,
	}
}

// Close cancels the session and everything it owns. Safe to call more than
// once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		mgr := s.universeMgr
		s.mu.Unlock()
		if mgr != nil {
			mgr.Stop()
		}
		// sendCh is left open: tick and universe goroutines may still call
		// send until Wait returns, and the write pump exits on Done.
	})
}

// Done reports whether the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// SendCh exposes the outbound queue to the write pump.
func (s *Session) SendCh() <-chan []byte {
	return s.sendCh
}

// send enqueues a frame for delivery, dropping it if the session is already
// closed or the client is too slow to keep up — a session never blocks on a
// stuck client.
func (s *Session) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("session: marshal outbound frame: %v", err)
		return
	}
	select {
	case <-s.ctx.Done():
	case s.sendCh <- data:
	default:
		log.Printf("session: outbound buffer full, dropping frame")
	}
}

// HandleMessage parses one inbound client frame and routes it. Malformed
// JSON and unknown actions are dropped silently, matching the gateway's
// ProtocolError policy: a session is never torn down for bad client input.
func (s *Session) HandleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Action {
	case "configure":
		var payload configurePayload
		if err := unmarshalShape(raw, env.Data, &payload); err != nil {
			return
		}
		s.handleConfigure(payload)
	case "order":
		var payload orderPayload
		if err := unmarshalOrderShape(raw, env.Data, &payload); err != nil {
			return
		}
		s.handleOrder(payload)
	default:
		// Unknown action: ignored silently.
	}
}

// unmarshalShape decodes payload from env.Data (v2 shape) if present,
// falling back to the whole raw frame (v1 shape, fields at top level).
func unmarshalShape(raw []byte, data json.RawMessage, out interface{}) error {
	if len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return json.Unmarshal(raw, out)
}

// unmarshalOrderShape is unmarshalShape plus the spec's explicit v1
// fallback: a data-less top-level message is only accepted as an order if
// it actually carries a "symbol" field, so a configure message without
// "data" never misparses into a zero-value order.
func unmarshalOrderShape(raw []byte, data json.RawMessage, out *orderPayload) error {
	if len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return err
	}
	if _, ok := probe["symbol"]; !ok {
		return fmt.Errorf("session: v1 order fallback requires a top-level symbol field")
	}
	return json.Unmarshal(raw, out)
}

func (s *Session) handleConfigure(payload configurePayload) {
	s.mu.Lock()
	if payload.PaperTrade != nil {
		s.paperTrade = *payload.PaperTrade
	}
	if payload.ProtocolVersion != 0 {
		s.protocolVersion = payload.ProtocolVersion
	}
	protocolVersion := s.protocolVersion
	prevMgr := s.universeMgr
	s.universeMgr = nil
	s.mu.Unlock()

	// A new universe manager (or a static subscribe) always retires any
	// existing one first, so exactly one writer ever calls
	// SetSubscriptions on the provider at a time.
	if prevMgr != nil {
		prevMgr.Stop()
	}

	switch {
	case payload.Filter != nil:
		mgr := universe.NewManager(s.resolv, s.prov, *payload.Filter, func(u schema.UniverseUpdate) {
			s.send(s.wrap("universe", u))
		})
		s.mu.Lock()
		s.universeMgr = mgr
		s.mu.Unlock()
		s.wg.Go(func() { mgr.Run(s.ctx) })

	case len(payload.Subscribe) > 0:
		if err := s.prov.SetSubscriptions(s.ctx, payload.Subscribe); err != nil {
			log.Printf("session: static subscribe failed: %v", err)
		} else if protocolVersion >= 2 {
			s.send(s.wrap("universe", schema.UniverseUpdate{
				Added:    payload.Subscribe,
				Removed:  []string{},
				Universe: payload.Subscribe,
				Reason:   "static_subscribe",
			}))
		}
	}

	s.mu.Lock()
	started := s.tickStarted
	if !started {
		s.tickStarted = true
	}
	s.mu.Unlock()
	if !started {
		s.wg.Go(s.pumpTicks)
	}
}

func (s *Session) handleOrder(payload orderPayload) {
	s.mu.Lock()
	paperTrade := s.paperTrade
	s.mu.Unlock()

	if !paperTrade {
		log.Printf("session: live order routing not implemented, dropping order for %s", payload.Symbol)
		return
	}

	order := schema.Order{
		Symbol:     payload.Symbol,
		Qty:        payload.Qty,
		Side:       payload.Side,
		Type:       payload.Type,
		LimitPrice: payload.LimitPrice,
	}
	if _, err := s.fills.ExecuteOrder(s.ctx, order); err != nil {
		log.Printf("session: execute order: %v", err)
	}
}

// pumpTicks reads the provider's tick stream and forwards each tick to the
// client, shaped per the session's negotiated protocol version.
func (s *Session) pumpTicks() {
	stream, err := s.prov.Stream(s.ctx)
	if err != nil {
		log.Printf("session: start stream: %v", err)
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case tick, ok := <-stream:
			if !ok {
				return
			}
			s.mu.Lock()
			v := s.protocolVersion
			s.mu.Unlock()
			if v >= 2 {
				s.send(s.wrap("tick", tick))
			} else {
				s.send(tick)
			}
		}
	}
}

// wrap builds the v2 {action, data} envelope; v1 frames are sent bare.
func (s *Session) wrap(action string, data interface{}) interface{} {
	return struct {
		Action string      `json:"action"`
		Data   interface{} `json:"data"`
	}{Action: action, Data: data}
}

// Wait blocks until every goroutine the session spawned has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}
