package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/events"
)

const writeWait = 5 * time.Second

// EventTap fans interaction events out to websocket clients. Clients only
// observe; the interaction router is the one that acknowledges.
type EventTap struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
}

func NewEventTap() *EventTap {
	return &EventTap{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    map[*websocket.Conn]struct{}{},
	}
}

func (t *EventTap) Add(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *EventTap) Remove(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *EventTap) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Broadcast writes data to every client, dropping the ones that fail.
func (t *EventTap) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "server").Msg("ws broadcast failed, dropping connection")
			delete(t.conns, conn)
			_ = conn.Close()
		}
	}
}

func (t *EventTap) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.conns {
		_ = conn.Close()
		delete(t.conns, conn)
	}
}

// ServeHTTP upgrades the request and keeps the client attached until it
// disconnects. Inbound frames are discarded.
func (t *EventTap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.Add(conn)
	log.Debug().
		Str("component", "server").
		Str("identity", IdentityFromContext(r.Context())).
		Int("clients", t.Count()).
		Msg("event tap client attached")
	go func() {
		defer t.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Run consumes the interaction topic and broadcasts each event, without its
// response token, until ctx ends or the subscription closes.
func (t *EventTap) Run(ctx context.Context, sub message.Subscriber) error {
	if sub == nil {
		return errors.New("event tap: subscriber is nil")
	}
	ch, err := sub.Subscribe(ctx, events.Topic)
	if err != nil {
		return errors.Wrap(err, "event tap: subscribe")
	}
	defer t.CloseAll()
	for msg := range ch {
		ev, err := events.Decode(msg)
		msg.Ack()
		if err != nil {
			log.Warn().Err(err).Str("component", "server").Msg("event tap: dropping undecodable event")
			continue
		}
		ev.Token = ""
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		t.Broadcast(data)
	}
	return nil
}
