package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dougsko/rigmacros/pkg/engine"
	"github.com/dougsko/rigmacros/pkg/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; the API binds to localhost by default
	},
}

// handleEventsWebSocket streams engine bus events as JSON. A ?types=
// filter (comma separated, e.g. "status,keying") limits what is sent.
func (d *RigDaemon) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("websocket", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	filter := eventFilter(c.QueryArray("types"))
	events, cancel := d.coreEngine.Events().Subscribe(64)
	defer cancel()

	logging.Debugf("websocket", "Event stream client connected from %s", c.ClientIP())

	// Greet with the current status so clients need no extra request
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(engine.Event{
		Type:    engine.EventStatus,
		Time:    time.Now(),
		Message: d.coreEngine.Message(),
		Data:    d.coreEngine.Status(),
	}); err != nil {
		return
	}

	// Reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !filter.allows(ev.Type) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logging.Debugf("websocket", "WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			logging.Debug("websocket", "Event stream client disconnected")
			return

		case <-d.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

type typeFilter map[engine.EventType]bool

func eventFilter(values []string) typeFilter {
	f := typeFilter{}
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f[engine.EventType(t)] = true
			}
		}
	}
	return f
}

// allows reports whether t passes; an empty filter passes everything
func (f typeFilter) allows(t engine.EventType) bool {
	return len(f) == 0 || f[t]
}
