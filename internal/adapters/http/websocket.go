package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// wsMessage is sent from the client to drive its viewport session.
type wsMessage struct {
	Action  string              `json:"action"` // viewport | refresh | select_cluster | clear_cluster | select_tower | clear_tower
	Bounds  *domain.BoundingBox `json:"bounds,omitempty"`
	Corners []domain.GeoPoint   `json:"corners,omitempty"`
	Buffer  *float64            `json:"buffer,omitempty"`
	Zoom    float64             `json:"zoom"`
	Cluster *domain.Cluster     `json:"cluster,omitempty"`
	Tower   *domain.Tower       `json:"tower,omitempty"`
}

// wsEvent is sent from the server to the client.
type wsEvent struct {
	Type      string      `json:"type"` // session | snapshot | error
	SessionID string      `json:"session_id,omitempty"`
	Resumed   bool        `json:"resumed,omitempty"`
	Snapshot  interface{} `json:"snapshot,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// WebSocketHandler returns a handler that attaches the connection to a
// viewport session and streams its snapshots.
// Clients reconnect with ?session=<id> to resume a session inside its
// keep-alive window. Messages look like
// {"action":"viewport","bounds":{"min_lat":43.2,"max_lat":43.3,"min_lon":-3,"max_lon":-2.9},"zoom":12}.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id := c.Query("session")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		sess, snaps, unsubscribe, resumed := deps.Sessions.Attach(id)
		defer unsubscribe()

		logger := slog.Default().With("session_id", id, "remote", c.RemoteAddr().String())
		logger.Info("ws client connected", "resumed", resumed)

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		if err := writeJSON(wsEvent{Type: "session", SessionID: id, Resumed: resumed}); err != nil {
			return
		}

		done := make(chan struct{})
		defer close(done)

		// Snapshot pump and keep-alive ping
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case snap, ok := <-snaps:
					if !ok {
						// Session closed underneath us (shutdown); drop the client.
						mu.Lock()
						_ = c.WriteMessage(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
						mu.Unlock()
						_ = c.Close()
						return
					}
					if snap.Err != nil {
						snap.Error = snap.Err.Error()
					}
					if err := writeJSON(wsEvent{Type: "snapshot", Snapshot: snap}); err != nil {
						return
					}
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				_ = writeJSON(wsEvent{Type: "error", Error: "invalid JSON"})
				continue
			}

			if err := applyMessage(deps, sess, m); err != nil {
				_ = writeJSON(wsEvent{Type: "error", Error: err.Error()})
			}
		}

		logger.Info("ws client disconnected")
	}
}

// sessionDriver is the part of a viewport session the socket drives.
type sessionDriver interface {
	SetViewport(vp domain.ViewportState) error
	Refresh()
	SelectCluster(c domain.Cluster) error
	ClearCluster()
	SelectTower(t domain.Tower)
	ClearTower()
}

func applyMessage(deps *Dependencies, sess sessionDriver, m wsMessage) error {
	switch m.Action {
	case "viewport":
		var box domain.BoundingBox
		switch {
		case m.Bounds != nil:
			box = *m.Bounds
		case len(m.Corners) > 0:
			var err error
			if box, err = resolveCorners(m.Corners, m.Buffer, deps.BufferFraction); err != nil {
				return err
			}
		default:
			return errMessage("viewport needs bounds or corners")
		}
		return sess.SetViewport(domain.ViewportState{Bounds: box, Zoom: m.Zoom})

	case "refresh":
		sess.Refresh()
		return nil

	case "select_cluster":
		if m.Cluster == nil {
			return errMessage("select_cluster needs a cluster")
		}
		return sess.SelectCluster(*m.Cluster)

	case "clear_cluster":
		sess.ClearCluster()
		return nil

	case "select_tower":
		if m.Tower == nil {
			return errMessage("select_tower needs a tower")
		}
		sess.SelectTower(*m.Tower)
		return nil

	case "clear_tower":
		sess.ClearTower()
		return nil

	default:
		return errMessage("unknown action: " + m.Action)
	}
}

type errMessage string

func (e errMessage) Error() string { return string(e) }
