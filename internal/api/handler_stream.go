package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"table-status-backend/internal/model"
	"table-status-backend/internal/mw"
	"table-status-backend/internal/notification"
	"table-status-backend/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is read-only and authenticated by token, not by cookie.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamNotification struct {
	Message string            `json:"message"`
	TableID string            `json:"tableId"`
	Status  model.TableStatus `json:"status"`
	Alert   bool              `json:"alert"`
	At      time.Time         `json:"at"`
}

type tablesMessage struct {
	Type   string      `json:"type"`
	Tables []tableView `json:"tables"`
	Stale  bool        `json:"stale"`
}

type notificationMessage struct {
	Type         string             `json:"type"`
	Notification streamNotification `json:"notification"`
}

// streamClient forwards registry snapshots to one websocket connection. Staff connections
// carry their own observer so that notifications follow that session's view of the tables.
type streamClient struct {
	conn     *websocket.Conn
	sub      *registry.Subscription
	observer *notification.Observer
	now      func() time.Time
	log      logrus.FieldLogger
}

// Stream upgrades to a websocket that receives every table snapshot.
func (h *Handler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &streamClient{
		conn: conn,
		sub:  h.registry.Subscribe(),
		now:  h.now,
		log:  h.log.WithField("remote", c.ClientIP()),
	}
	if id := mw.IdentityFrom(c); id != nil {
		client.log = client.log.WithField("user_id", id.UserID)
		if id.IsStaff() {
			client.observer = notification.NewObserver()
		}
	}

	client.log.Debug("stream opened")
	done := make(chan struct{})
	go client.readPump(done)
	client.writePump(done)
	client.log.Debug("stream closed")
}

// readPump only handles control frames; it closes done once the peer goes away.
func (s *streamClient) readPump(done chan<- struct{}) {
	defer close(done)

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("unexpected websocket close")
			}
			return
		}
	}
}

func (s *streamClient) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.sub.Unsubscribe()
		_ = s.conn.Close()
	}()

	for {
		select {
		case snap, ok := <-s.sub.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := s.send(snap); err != nil {
				s.log.WithError(err).Debug("stream write failed")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func (s *streamClient) send(snap registry.Snapshot) error {
	views, err := listTables(snap.Tables, 0, "name", s.now())
	if err != nil {
		return err
	}
	if err := s.conn.WriteJSON(tablesMessage{Type: "tables", Tables: views, Stale: snap.Stale}); err != nil {
		return err
	}

	if s.observer == nil {
		return nil
	}
	for _, ev := range s.observer.Observe(snap) {
		msg := notificationMessage{Type: "notification", Notification: streamNotification{
			Message: ev.Message(),
			TableID: ev.TableID,
			Status:  ev.To,
			Alert:   ev.Alert,
			At:      ev.At,
		}}
		if err := s.conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}
