package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 25 * time.Second
	wsMaxFrame     = 1 << 20
)

// SessionFactory creates and registers streaming sessions.
type SessionFactory interface {
	NewSession(id, subject string, lang models.Language, n services.Notifier) (*services.StreamSession, error)
}

type WSHandler struct {
	sessions SessionFactory
	registry *services.SessionRegistry
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler accepts upgrades from allowedOrigins; an empty list allows any origin.
func NewWSHandler(sessions SessionFactory, registry *services.SessionRegistry, log *logrus.Logger, allowedOrigins []string) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		sessions: sessions,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := map[string]struct{}{}
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // stop
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, b)
}

func (w *wsConn) write(kind int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.c.WriteMessage(kind, b)
}

// Realtime streams binary PCM16LE frames into a transcription session and
// writes incremental transcripts back as JSON text frames. The read loop
// never waits on transcription. An optional language query parameter
// (en|fa|mixed) is passed to every transcription call.
func (h *WSHandler) Realtime(c *gin.Context) {
	const op = "WSHandler.Realtime"

	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	lang, err := models.ParseLanguage(c.Query("language"))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unknown language", err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxFrame)

	wc := &wsConn{c: conn}
	sessionID := uuid.NewString()
	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "subject": p.Subject, "language": lang})

	sess, err := h.sessions.NewSession(sessionID, p.Subject, lang, wc)
	if err != nil {
		log.WithError(err).Error("failed to create stream session")
		_ = wc.Send(services.ErrorMessage{Type: "error", Message: "failed to start session"})
		return
	}
	defer h.registry.Remove(sessionID)

	// the session outlives the request context while it drains
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	sess.Start(ctx)
	_ = wc.Send(gin.H{"type": "session", "session_id": sessionID})

	stopPing := make(chan struct{})
	go h.keepalive(wc, sess.Done(), stopPing)

	h.readLoop(conn, wc, sess, log)

	close(stopPing)
	sess.Close()
}

func (h *WSHandler) readLoop(conn *websocket.Conn, wc *wsConn, sess *services.StreamSession, log *logrus.Entry) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("websocket read ended")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch kind {
		case websocket.BinaryMessage:
			if !sess.Push(data) {
				return
			}
		case websocket.TextMessage:
			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.Send(services.ErrorMessage{Type: "error", Message: "invalid json"})
				continue
			}
			if msg.Type == "stop" {
				return
			}
			_ = wc.Send(services.ErrorMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

// keepalive pings the client and closes the socket once the consumer has
// stopped on its own. Closing the conn after the close frame unblocks the
// read loop even when the client never answers it.
func (h *WSHandler) keepalive(wc *wsConn, consumerDone, stop <-chan struct{}) {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-consumerDone:
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "transcription unavailable")
			_ = wc.write(websocket.CloseMessage, msg)
			_ = wc.c.Close()
			return
		case <-t.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
