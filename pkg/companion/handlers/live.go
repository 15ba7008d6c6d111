package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seniorsense/companion/pkg/companion/config"
	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/live/protocol"
	"github.com/seniorsense/companion/pkg/companion/mw"
	"github.com/seniorsense/companion/pkg/companion/sessions"
)

// LiveHandler serves /v1/live websocket sessions. The connected client owns
// the platform speech engines; this handler bridges their events into the
// conversation state machine and streams orchestration commands back.
type LiveHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Assistant conversation.Assistant
	Emotion   conversation.EmotionAnalyzer
	Store     conversation.HistoryStore
	Greeter   *conversation.Greeter
	Metrics   conversation.Observer
	Sessions  *sessions.Tracker
	Draining  func() bool
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", reqID)
		return
	}
	if h.Draining != nil && h.Draining() {
		writeError(w, http.StatusServiceUnavailable, "draining", "gateway is draining", reqID)
		return
	}
	if !h.originAllowed(r) {
		writeError(w, http.StatusForbidden, "forbidden", "origin is not allowed", reqID)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		ws.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	conn := newLiveConn(ws, h.Config.LiveWSPingInterval, h.Config.LiveWSWriteTimeout)
	go conn.writeLoop()
	defer conn.close()

	hello, ok := h.readHello(ws, conn)
	if !ok {
		return
	}

	sessionID := "ws_" + randHex(8)
	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Limits: protocol.HelloAckLimits{
			DebounceMS:   int(h.Config.DebounceWindow / time.Millisecond),
			HistoryLimit: h.Config.HistoryLimit,
		},
	}
	if err := conn.send(ack); err != nil {
		return
	}

	recognition := newWSRecognitionEngine(conn)
	synthesis := newWSSynthesisEngine(conn, hello.Voices)

	userName := h.Config.UserName
	if strings.TrimSpace(hello.User.Name) != "" {
		userName = strings.TrimSpace(hello.User.Name)
	}

	session, err := conversation.New(conversation.Dependencies{
		Recognition: recognition,
		Synthesis:   synthesis,
		Assistant:   h.Assistant,
		Emotion:     h.Emotion,
		Store:       h.Store,
		Greeter:     h.Greeter,
		Notifier:    &liveNotifier{conn: conn},
		Observer:    h.Metrics,
		Logger:      h.Logger,
		Config: conversation.Config{
			DebounceWindow: h.Config.DebounceWindow,
			TurnTimeout:    h.Config.TurnTimeout,
			InsightTimeout: h.Config.InsightTimeout,
			HistoryLimit:   h.Config.HistoryLimit,
			UserName:       userName,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize session", true)
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Add(&trackedLiveSession{session: session, conn: conn})
	}
	defer unregister()

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = session.Run()
	}()
	defer func() {
		session.Close()
		<-sessionDone
	}()

	if h.Logger != nil {
		h.Logger.Info("live session connected", "session_id", sessionID, "request_id", reqID)
	}

	h.readLoop(ws, conn, session, recognition, synthesis)

	if h.Logger != nil {
		h.Logger.Info("live session disconnected", "session_id", sessionID, "request_id", reqID)
	}
}

// readHello performs the handshake: the first frame must be a hello with a
// supported protocol version and both speech capabilities present.
func (h LiveHandler) readHello(ws *websocket.Conn, conn *liveConn) (protocol.ClientHello, bool) {
	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))

	messageType, frame, err := ws.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", true)
		return protocol.ClientHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return protocol.ClientHello{}, false
	}

	decoded, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		h.writeWSError(conn, "bad_request", "invalid hello frame", true)
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return protocol.ClientHello{}, false
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", true)
		return protocol.ClientHello{}, false
	}
	// A device without both speech services cannot hold a conversation; the
	// session is rejected before it ever starts.
	if !hello.Capabilities.Recognition {
		h.writeWSError(conn, "unsupported", "speech recognition is not available on this client", true)
		return protocol.ClientHello{}, false
	}
	if !hello.Capabilities.Synthesis {
		h.writeWSError(conn, "unsupported", "speech synthesis is not available on this client", true)
		return protocol.ClientHello{}, false
	}

	_ = ws.SetReadDeadline(time.Time{})
	return hello, true
}

func (h LiveHandler) readLoop(ws *websocket.Conn, conn *liveConn, session *conversation.Session, recognition *wsRecognitionEngine, synthesis *wsSynthesisEngine) {
	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			_ = conn.send(protocol.ServerWarning{Type: "warning", Code: "bad_request", Message: "binary frames are not supported"})
			continue
		}

		decoded, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			_ = conn.send(protocol.ServerWarning{Type: "warning", Code: "bad_request", Message: err.Error()})
			continue
		}

		switch msg := decoded.(type) {
		case protocol.ClientToggle:
			session.Toggle()
		case protocol.ClientRecognitionEvent:
			recognition.dispatch(msg)
		case protocol.ClientSynthesisEvent:
			synthesis.dispatch(msg)
		case protocol.ClientHello:
			_ = conn.send(protocol.ServerWarning{Type: "warning", Code: "bad_request", Message: "duplicate hello"})
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *liveConn, code, message string, closeConn bool) {
	_ = conn.send(protocol.ServerError{Type: "error", Code: code, Message: message, Close: closeConn})
	if closeConn {
		// Give the writer a moment to flush before tearing the socket down.
		time.Sleep(50 * time.Millisecond)
		conn.close()
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}

// liveConn serializes all outbound writes onto one goroutine with a ping
// ticker and per-write deadlines.
type liveConn struct {
	ws           *websocket.Conn
	outbound     chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
}

func newLiveConn(ws *websocket.Conn, pingInterval, writeTimeout time.Duration) *liveConn {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &liveConn{
		ws:           ws,
		outbound:     make(chan []byte, 64),
		closed:       make(chan struct{}),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

func (c *liveConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection closed")
	}
}

func (c *liveConn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *liveConn) writeLoop() {
	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.closed:
			deadline := time.Now().Add(c.writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.ws.Close()
			return
		case data := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.close()
				return
			}
		}
	}
}

// trackedLiveSession adapts a live session to the shutdown tracker.
type trackedLiveSession struct {
	session *conversation.Session
	conn    *liveConn
}

func (t *trackedLiveSession) Cancel() {
	t.session.Close()
	t.conn.close()
}

func (t *trackedLiveSession) Warn(code, message string) {
	_ = t.conn.send(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}
