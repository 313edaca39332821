package chat

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatrelay/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// GatewayHandler serves GET /ws. Text frames carry newline-separated protocol lines,
// and the session joins the same Registry as TCP clients.
func (s *Service) GatewayHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPObserver(observability.SurfaceGateway, log.Logger))
	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("chat.gateway upgrade failed")
			return
		}
		s.runSession(NewWSConn(conn, s.cfg.WriteTimeout))
	})
	return r
}

// checkOrigin accepts any origin when none are configured.
func (s *Service) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return false
}

// WSConn adapts a WebSocket connection to the line Transport. A text frame may carry
// several newline-separated lines; they are handed out one per ReadLine, the same as
// a TCP stream would split them.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// pending is only touched by the owning Session's reads.
	pending []string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var (
	_ Transport = (*WSConn)(nil)

	ErrBinaryFrame = errors.New("chat: binary websocket frames are not accepted")
)

func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	conn.SetReadLimit(MaxLineBytes)
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

// ReadLine returns the next line from the current or next text frame.
// Close frames map to io.EOF; binary or oversized frames end the stream.
func (c *WSConn) ReadLine() (string, error) {
	if len(c.pending) == 0 {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", wsReadErr(err)
		}
		if kind != websocket.TextMessage {
			return "", ErrBinaryFrame
		}
		c.pending = splitFrame(string(data))
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// splitFrame treats one trailing terminator as part of the last line, so "hi\n"
// and "hi" both yield a single line.
func splitFrame(frame string) []string {
	frame = strings.TrimSuffix(frame, "\n")
	lines := strings.Split(frame, "\n")
	for i, line := range lines {
		lines[i] = trimEOL(line)
	}
	return lines
}

func wsReadErr(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrLineTooLong
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return io.EOF
	}
	return err
}

func (c *WSConn) Deliver(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Close does not take writeMu: WriteControl and Close may run alongside a blocked
// Deliver, and closing the socket is what unblocks it.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *WSConn) Kind() string {
	return TransportWebSocket
}
