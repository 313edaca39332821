package chat

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"

	// MaxLineBytes caps one inbound line, terminator included, on every transport.
	MaxLineBytes = 64 << 10
)

var ErrLineTooLong = errors.New("chat: line exceeds maximum length")

// Transport is the exclusive duplex line stream owned by one Session.
// Deliver may be called from any goroutine; ReadLine only from the owning Session.
type Transport interface {
	Sink
	ReadLine() (string, error)
	Close() error
	RemoteAddr() string
	Kind() string
}

// LineConn frames a net.Conn as newline-delimited text.
type LineConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxLine      int
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*LineConn)(nil)

func NewLineConn(conn net.Conn, writeTimeout time.Duration) *LineConn {
	return &LineConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxLine:      MaxLineBytes,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next line without its terminator. A final unterminated
// line is returned before io.EOF. Lines longer than MaxLineBytes fail with
// ErrLineTooLong and leave the stream unusable.
func (c *LineConn) ReadLine() (string, error) {
	var line []byte
	for {
		frag, err := c.reader.ReadSlice('\n')
		if len(line)+len(frag) > c.maxLine {
			return "", ErrLineTooLong
		}
		line = append(line, frag...)
		switch {
		case err == nil:
			return trimEOL(string(line)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return trimEOL(string(line)), nil
		default:
			return "", err
		}
	}
}

func (c *LineConn) Deliver(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

func (c *LineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *LineConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *LineConn) Kind() string {
	return TransportTCP
}
