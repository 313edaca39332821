package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatrelay/internal/chat"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed        = errors.New("client: connection closed")
	ErrNoMoreNames   = errors.New("client: no more handles to propose")
	ErrMultilineText = errors.New("client: text must be a single line")
)

const (
	DefaultPort     = 9001
	timestampLayout = "15:04:05"
	messageBuffer   = 64
)

type Option func(*Client)

// WithTimestamps appends " [HH:MM:SS]" to every outgoing line.
func WithTimestamps() Option {
	return func(c *Client) {
		c.timestamps = true
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client speaks the relay line protocol over one connection.
// Send and Whisper are safe for concurrent use.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	timestamps bool
	now        func() time.Time

	writeMu sync.Mutex

	mu       sync.Mutex
	handle   string
	readErr  error
	started  bool
	closed   bool
	messages chan string

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return NewClient(conn, opts...), nil
}

func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		now:      time.Now,
		messages: make(chan string, messageBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Names proposes each handle in order, then fails with ErrNoMoreNames.
func Names(names ...string) func() (string, error) {
	var next int
	return func() (string, error) {
		if next >= len(names) {
			return "", ErrNoMoreNames
		}
		name := names[next]
		next++
		return name, nil
	}
}

// Negotiate answers every SUBMITNAME with the next proposal until the server sends
// NAMEACCEPTED, then starts delivering MESSAGE payloads on Messages.
func (c *Client) Negotiate(ctx context.Context, propose func() (string, error)) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		if stop() {
			_ = c.conn.SetReadDeadline(time.Time{})
		}
	}()

	var proposed string
	for {
		line, err := c.readLine()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("client: negotiate: %w", err)
		}
		directive, _ := chat.ParseServerLine(line)
		switch directive {
		case chat.DirectiveSubmitName:
			name, err := propose()
			if err != nil {
				return "", err
			}
			if err := c.writeLine(name); err != nil {
				return "", fmt.Errorf("client: propose %q: %w", name, err)
			}
			proposed = name
		case chat.DirectiveNameAccepted:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return "", ErrClosed
			}
			c.handle = proposed
			c.started = true
			c.mu.Unlock()
			go c.readLoop()
			return proposed, nil
		default:
			log.Debug().Str("line", line).Msg("client ignored line during negotiation")
		}
	}
}

// Handle is the accepted handle, or "" before negotiation completes.
func (c *Client) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Messages yields MESSAGE payloads. It is closed when the connection ends.
func (c *Client) Messages() <-chan string {
	return c.messages
}

// Err reports why Messages was closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) Send(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return ErrMultilineText
	}
	if c.timestamps {
		text += " [" + c.now().Format(timestampLayout) + "]"
	}
	return c.writeLine(text)
}

func (c *Client) Whisper(target, text string) error {
	return c.Send(chat.FormatWhisper(target, text))
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()
		if !started {
			close(c.messages)
		}
	})
	return c.closeErr
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		line, err := c.readLine()
		if err != nil {
			select {
			case <-c.done:
				err = ErrClosed
			default:
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		directive, payload := chat.ParseServerLine(line)
		if directive != chat.DirectiveMessage {
			log.Debug().Str("line", line).Msg("client ignored server line")
			continue
		}
		select {
		case c.messages <- payload:
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Client) writeLine(line string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}
