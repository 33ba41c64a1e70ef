package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultConnectAttempts   = 3
	defaultConnectRetryDelay = 2 * time.Second
	defaultWriteDeadline     = 5 * time.Second
	defaultCloseDeadline     = 2 * time.Second
	defaultMaxMessageSize    = 16 << 20
)

var (
	ErrConnectionFailed = errors.New("connection to server failed")
	ErrDenied           = errors.New("join request denied")
	ErrNotJoined        = errors.New("not joined")
	ErrUnexpectedEvent  = errors.New("unexpected event during join")
	ErrSessionEnded     = errors.New("session ended")

	errMalformedEvent = errors.New("malformed event")
)

// DeniedError carries the reason the server gave for refusing a join.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return ErrDenied.Error() + ": " + e.Reason
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

type Config struct {
	// Address is the server's host:port.
	Address    string
	Username   string
	Attempts   int
	RetryDelay time.Duration
	Logger     *zerolog.Logger
	Dialer     *websocket.Dialer
}

// Client is a remote participant's connection to the session.
type Client struct {
	conn     *websocket.Conn
	username string
	logger   zerolog.Logger

	wmx    sync.Mutex
	joined bool

	done    chan struct{}
	errMx   sync.Mutex
	err     error
	closeMx sync.Once
}

// Dial connects to the session server, retrying a fixed number of times
// with a fixed pause in between.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultConnectRetryDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger.With().
		Str("component", "client").
		Str("username", cfg.Username).
		Logger()

	u := url.URL{Scheme: "ws", Host: cfg.Address, Path: "/whiteboard/join/" + cfg.Username}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			logger.Info().Str("addr", cfg.Address).Msg("connection with server established")
			conn.SetReadLimit(defaultMaxMessageSize)
			return &Client{
				conn:     conn,
				username: cfg.Username,
				logger:   logger,
				done:     make(chan struct{}),
			}, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("connection attempt failed")
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.Join(ErrConnectionFailed, ctx.Err())
		}
	}
	return nil, errors.Join(ErrConnectionFailed, lastErr)
}

func (c *Client) Username() string {
	return c.username
}

// Join waits for the manager's decision. On approval the initial snapshot
// is handed to h and events keep flowing to h until the session ends for
// this participant. On denial the connection is closed and a *DeniedError
// is returned.
func (c *Client) Join(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	ev, err := c.read()
	if !stop() {
		c.finish(ctx.Err())
		return ctx.Err()
	}
	if err != nil {
		c.finish(err)
		return err
	}

	switch ev.Type {
	case model.EventTypeDenied:
		c.finish(&DeniedError{Reason: ev.Text})
		return &DeniedError{Reason: ev.Text}
	case model.EventTypeSnapshot:
	default:
		err = errors.Join(ErrUnexpectedEvent, errors.New(ev.Type))
		c.finish(err)
		return err
	}

	c.wmx.Lock()
	c.joined = true
	c.wmx.Unlock()

	h.OnHistorySnapshot(ev.History)
	c.logger.Info().Int("history", len(ev.History)).Msg("joined session")

	go c.readLoop(h)
	return nil
}

func (c *Client) read() (model.Event, error) {
	var ev model.Event
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err = json.Unmarshal(msg, &ev); err != nil {
		return ev, errors.Join(errMalformedEvent, err)
	}
	return ev, nil
}

func (c *Client) readLoop(h Handler) {
	for {
		ev, err := c.read()
		if err != nil {
			if errors.Is(err, errMalformedEvent) {
				c.logger.Warn().Err(err).Msg("malformed event dropped")
				continue
			}
			c.finish(err)
			return
		}
		if err = Dispatch(h, ev); err != nil {
			c.logger.Warn().Err(err).Str("type", ev.Type).Msg("event dropped")
			continue
		}
		if ev.Terminal() {
			c.finish(ErrSessionEnded)
			return
		}
	}
}

func (c *Client) SubmitDraw(d model.Drawable) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return c.write(model.Request{Type: model.RequestTypeDraw, Drawable: &d})
}

func (c *Client) SubmitChat(text string) error {
	return c.write(model.Request{Type: model.RequestTypeChat, Text: text})
}

// Leave tells the server this participant is going away and closes the
// connection.
func (c *Client) Leave() error {
	err := c.write(model.Request{Type: model.RequestTypeLeave})
	c.finish(ErrSessionEnded)
	return err
}

func (c *Client) write(req model.Request) error {
	c.wmx.Lock()
	defer c.wmx.Unlock()

	if !c.joined {
		return ErrNotJoined
	}
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	b, err := json.Marshal(&req)
	if err != nil {
		return err
	}
	if err = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Done is closed once the connection is over.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.errMx.Lock()
	defer c.errMx.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.finish(ErrSessionEnded)
	return nil
}

func (c *Client) finish(err error) {
	c.closeMx.Do(func() {
		c.errMx.Lock()
		c.err = err
		c.errMx.Unlock()

		c.wmx.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(defaultCloseDeadline))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmx.Unlock()

		if cErr := c.conn.Close(); cErr != nil {
			c.logger.Debug().Err(cErr).Msg("failed to close connection")
		}
		close(c.done)
	})
}
