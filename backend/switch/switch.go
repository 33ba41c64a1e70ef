package _switch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
	defaultQueueSize = 256
)

var ErrClosed = errors.New("switch is closed")

// FailureFunc is invoked, at most once per connection and never with the
// switch lock held, when deliveries to a participant start failing.
type FailureFunc func(username, connID string)

type Config struct {
	Logger          *zerolog.Logger
	DeliveryTimeout time.Duration
	QueueSize       int
	OnFailure       FailureFunc
}

type endpoint struct {
	username string
	connID   string
	cb       model.Callback
	queue    chan model.Event
	failed   atomic.Bool
}

// Switch fans events out to participant callbacks. Every endpoint has its
// own FIFO queue drained by a dedicated goroutine, so endpoints are served in
// parallel while each one observes events in enqueue order.
type Switch struct {
	logger    zerolog.Logger
	mx        *sync.RWMutex
	wg        *sync.WaitGroup
	fwd       map[string]*endpoint
	timeout   time.Duration
	queueSize int
	onFailure FailureFunc
	closed    bool
}

func NewSwitch(cfg Config) *Switch {
	sw := &Switch{
		logger:    cfg.Logger.With().Str("component", "switch").Logger(),
		mx:        &sync.RWMutex{},
		wg:        &sync.WaitGroup{},
		fwd:       make(map[string]*endpoint),
		timeout:   cfg.DeliveryTimeout,
		queueSize: cfg.QueueSize,
		onFailure: cfg.OnFailure,
	}
	if sw.timeout <= 0 {
		sw.timeout = defaultFwdTimout
	}
	if sw.queueSize <= 0 {
		sw.queueSize = defaultQueueSize
	}
	return sw
}

// SetFailureFunc must be called before the first Connect.
func (sw *Switch) SetFailureFunc(fn func(username, connID string)) {
	sw.mx.Lock()
	sw.onFailure = fn
	sw.mx.Unlock()
}

func (sw *Switch) Connect(p model.Participant) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if sw.closed {
		return ErrClosed
	}
	if old, ok := sw.fwd[p.Username]; ok {
		close(old.queue)
	}
	ep := &endpoint{
		username: p.Username,
		connID:   p.ConnID,
		cb:       p.Callback,
		queue:    make(chan model.Event, sw.queueSize),
	}
	sw.fwd[p.Username] = ep

	sw.wg.Add(1)
	go sw.drain(ep)

	sw.logger.Debug().
		Str("username", p.Username).
		Str("conn", p.ConnID).
		Msg("endpoint connected")
	return nil
}

// Disconnect stops accepting events for username. Events already queued are
// still delivered.
func (sw *Switch) Disconnect(username string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if ep, ok := sw.fwd[username]; ok {
		delete(sw.fwd, username)
		close(ep.queue)
		sw.logger.Debug().
			Str("username", username).
			Str("conn", ep.connID).
			Msg("endpoint disconnected")
	}
}

// Send enqueues a directed event.
func (sw *Switch) Send(username string, ev model.Event) bool {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	ep, ok := sw.fwd[username]
	if !ok {
		sw.logger.Debug().
			Str("username", username).
			Str("type", ev.Type).
			Msg("cannot send, endpoint not found")
		return false
	}
	return sw.enqueue(ep, ev.Clone())
}

// Broadcast enqueues ev for every endpoint except the excluded one and
// returns how many endpoints accepted it. Each endpoint gets its own copy.
func (sw *Switch) Broadcast(ev model.Event, excluding string) int {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	var sent int
	for username, ep := range sw.fwd {
		if username == excluding {
			continue
		}
		if sw.enqueue(ep, ev.Clone()) {
			sent++
		}
	}
	if sent == 0 {
		sw.logger.Debug().
			Str("type", ev.Type).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

// Close disconnects every endpoint and waits until their queues are drained.
func (sw *Switch) Close() {
	sw.mx.Lock()
	sw.closed = true
	for username, ep := range sw.fwd {
		delete(sw.fwd, username)
		close(ep.queue)
	}
	sw.mx.Unlock()

	sw.wg.Wait()
	sw.logger.Debug().Msg("switch closed")
}

// enqueue never blocks: a participant too slow to keep up with its queue is
// treated as dead.
func (sw *Switch) enqueue(ep *endpoint, ev model.Event) bool {
	if ep.failed.Load() {
		return false
	}
	select {
	case ep.queue <- ev:
		return true
	default:
		sw.logger.Error().
			Str("username", ep.username).
			Str("type", ev.Type).
			Msg("endpoint queue overflow")
		sw.fail(ep)
		return false
	}
}

func (sw *Switch) drain(ep *endpoint) {
	defer sw.wg.Done()

	logger := sw.logger.With().
		Str("username", ep.username).
		Str("conn", ep.connID).
		Logger()

	for ev := range ep.queue {
		if ep.failed.Load() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sw.timeout)
		err := ep.cb.Deliver(ctx, ev)
		cancel()
		if err != nil {
			logger.Error().Err(err).Str("type", ev.Type).Msg("dead endpoint")
			sw.fail(ep)
			continue
		}
		logger.Trace().Str("type", ev.Type).Msg("event is forwarded")
	}
}

func (sw *Switch) fail(ep *endpoint) {
	if !ep.failed.CompareAndSwap(false, true) {
		return
	}
	if sw.onFailure != nil {
		go sw.onFailure(ep.username, ep.connID)
	}
}
