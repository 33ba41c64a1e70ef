package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 1 << 20
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	defaultTXQueueSize = 64
)

var (
	ErrUnexpected = errors.New("unexpected server error")
	ErrConnClosed = errors.New("connection closed")
)

type (
	SessionService interface {
		Join(ctx context.Context, username string, cb model.Callback) (model.JoinResult, error)
		Leave(username string)
		Drop(username, connID string)
		SubmitDraw(from string, d model.Drawable) error
		SubmitChat(from, text string) error
	}

	Config struct {
		Logger         *zerolog.Logger
		SessionService SessionService
		ListenAddr     string
		TXQueueSize    int
	}

	Server struct {
		svc SessionService
		ws  *websocket.Upgrader
		*http.Server

		// hijacked connections are not tracked by http.Server
		conns sync.WaitGroup

		txQueueSize int
		logger      zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:      cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:         cfg.SessionService,
		txQueueSize: cfg.TXQueueSize,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	if srv.txQueueSize <= 0 {
		srv.txQueueSize = defaultTXQueueSize
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /whiteboard/join/{username}", srv.join)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error, 1)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
		srv.waitConns(shCtx)
	}
}

// waitConns lets open connections flush their last events.
func (srv *Server) waitConns(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		srv.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.logger.Warn().Msg("some connections did not finish in time")
	}
}

func (srv *Server) join(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already replied
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	srv.conns.Add(1)
	go func() {
		defer srv.conns.Done()
		srv.handleWSConn(conn, username)
	}()
}

// wireCallback is the session's handle to a remote participant.
type wireCallback struct {
	tx   chan<- model.Event
	done <-chan struct{}
}

func (c *wireCallback) Deliver(ctx context.Context, ev model.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.tx <- ev:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (srv *Server) handleWSConn(conn *websocket.Conn, username string) {
	var (
		wg   = &sync.WaitGroup{}
		wire = model.NewWire(srv.txQueueSize)

		// long-living wire context, also ends a pending join if the requester goes away
		ctx, cancel = context.WithCancel(context.Background())
	)
	defer cancel()

	logger := srv.logger.With().
		Str("username", username).
		Str("remote", conn.RemoteAddr().String()).
		Str("wire", uuid.NewString()).
		Logger()

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, wire.RX, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()
	stop := context.AfterFunc(ctx, func() {
		// unblock a receiver stuck in ReadMessage
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	res, err := srv.svc.Join(ctx, username, &wireCallback{tx: wire.TX, done: ctx.Done()})
	if err != nil {
		reason := err.Error()
		var jErr *model.JoinError
		if errors.As(err, &jErr) {
			reason = jErr.Reason
		}
		logger.Warn().Str("reason", reason).Msg("join request not accepted")
		select {
		case wire.TX <- model.DeniedEvent(reason):
		case <-ctx.Done():
		}
	} else {
		logger.Debug().Str("conn", res.ConnID).Msg("participant session started")
		srv.serve(ctx, username, wire.RX, &logger)
		cancel()
	}

	wg.Wait()
	webSocketCloser(conn, &logger)
	if err == nil {
		srv.svc.Drop(username, res.ConnID)
		logger.Debug().Msg("participant session ended")
	}
}

// serve feeds participant requests into the session until the connection
// ends or the participant leaves.
func (srv *Server) serve(ctx context.Context, username string, rx <-chan model.Request, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-rx:
			switch req.Type {
			case model.RequestTypeDraw:
				if req.Drawable == nil {
					logger.Warn().Msg("draw request without drawable")
					continue
				}
				if err := srv.svc.SubmitDraw(username, *req.Drawable); err != nil {
					logger.Warn().Err(err).Msg("draw request dropped")
				}
			case model.RequestTypeChat:
				if err := srv.svc.SubmitChat(username, req.Text); err != nil {
					logger.Warn().Err(err).Msg("chat request dropped")
				}
			case model.RequestTypeLeave:
				srv.svc.Leave(username)
				return
			default:
				logger.Warn().Str("type", req.Type).Msg("unknown request type dropped")
			}
		}
	}
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Event,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case msg, ok := <-tx:
			if !ok {
				break SendLoop
			}
			if err := writeJSON(conn, &msg); err != nil {
				logger.Error().Err(err).Str("type", msg.Type).Msg("failed to write outgoing event")
				break SendLoop
			}
			if msg.Terminal() {
				logger.Debug().Str("type", msg.Type).Msg("terminal event sent")
				break SendLoop
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	wsW, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err = wsW.Write(b); err != nil {
		return err
	}
	return wsW.Close()
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	rx chan<- model.Request,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else if ctx.Err() == nil {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var req model.Request
			if wsErr = json.Unmarshal(msg, &req); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to unmarshall incoming message")
				continue
			}
			select {
			case rx <- req:
			case <-ctx.Done():
				break RecvLoop
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if wsErr != nil {
			logger.Debug().Err(wsErr).Msg("failed to send close message")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
