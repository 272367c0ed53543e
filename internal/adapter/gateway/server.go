package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/middleware"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/usecase/match"
)

// GameLoader loads, lists and unloads game modules.
type GameLoader interface {
	LoadFromJSON(ctx context.Context, module, rawMeta []byte) (*plugin.LoadedGame, error)
	Unload(ctx context.Context, id string) error
	Registry() *plugin.Registry
}

// MatchService runs matches on behalf of API clients.
type MatchService interface {
	Create(ctx context.Context, gameID string, specs []match.PlayerSpec) (*match.Summary, error)
	Get(id string) (*match.Summary, error)
	List() []match.Summary
	SubmitMove(id string, player domain.Player, move domain.Move) error
	CancelMove(id string, player domain.Player) error
	Stop(id string) error
}

// Deps holds injected dependencies for the gateway.
type Deps struct {
	Games   GameLoader
	Matches MatchService
	Bus     domain.EventBus // optional, nil = no event stream
	Auth    Authenticator   // optional, nil = open
	Logger  *slog.Logger
	Config  config.GatewayConfig
	Version string
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	matchID   string     // empty = every event
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() { cc.closeOnce.Do(func() { close(cc.done) }) }

// Server is the HTTP API of the arena. REST routes manage games and
// matches; /ws streams bus events and serves a small RPC surface.
type Server struct {
	games     GameLoader
	matches   MatchService
	bus       domain.EventBus
	auth      Authenticator
	logger    *slog.Logger
	cfg       config.GatewayConfig
	version   string
	startTime time.Time

	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	subOnce   sync.Once
	unsubAll  func()
	httpSrv   *http.Server
	boundAddr string
	router    http.Handler

	// bgCtx bounds goroutines owned by middleware.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewServer creates a gateway server and registers its routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Config.RequestTimeout <= 0 {
		deps.Config.RequestTimeout = 60 * time.Second
	}
	if deps.Config.MaxUploadBytes <= 0 {
		deps.Config.MaxUploadBytes = 16 << 20
	}
	s := &Server{
		games:     deps.Games,
		matches:   deps.Matches,
		bus:       deps.Bus,
		auth:      deps.Auth,
		logger:    deps.Logger,
		cfg:       deps.Config,
		version:   deps.Version,
		startTime: time.Now(),
		handlers:  make(map[string]RPCHandler),
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	s.registerRPC()
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.Heartbeat("/healthz"))

	// The socket is long-lived and stays outside the request timeout.
	r.Get("/ws", s.handleUpgrade)

	r.Route("/api", func(r chi.Router) {
		if rl := s.cfg.RateLimit; rl.RequestsPerMinute > 0 {
			r.Use(middleware.RateLimit(s.bgCtx, middleware.RateLimitConfig{
				RequestsPerMin: rl.RequestsPerMinute,
				BurstSize:      rl.Burst,
				TrustedProxies: rl.TrustedProxies,
			}))
		}
		r.Use(chimw.Timeout(s.cfg.RequestTimeout))
		r.Use(s.requireAuth)

		r.Get("/status", s.handleStatus)

		r.Route("/games", func(r chi.Router) {
			r.Post("/", s.handleLoadGame)
			r.Get("/", s.handleListGames)
			r.Get("/{id}", s.handleGetGame)
			r.Delete("/{id}", s.handleUnloadGame)
		})

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", s.handleCreateMatch)
			r.Get("/", s.handleListMatches)
			r.Get("/{id}", s.handleGetMatch)
			r.Post("/{id}/moves", s.handleSubmitMove)
			r.Post("/{id}/cancel", s.handleCancelMove)
			r.Post("/{id}/stop", s.handleStopMatch)
		})
	})
	return r
}

// requestLogger logs one line per request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("gateway request",
			"method", r.Method,
			"path", r.URL.Path,
			"client", middleware.ClientIP(r, s.cfg.RateLimit.TrustedProxies),
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	s.Subscribe()
	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Subscribe starts forwarding bus events to connected clients. Start calls
// it; servers mounted through Handler call it themselves.
func (s *Server) Subscribe() {
	if s.bus == nil {
		return
	}
	s.subOnce.Do(func() { s.unsubAll = s.bus.SubscribeAll(s.forward) })
}

func (s *Server) forward(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if cc.matchID != "" && cc.matchID != event.MatchID {
			return true
		}
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "event", event.Type)
		}
		return true
	})
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.bgCancel()
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:    info,
		ws:      ws,
		matchID: r.URL.Query().Get("match_id"),
		sendCh:  make(chan Frame, 64),
		done:    make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", info.Name, "match_id", cc.matchID)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
