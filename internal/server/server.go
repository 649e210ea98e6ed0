// Package server orchestrates all components: COMMS client, store, desktop services, dispatcher, HTTP health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/rabbyhub/desktop-ipc/internal/config"
	"github.com/rabbyhub/desktop-ipc/pkg/appinfo"
	"github.com/rabbyhub/desktop-ipc/pkg/appstate"
	"github.com/rabbyhub/desktop-ipc/pkg/commsutil"
	"github.com/rabbyhub/desktop-ipc/pkg/dapps"
	"github.com/rabbyhub/desktop-ipc/pkg/db"
	"github.com/rabbyhub/desktop-ipc/pkg/desktop"
	"github.com/rabbyhub/desktop-ipc/pkg/devices"
	"github.com/rabbyhub/desktop-ipc/pkg/dispatcher"
	"github.com/rabbyhub/desktop-ipc/pkg/events"
	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
	"github.com/rabbyhub/desktop-ipc/pkg/memstore"
	"github.com/rabbyhub/desktop-ipc/pkg/proxy"
	"github.com/rabbyhub/desktop-ipc/pkg/rabbyx"
	"github.com/rabbyhub/desktop-ipc/pkg/webmeta"
)

const logPrefix = "server:server"

// Store is everything the desktop services persist through.
type Store interface {
	dapps.Store
	appstate.Store
	proxy.Store
	Ping(ctx context.Context) error
	Clear(ctx context.Context) error
}

// Server is the rabby-ipcd orchestrator.
type Server struct {
	cfg     *config.Config
	nc      *comms.Conn
	store   Store
	desk    *desktop.Service
	disp    *dispatcher.Dispatcher
	broker  *devices.Broker
	baseCtx context.Context
	cancel  context.CancelFunc

	subs       []*comms.Subscription
	httpServer *http.Server

	// mu guards closed; inflight.Add only happens under mu while open.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting rabby-ipcd (store=%s)", logPrefix, cfg.StoreDriver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	// Step 2: Open the store
	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		nc.Close()
		return err
	}
	closeStore := func() {
		if pool != nil {
			pool.Close()
		}
	}

	// Step 3: Build services and subscribe
	s, err := New(ctx, cfg, nc, store)
	if err != nil {
		closeStore()
		nc.Close()
		return err
	}
	if err := s.Subscribe(); err != nil {
		closeStore()
		nc.Close()
		return err
	}

	// Step 4: Start HTTP health server
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - rabby-ipcd is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	s.httpServer.Shutdown(shutdownCtx)
	s.Close()
	nc.Drain()
	closeStore()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// openStore returns the configured store. The pool is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config) (Store, *pgxpool.Pool, error) {
	if !cfg.UsesDatabase() {
		slog.Warn(fmt.Sprintf("%s - Using in-memory store; data is lost on exit", logPrefix))
		return memstore.New(), nil, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	if cfg.RunMigrations {
		migrations, err := db.LoadMigrations(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return db.NewRepository(pool), pool, nil
}

// New builds the desktop services over store. nc may be nil, in which case
// events are dropped and rabbyx queries report the engine as unavailable.
func New(ctx context.Context, cfg *config.Config, nc *comms.Conn, store Store) (*Server, error) {
	appVersion, err := appinfo.NormalizeVersion(cfg.AppVersion)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid APP_VERSION: %w", logPrefix, err)
	}

	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if nc != nil {
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{SubjectRoot: cfg.EventSubject})
	}

	proxyMgr, err := proxy.NewManager(ctx, store, publisher)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to start proxy manager: %w", logPrefix, err)
	}

	var source devices.Source = &devices.StaticSource{}
	if cfg.DeviceInventoryFile != "" {
		source = &devices.FileSource{Path: cfg.DeviceInventoryFile}
	}
	broker := devices.NewBroker(publisher, cfg.DeviceSelectTimeout)

	deps := desktop.Deps{
		AppVersion:    appVersion,
		Dapps:         dapps.NewService(store, publisher),
		AppState:      appstate.NewService(store, publisher),
		Proxy:         proxyMgr,
		Devices:       devices.NewService(source, broker),
		Inspector:     webmeta.NewInspector(proxyMgr.Transport(), webmeta.WithTimeout(cfg.DetectTimeout)),
		DynamicConfig: appinfo.NewDynamicConfigLoader(cfg.DynamicConfigURL, cfg.DynamicConfigFile, appVersion, proxyMgr.Transport()),
		Resetter:      store,
		Publisher:     publisher,
	}
	if nc != nil {
		deps.Rabbyx = rabbyx.NewClient(nc, cfg.RabbyxRPCSubject, cfg.RabbyxTimeout)
	}

	desk := desktop.NewService(deps)
	baseCtx, cancel := context.WithCancel(ctx)
	return &Server{
		cfg:     cfg,
		nc:      nc,
		store:   store,
		desk:    desk,
		disp:    dispatcher.NewDispatcher(desk, desk),
		broker:  broker,
		baseCtx: baseCtx,
		cancel:  cancel,
	}, nil
}

// Subscribe registers the invoke, send, manifest and device-select subjects.
func (s *Server) Subscribe() error {
	if s.nc == nil {
		return fmt.Errorf("%s - no COMMS connection", logPrefix)
	}
	routes := []struct {
		subject string
		handle  func(*comms.Msg)
	}{
		{orDefault(s.cfg.InvokeSubject, commsutil.SubjectInvoke), s.async(s.handleInvoke)},
		{orDefault(s.cfg.SendSubject, commsutil.SubjectSend), s.async(s.handleSend)},
		{commsutil.SubjectManifest, s.handleManifest},
		{orDefault(s.cfg.DeviceSelectSubject, commsutil.SubjectDeviceSelect), s.async(s.handleDeviceSelect)},
	}
	for _, r := range routes {
		sub, err := s.nc.Subscribe(r.subject, r.handle)
		if err != nil {
			s.Close()
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, r.subject, err)
		}
		s.subs = append(s.subs, sub)
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, r.subject))
	}
	return nil
}

// Close unsubscribes, abandons pending device selections and waits for
// in-flight requests.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.cancel()
	s.inflight.Wait()
}

// Desktop returns the handler behind the dispatcher.
func (s *Server) Desktop() *desktop.Service {
	return s.desk
}

// async runs a handler off the subscription goroutine so that a slow channel
// (page inspection, a pending device selection) does not stall the others.
func (s *Server) async(h func(*comms.Msg)) comms.MsgHandler {
	return func(msg *comms.Msg) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			slog.Debug(fmt.Sprintf("%s - dropping message on %s after close", logPrefix, msg.Subject))
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.inflight.Done()
			h(msg)
		}()
	}
}

func (s *Server) handleInvoke(msg *comms.Msg) {
	req, err := commsutil.DecodeInvokeRequest(msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode invoke: %v", logPrefix, err))
		resp := &ipc.InvokeResponse{
			Ok:    false,
			Error: ipc.NewChannelError(ipc.CodeInvalidArgument, "Failed to decode request").Detail(),
		}
		if req != nil {
			resp.ID = req.ID
		}
		commsutil.Respond(msg, resp)
		return
	}

	reqCtx, cancel := s.requestContext(req.Ctx)
	defer cancel()

	resp := s.disp.Dispatch(reqCtx, req)
	if err := commsutil.Respond(msg, resp); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond on %s: %v", logPrefix, req.Channel, err))
	}
}

func (s *Server) handleSend(msg *comms.Msg) {
	m, err := commsutil.DecodeSendMessage(msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode send: %v", logPrefix, err))
		return
	}
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.disp.DispatchSend(ctx, m); err != nil {
		slog.Warn(fmt.Sprintf("%s - send %s failed: %v", logPrefix, m.Channel, err))
	}
}

func (s *Server) handleManifest(msg *comms.Msg) {
	commsutil.Respond(msg, ipc.Manifest())
}

// selectionReply is the answer to a device selection request.
type selectionReply struct {
	devices.Selection
	Error *ipc.ErrorDetail `json:"error,omitempty"`
}

func (s *Server) handleDeviceSelect(msg *comms.Msg) {
	var req devices.SelectionRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		commsutil.Respond(msg, selectionReply{Error: ipc.NewChannelError(ipc.CodeInvalidArgument, "Failed to decode selection request").Detail()})
		return
	}

	sel, err := s.broker.Request(s.baseCtx, req.Candidates)
	if err != nil {
		code := ipc.CodeInternal
		if errors.Is(err, devices.ErrSelectionTimeout) || errors.Is(err, context.Canceled) {
			code = ipc.CodeUnavailable
		}
		commsutil.Respond(msg, selectionReply{Error: ipc.NewChannelError(code, err.Error()).Detail()})
		return
	}
	commsutil.Respond(msg, selectionReply{Selection: *sel})
}

// requestContext derives the per-request context; a caller timeout shorter
// than REQUEST_TIMEOUT wins.
func (s *Server) requestContext(ic *ipc.InvocationContext) (context.Context, context.CancelFunc) {
	timeout := s.cfg.RequestTimeout
	if ic != nil && ic.TimeoutMs > 0 {
		if d := time.Duration(ic.TimeoutMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	return context.WithTimeout(s.baseCtx, timeout)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
