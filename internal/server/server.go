package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/dispatch"
	"github.com/teamloop/realtime/internal/hub"
	"github.com/teamloop/realtime/internal/server/middleware"
	"github.com/teamloop/realtime/pkg/config"
	"github.com/teamloop/realtime/pkg/state"
	"github.com/teamloop/realtime/pkg/state/registry"
	"github.com/teamloop/realtime/pkg/transport"
)

// App wires the realtime service together: one registry, one dispatcher, one
// bridge, one hub, constructed here and passed by reference. There is no
// package-level service instance.
type App struct {
	logger     *slog.Logger
	registry   state.Registry
	dispatcher *dispatch.Dispatcher
	bridge     *bridge.Bridge
	hub        *hub.Hub
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(
	logger *slog.Logger,
	rootCtx context.Context,
	cfg *config.Config,
	broker bridge.Broker,
	chats hub.ChatMembership,
	messages hub.MessageSaver,
	notifications hub.NotificationSaver,
) *App {
	reg := registry.NewInMemory(logger, cfg.Server.MaxRoomsPerConnection)
	dispatcher := dispatch.New(logger, reg)
	br := bridge.New(logger, broker, dispatcher)
	h := hub.New(logger, reg, dispatcher, br, chats, messages, notifications)

	app := &App{
		logger:     logger,
		registry:   reg,
		dispatcher: dispatcher,
		bridge:     br,
		hub:        h,
		config:     cfg,
		ctx:        rootCtx,
	}

	// Create a cycler function that closes over the registry and logger.
	connCycler := func(userID string) {
		oldest, found := reg.OldestForUser(userID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.String("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			if tc, ok := oldest.Transport.(*transport.Connection); ok {
				tc.Close(errors.New("connection cycled by new connection"))
			}
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(
				logger,
				reg.CountForUser,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.HandleFunc("/healthz", app.healthHandler)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

// Hub exposes the event hub so the REST layer can broadcast through it.
func (a *App) Hub() *hub.Hub {
	return a.hub
}

func (a *App) Run() error {
	// The bridge subscriber runs in its own loop, independent of any
	// connection handler.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.bridge.Run(a.ctx); err != nil {
			a.logger.Error("Bridge subscriber stopped", slog.Any("error", err))
		}
	}()

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "ok %s\n", a.bridge.InstanceID())
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	var ip string
	if reqMeta != nil {
		ip = reqMeta.IP
	}
	connLogger := a.logger.With(slog.String("remoteAddr", ip))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: a.config.Transport.ReadTimeout},
		a.hub.HandleFrame,
		a.hub.HandleClose,
		a.logger,
	)
	if _, err := a.registry.Register(conn, ip); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	connLogger.Info("Connection established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence: stop accepting, close every
// live connection, wait for their goroutines and the bridge loop to drain.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.Connections() {
		if tc, ok := conn.Transport.(*transport.Connection); ok {
			tc.Close(errors.New("graceful shutdown"))
		}
	}

	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
