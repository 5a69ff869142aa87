package ws

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/api"
	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus"
	"github.com/isqad/livelook-meet/internal/registry"
	"github.com/isqad/livelook-meet/internal/relay"
)

// WsAppOptions is options of the application
type WsAppOptions struct {
	Env            core.Environment
	Address        string
	MaxMessageSize int64
	Bus            eventbus.Bus

	registry  *registry.Registry
	relay     *relay.Relay
	websocket *melody.Melody
}

// WsApp is the signaling server: websocket relay, rooms API and metrics
type WsApp struct {
	WsAppOptions
}

func New(options WsAppOptions) *WsApp {
	if options.Bus == nil {
		options.Bus = eventbus.NewLocalBus()
	}
	if options.MaxMessageSize == 0 {
		options.MaxMessageSize = 200 * 1024 // 200K
	}

	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = options.MaxMessageSize

	options.registry = registry.New()
	options.relay = relay.New(options.registry, options.Bus)

	app := &WsApp{
		options,
	}
	return app
}

func (app *WsApp) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	InitLogger(app.Env)
	router := app.Router()

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the server")
		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Msg("close websocket sessions")
		}
		if err := app.Bus.Close(); err != nil {
			log.Error().Err(err).Msg("close eventbus")
		}
		log.Info().Msg("all services are stopped")
		close(done)
	})

	// Shutdown the HTTP server
	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		// Wait 20 seconds for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("address", app.Address).Msg("signaling server started")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// InitLogger configures the global zerolog logger for the environment
func InitLogger(env core.Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}

// Router is function for construct http router
func (app *WsApp) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	app.websocket.HandleConnect(ConnectHandler(app.relay))
	app.websocket.HandleDisconnect(DisconnectHandler(app.relay))
	app.websocket.HandleMessage(HandleMessage(app.relay))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Error().Err(err).Str("service", "ws").Msg("error in websocket session")
	})

	r.Get("/ws", WsHandler(app.websocket, app.Bus))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("livelook signaling server is running"))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Handle("/metrics", promhttp.Handler())
		r.Mount("/api/v1", api.NewApp(api.AppOptions{Rooms: app.registry}).Router())
	})

	return r
}
