// Package app wires the realtime service together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"
	"golang.org/x/sync/errgroup"

	"github.com/Vasu1712/scenyx-realtime/internal/api/devices"
	"github.com/Vasu1712/scenyx-realtime/internal/api/dms"
	"github.com/Vasu1712/scenyx-realtime/internal/auth"
	"github.com/Vasu1712/scenyx-realtime/internal/backpressure"
	"github.com/Vasu1712/scenyx-realtime/internal/chat"
	"github.com/Vasu1712/scenyx-realtime/internal/cluster"
	"github.com/Vasu1712/scenyx-realtime/internal/config"
	"github.com/Vasu1712/scenyx-realtime/internal/delivery"
	"github.com/Vasu1712/scenyx-realtime/internal/httpx"
	"github.com/Vasu1712/scenyx-realtime/internal/middleware"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
	"github.com/Vasu1712/scenyx-realtime/internal/notify"
	"github.com/Vasu1712/scenyx-realtime/internal/presence"
	"github.com/Vasu1712/scenyx-realtime/internal/sequencer"
	"github.com/Vasu1712/scenyx-realtime/internal/session"
	"github.com/Vasu1712/scenyx-realtime/internal/storage"
	"github.com/Vasu1712/scenyx-realtime/internal/storage/memory"
	"github.com/Vasu1712/scenyx-realtime/internal/storage/postgres"
	"github.com/Vasu1712/scenyx-realtime/internal/ws"
)

// App owns every long-lived component of one node.
type App struct {
	cfg         *config.Config
	log         zerolog.Logger
	store       storage.Store
	registry    *session.Registry
	reaper      *session.Reaper
	router      *delivery.Router
	broadcaster *presence.Broadcaster
	chat        *chat.Service
	valkey      valkey.Client
	relay       *cluster.Relay
	handler     http.Handler
}

// New builds the service graph. Postgres and Valkey are used when configured.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	if cfg.DatabaseURL != "" {
		store, err := postgres.NewPostgresDMStore(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		a.store = store
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		a.store = memory.NewDMStore()
	}

	var (
		registryOpts  []session.Option
		routerOpts    []delivery.Option
		presenceOpts  []presence.Option
		clusterRemote cluster.Remote
	)
	if cfg.ClusterEnabled() {
		client, err := cluster.NewClient(cfg)
		if err != nil {
			a.store.Close()
			return nil, err
		}
		a.valkey = client
		a.relay = cluster.NewRelay(client, cfg.NodeID, log)
		clusterRemote = cluster.Remote{Directory: cluster.NewDirectory(client, cfg.ClusterPresenceTTL), Relay: a.relay}
		registryOpts = append(registryOpts, session.WithMirror(clusterRemote.Directory))
		routerOpts = append(routerOpts, delivery.WithRemote(cfg.NodeID, clusterRemote))
		presenceOpts = append(presenceOpts, presence.WithPublisher(a.relay), presence.WithLocator(clusterRemote.Directory))
		log.Info().Str("valkey", cfg.ValkeyAddr).Msg("cluster mode enabled")
	}

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.PushGatewayURL != "" {
		notifier = notify.NewPushNotifier(cfg.PushGatewayURL, cfg.PushGatewayToken, cfg.PushTimeout, a.store, log)
	}

	a.registry = session.NewRegistry(cfg.HeartbeatTimeout, log, registryOpts...)
	a.reaper = session.NewReaper(a.registry, cfg.ReapInterval, log)
	queue := backpressure.NewController(cfg.OutboxCapacity, log)
	a.router = delivery.NewRouter(a.registry, queue, a.store, notifier, log, routerOpts...)
	a.broadcaster = presence.NewBroadcaster(a.registry, queue,
		presence.NewSubscriberSet(presence.ConversationPeers(a.store)), a.store, log, presenceOpts...)

	// Outboxes must exist before the router flushes into them.
	a.registry.AddObserver(queue)
	a.registry.AddObserver(a.router)
	a.registry.SetPresenceSink(a.broadcaster.Sink())
	queue.OnSlowConsumer(func(sessionID string) {
		a.registry.DeregisterWithReason(sessionID, models.CloseSlowConsumer)
	})

	seq := sequencer.New(a.store, sequencer.Config{
		Stripes:        cfg.SequencerStripes,
		CacheSize:      cfg.SequencerCacheSize,
		MaxRetries:     cfg.PersistMaxRetries,
		InitialBackoff: cfg.PersistInitialBackoff,
		MaxBackoff:     cfg.PersistMaxBackoff,
	}, log)
	a.chat = chat.NewService(a.store, seq, a.router, a.broadcaster, log)

	var verifier *auth.Verifier
	if cfg.AuthEnabled {
		verifier = auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	} else {
		log.Warn().Msg("AUTH_ENABLED=false, trusting X-User-ID header")
	}
	hub := ws.NewHub(a.registry, queue, a.chat, cfg.NodeID, cfg.AllowedOrigins, log)
	a.handler = a.routes(auth.NewAuthenticator(verifier), hub)
	return a, nil
}

func (a *App) routes(authn *auth.Authenticator, hub *ws.Hub) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", authn.Middleware(http.HandlerFunc(hub.ServeWS))).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authn.Middleware)
	dms.RegisterDMRoutes(api, &dms.DMHandler{Chat: a.chat})
	devices.RegisterDeviceRoutes(api, &devices.DeviceHandler{Devices: a.chat})

	// CORS wraps the router so preflight requests never reach method matching.
	return middleware.CORS(a.cfg.AllowedOrigins)(middleware.RequestLogger(a.log)(r))
}

func (a *App) health(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"node":     a.cfg.NodeID,
		"sessions": a.registry.Count(),
		"cluster":  a.cfg.ClusterEnabled(),
	})
}

// Handler is the HTTP entry point.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.reaper.Start(gctx)

	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx, a.router, a.broadcaster)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not closed by Shutdown.
		a.registry.CloseAll()
		a.reaper.Stop()
		return err
	})

	return g.Wait()
}

// Close releases the store and the Valkey client.
func (a *App) Close() error {
	if a.valkey != nil {
		a.valkey.Close()
	}
	return a.store.Close()
}
