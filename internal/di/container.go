package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/treservi/notify-engine/internal/domain/entities"
	domainservices "github.com/treservi/notify-engine/internal/domain/services"
	"github.com/treservi/notify-engine/internal/infrastructure/repositories"
	"github.com/treservi/notify-engine/internal/infrastructure/services"
	"github.com/treservi/notify-engine/internal/interfaces/controllers"
	"github.com/treservi/notify-engine/internal/interfaces/presenters"
	"github.com/treservi/notify-engine/internal/usecases/notification"
	repositories_ports "github.com/treservi/notify-engine/internal/usecases/ports/repositories"
	services_ports "github.com/treservi/notify-engine/internal/usecases/ports/services"
	"github.com/treservi/notify-engine/pkg/client"
	"github.com/treservi/notify-engine/pkg/config"
	"github.com/treservi/notify-engine/pkg/storage"
	"github.com/treservi/notify-engine/pkg/utils"
)

// infra holds the connections and collectors shared by both containers
type infra struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  services_ports.EngineMetrics
	Pool     *pgxpool.Pool
	NATS     *nats.Conn

	closers []func()
}

func newInfra(cfg *config.Config, logger *slog.Logger) (*infra, error) {
	if logger == nil {
		logger = slog.Default()
	}
	in := &infra{Config: cfg, Logger: logger, Metrics: services_ports.NoopMetrics{}}
	if !cfg.Metrics.Enabled {
		return in, nil
	}

	in.Registry = prometheus.NewRegistry()
	in.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := services.NewPrometheusMetrics(in.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	in.Metrics = metrics
	return in, nil
}

// gatherer returns the registry, or nil when metrics are disabled
func (in *infra) gatherer() prometheus.Gatherer {
	if in.Registry == nil {
		return nil
	}
	return in.Registry
}

func (in *infra) openPool(ctx context.Context) error {
	db := in.Config.Database
	pool, err := repositories.NewPostgresPool(ctx, repositories.PostgresConfig{
		URL:             db.URL,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnIdleTime: db.MaxConnIdleTime,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	in.Pool = pool
	in.closers = append(in.closers, pool.Close)
	return nil
}

func (in *infra) connectNATS() error {
	n := in.Config.NATS
	nc, err := services.ConnectNATS(services.NATSConfig{
		URL:           n.URL,
		Name:          n.Name,
		SubjectPrefix: n.SubjectPrefix,
		ReconnectWait: n.ReconnectWait,
		MaxReconnects: n.MaxReconnects,
	}, in.Logger)
	if err != nil {
		return err
	}
	in.NATS = nc
	in.closers = append(in.closers, func() { _ = nc.Drain() })
	return nil
}

// changeFeed builds the configured feed; the result is both a ChangeFeed and an EventPublisher
func (in *infra) changeFeed(ctx context.Context) (interface {
	services_ports.ChangeFeed
	services_ports.EventPublisher
}, error) {
	switch in.Config.Feed.Type {
	case "nats":
		if in.NATS == nil {
			if err := in.connectNATS(); err != nil {
				return nil, err
			}
		}
		return services.NewNATSChangeFeed(in.NATS, in.Config.NATS.SubjectPrefix, in.Logger), nil
	case "postgres":
		if in.Pool == nil {
			if err := in.openPool(ctx); err != nil {
				return nil, err
			}
		}
		return services.NewPostgresChangeFeed(in.Pool, services.PostgresFeedConfig{
			InsertChannel:     in.Config.Feed.InsertChannel,
			BroadcastChannel:  in.Config.Feed.BroadcastChannel,
			ReconnectInterval: in.Config.Feed.ReconnectInterval,
		}, in.Logger), nil
	case "memory":
		return services.NewMemoryChangeFeed(), nil
	default:
		return nil, fmt.Errorf("unknown feed type %q", in.Config.Feed.Type)
	}
}

func (in *infra) healthChecks() map[string]controllers.HealthCheck {
	checks := make(map[string]controllers.HealthCheck)
	if in.Pool != nil {
		pool := in.Pool
		checks["database"] = pool.Ping
	}
	if in.NATS != nil {
		nc := in.NATS
		checks["nats"] = func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats %s", status)
			}
			return nil
		}
	}
	return checks
}

// Close releases connections in reverse order of creation
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

// BackendContainer holds the dependencies of the backend API (serve)
type BackendContainer struct {
	*infra

	// Repositories
	SubscriptionRepo repositories_ports.SubscriptionRepository
	UnreadRepo       repositories_ports.UnreadRepository
	AppointmentRepo  repositories_ports.AppointmentRepository

	// Services
	PushSender services_ports.PushSender
	Publisher  services_ports.EventPublisher

	// Use Cases
	ManageSubscriptionUC *notification.ManageSubscriptionUseCase
	CountUnreadUC        *notification.CountUnreadUseCase
	Dispatcher           *notification.Dispatcher

	// Presenters
	NotificationPresenter presenters.NotificationPresenter

	// Controllers
	HealthController           *controllers.HealthController
	PushSubscriptionController *controllers.PushSubscriptionController
	NotificationController     *controllers.NotificationController
	HTTPServer                 *controllers.HTTPServer
}

// NewBackendContainer wires the backend API. Connections opened here are released by Close.
func NewBackendContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*BackendContainer, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	in, err := newInfra(cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &BackendContainer{infra: in}

	for _, init := range []func(context.Context) error{
		c.initRepositories,
		c.initServices,
	} {
		if err := init(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.initUseCases()
	c.initControllers()
	return c, nil
}

// initRepositories uses Postgres when a database is configured and process memory otherwise
func (c *BackendContainer) initRepositories(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		c.Logger.Warn("no database configured, subscriptions and appointments are kept in memory")
		repo := repositories.NewMemoryNotificationRepository()
		c.SubscriptionRepo = repo
		c.UnreadRepo = repo
		c.AppointmentRepo = repo
		return nil
	}

	if err := c.openPool(ctx); err != nil {
		return err
	}
	appointments := repositories.NewPostgresAppointmentRepository(c.Pool)
	c.SubscriptionRepo = repositories.NewPostgresSubscriptionRepository(c.Pool)
	c.UnreadRepo = appointments
	c.AppointmentRepo = appointments
	return nil
}

func (c *BackendContainer) initServices(ctx context.Context) error {
	feed, err := c.changeFeed(ctx)
	if err != nil {
		return err
	}
	c.Publisher = feed

	if !c.Config.PushEnabled() {
		c.Logger.Warn("no VAPID keys configured, web push is disabled")
		return nil
	}
	v := c.Config.VAPID
	sender, err := services.NewWebPushSender(services.VAPIDConfig{
		PublicKey:  v.PublicKey,
		PrivateKey: v.PrivateKey,
		Subject:    v.Subject,
		TTL:        v.TTL,
		Urgency:    v.Urgency,
	}, utils.NewDefaultHTTPClient(), c.Logger)
	if err != nil {
		return err
	}
	c.PushSender = sender
	return nil
}

func (c *BackendContainer) initUseCases() {
	c.ManageSubscriptionUC = notification.NewManageSubscriptionUseCase(c.SubscriptionRepo)
	c.CountUnreadUC = notification.NewCountUnreadUseCase(c.UnreadRepo)

	c.Dispatcher = notification.NewDispatcher(c.SubscriptionRepo, c.PushSender, c.Publisher, c.Logger, c.Metrics)
	if c.Config.Server.StoreAppointments {
		c.Dispatcher.WithAppointmentStore(c.AppointmentRepo)
	}
}

func (c *BackendContainer) initControllers() {
	c.NotificationPresenter = presenters.NewHTTPNotificationPresenter()
	c.HealthController = controllers.NewHealthController(c.healthChecks())
	c.PushSubscriptionController = controllers.NewPushSubscriptionController(c.ManageSubscriptionUC, c.NotificationPresenter, c.Logger)
	c.NotificationController = controllers.NewNotificationController(
		c.CountUnreadUC,
		c.Dispatcher,
		c.NotificationPresenter,
		c.Config.VAPID.PublicKey,
		c.Logger,
	)

	c.HTTPServer = controllers.NewHTTPServer(c.Logger, c.gatherer())
	c.HTTPServer.Register("", nil, c.HealthController)
	c.HTTPServer.Register("/api", []echo.MiddlewareFunc{controllers.APIKeyMiddleware(c.Config.Server.APIKey)},
		c.PushSubscriptionController,
		c.NotificationController,
	)
}

// AgentContainer holds the dependencies of the device agent
type AgentContainer struct {
	*infra

	Identity   entities.Identity
	Capability entities.NotificationCapability

	// Backend access
	Client *client.Client
	Repo   *repositories.APINotificationRepository

	// Services
	Feed          services_ports.ChangeFeed
	PushChannel   *services.HeadlessPushChannel
	BadgePlatform services_ports.BadgePlatform
	Feedback      services_ports.Feedback
	Storage       storage.Storage
	storageErr    error

	// Engine
	Store      *notification.LocalStateStore
	Badge      *notification.BadgeBridge
	Registrar  *notification.Registrar
	Reconciler *notification.Reconciler
	Live       *notification.LiveChannel
	Session    *notification.Session

	// Controllers
	HealthController       *controllers.HealthController
	AgentController        *controllers.AgentController
	StatusStreamController *controllers.StatusStreamController
	HTTPServer             *controllers.HTTPServer
}

// NewAgentContainer wires the device engine for the configured identity. The session is
// created stopped.
func NewAgentContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*AgentContainer, error) {
	if err := cfg.ValidateAgent(); err != nil {
		return nil, err
	}
	in, err := newInfra(cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &AgentContainer{
		infra: in,
		Identity: entities.Identity{
			UserID: entities.UserID(cfg.Identity.UserID),
			Scope: entities.Scope{
				Role:    entities.Role(cfg.Identity.Role),
				SalonID: cfg.Identity.SalonID,
				StaffID: cfg.Identity.StaffID,
			},
		},
	}
	if err := c.Identity.Validate(); err != nil {
		return nil, err
	}

	if err := c.initServices(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.initEngine(ctx)
	c.initControllers()
	return c, nil
}

func (c *AgentContainer) initServices(ctx context.Context) error {
	httpClient := utils.NewHTTPClient(utils.HTTPClientConfig{Timeout: c.Config.Backend.Timeout})
	c.Client = client.NewClient(c.Config.Backend.URL,
		client.WithAPIKey(c.Config.Backend.APIKey),
		client.WithHTTPClient(httpClient),
	)
	c.Repo = repositories.NewAPINotificationRepository(c.Client)

	feed, err := c.changeFeed(ctx)
	if err != nil {
		return err
	}
	c.Feed = feed

	backend, err := storage.NewStorage(c.Config.StorageConfig())
	if err != nil {
		c.Logger.Warn("local state unavailable, badge state is kept in memory",
			"type", c.Config.LocalState.Type, "error", err)
		c.storageErr = err
	} else {
		c.Storage = backend
		c.closers = append(c.closers, func() { _ = backend.Close() })
	}

	c.PushChannel = services.NewHeadlessPushChannel(services.HeadlessPushConfig{
		Permission:  c.Config.Device.Permission,
		EndpointURL: c.Config.Device.EndpointURL,
	}, c.Logger)

	platforms := services.MultiBadgePlatform{
		services.NewLogBadgePlatform(c.Config.Device.HasBadgeAPI && c.Config.Badge.Log, c.Logger),
	}
	if c.Config.Badge.Sync {
		platforms = append(platforms, services.NewPushBadgePlatform(c.Client, c.Identity.UserID, c.Logger))
	}
	c.BadgePlatform = platforms
	c.Feedback = services.NewTerminalFeedback(os.Stdout, c.Config.Device.Sound, c.Logger)
	return nil
}

func (c *AgentContainer) initEngine(ctx context.Context) {
	d := c.Config.Device
	c.Capability = domainservices.DetectCapability(entities.DeviceProbe{
		UserAgent:          d.UserAgent,
		Standalone:         d.Standalone,
		HasServiceWorker:   d.HasServiceWorker,
		HasPushManager:     d.HasPushManager,
		HasNotificationAPI: d.HasNotificationAPI,
		HasBadgeAPI:        d.HasBadgeAPI,
	})

	c.Store = notification.NewLocalStateStore(c.Storage, c.Logger, c.Metrics)
	if c.storageErr != nil {
		c.Store.Unavailable(c.storageErr)
	}
	c.Badge = notification.NewBadgeBridge(c.BadgePlatform, c.Logger, c.Metrics)
	c.Registrar = notification.NewRegistrar(c.PushChannel, c.Repo, c.Capability, notification.RegistrarConfig{
		VAPIDPublicKey: c.vapidPublicKey(ctx),
		UserAgent:      d.UserAgent,
	}, c.Logger, c.Metrics)
	c.Reconciler = notification.NewReconciler(c.Repo, c.Store, c.Badge, notification.ReconcilerConfig{
		SeenCapacity: c.Config.Session.SeenCapacity,
		SeenWindow:   c.Config.Session.SeenWindow,
	}, c.Logger, c.Metrics)
	c.Live = notification.NewLiveChannel(c.Feed, c.Logger)

	c.Session = notification.NewSession(notification.SessionDeps{
		Registrar:  c.Registrar,
		Reconciler: c.Reconciler,
		Live:       c.Live,
		Badge:      c.Badge,
		Store:      c.Store,
		Feedback:   c.Feedback,
	}, c.Capability, notification.SessionConfig{
		RefreshSchedule: c.Config.Session.RefreshSchedule,
		RecentLimit:     c.Config.Session.RecentLimit,
		FetchTimeout:    c.Config.Session.FetchTimeout,
	}, c.Logger)
}

// vapidPublicKey prefers the configured key and asks the backend otherwise
func (c *AgentContainer) vapidPublicKey(ctx context.Context) string {
	if key := c.Config.VAPID.PublicKey; key != "" {
		return key
	}
	key, err := c.Client.VAPIDPublicKey(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		c.Logger.Log(ctx, level, "failed to fetch VAPID public key, push subscription unavailable", "error", err)
		return ""
	}
	return key
}

func (c *AgentContainer) initControllers() {
	c.HealthController = controllers.NewHealthController(c.healthChecks())
	c.AgentController = controllers.NewAgentController(c.Session, c.PushChannel, c.Logger)
	c.StatusStreamController = controllers.NewStatusStreamController(c.Session, c.Logger)

	c.HTTPServer = controllers.NewHTTPServer(c.Logger, c.gatherer())
	c.HTTPServer.Register("", nil, c.HealthController, c.AgentController, c.StatusStreamController)
}

// Close stops the session and releases connections
func (c *AgentContainer) Close() {
	if c.Session != nil {
		c.Session.Stop()
	}
	c.infra.Close()
}
