// Package app wires configuration into a running detector: store, push
// transport, dispatcher, engine, event bus and its sinks, and the control
// surfaces.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/GriffinCanCode/omnicall/internal/config"
	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	"github.com/GriffinCanCode/omnicall/internal/engine"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/events"
	"github.com/GriffinCanCode/omnicall/internal/events/mqtt"
	"github.com/GriffinCanCode/omnicall/internal/health"
	"github.com/GriffinCanCode/omnicall/internal/push"
	"github.com/GriffinCanCode/omnicall/internal/resilience"
	"github.com/GriffinCanCode/omnicall/internal/screen"
	"github.com/GriffinCanCode/omnicall/internal/server"
	"github.com/GriffinCanCode/omnicall/internal/store"
	fsstore "github.com/GriffinCanCode/omnicall/internal/store/firestore"
	"github.com/GriffinCanCode/omnicall/internal/store/memory"
	"github.com/GriffinCanCode/omnicall/internal/store/postgres"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

const (
	ShutdownTimeout   = 5 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	MQTTBuffer        = 128
)

// Options replace pieces of the wiring, mostly for tests.
type Options struct {
	Source    engine.FrameSource
	Transport dispatch.Transport
	Engine    engine.Options
}

// App owns every long-lived component.
type App struct {
	cfg *config.Config

	backend    store.Backend
	store      *store.Guarded
	dispatcher *dispatch.Dispatcher
	engine     *engine.Engine
	bus        *events.Bus
	health     *health.Server
	capturer   *screen.Capturer
	mqtt       *mqtt.Publisher

	// base outlives request contexts; engine runs hang off it.
	base   context.Context
	cancel context.CancelFunc
	pumped chan struct{}
}

var _ server.Controller = (*App)(nil)

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	var fb firebaseApps
	log := trace.Logger(ctx)

	backend, err := openBackend(ctx, cfg, &fb)
	if err != nil {
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		if transport, err = openTransport(ctx, cfg.Push, &fb); err != nil {
			backend.Close()
			return nil, err
		}
	}

	a := &App{
		cfg:     cfg,
		backend: backend,
		store:   store.Guard(backend, resilience.StoreConfig("store-"+cfg.Store.Driver)),
		bus:     events.NewBus(),
		health:  health.New(),
		pumped:  make(chan struct{}),
	}

	source := opts.Source
	if source == nil {
		c, err := screen.New()
		if err != nil {
			backend.Close()
			return nil, err
		}
		a.capturer = c
		source = c
	}

	a.dispatcher = dispatch.New(a.store, transport, a.store, dispatch.Options{
		SendTimeout:    cfg.Engine.SendTimeout,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
	})
	a.engine = engine.New(engine.Deps{
		Source:     source,
		Dispatcher: a.dispatcher,
		Matches:    a.store,
		Stats:      a.store,
	}, opts.Engine)

	a.base, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(a.pumped)
		a.bus.Pump(a.base, a.engine.Events(), a.observe)
	}()

	if cfg.MQTT.Enabled {
		if err := a.startMQTT(ctx); err != nil {
			log.Warn("mqtt sink disabled", "broker", cfg.MQTT.Broker, "error", err)
		}
	}

	log.Info("detector wired",
		"store", cfg.Store.Driver,
		"push", cfg.Push.Driver,
		"user", cfg.Engine.UserID,
		"mqtt", a.mqtt != nil,
	)
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config, fb *firebaseApps) (store.Backend, error) {
	owner := cfg.Engine.UserID
	switch cfg.Store.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Store.DSN, owner)
	case "firestore":
		fa, err := fb.get(ctx, cfg.Store.ProjectID, cfg.Store.CredentialsFile)
		if err != nil {
			return nil, err
		}
		client, err := fa.Firestore(ctx)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "open firestore")
		}
		return fsstore.New(client, owner), nil
	default:
		return memory.New(memory.Options{Owner: owner, Tokens: cfg.Store.Tokens, StateFile: cfg.Store.StateFile})
	}
}

func openTransport(ctx context.Context, cfg config.PushConfig, fb *firebaseApps) (dispatch.Transport, error) {
	if cfg.Driver != "fcm" {
		return push.Log{}, nil
	}
	fa, err := fb.get(ctx, cfg.ProjectID, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	client, err := fa.Messaging(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDispatchTransport, "open fcm client")
	}
	return push.NewFCM(client), nil
}

func (a *App) startMQTT(ctx context.Context) error {
	p, err := mqtt.New(a.cfg.MQTT)
	if err != nil {
		return err
	}
	if err := p.Connect(ctx); err != nil {
		return err
	}
	ch, err := a.bus.Subscribe("mqtt", MQTTBuffer)
	if err != nil {
		p.Close()
		return err
	}
	a.mqtt = p
	go p.Run(a.base, ch)
	return nil
}

// observe keeps the health service in step with the engine.
func (a *App) observe(ev events.Event) {
	if ev.Kind == events.KindStatus {
		a.health.Set(a.engine.Running())
	}
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Bus returns the event bus for additional sinks.
func (a *App) Bus() *events.Bus { return a.bus }

// Status implements server.Controller.
func (a *App) Status() engine.Status { return a.engine.Status() }

// StartEngine starts a run with the configured engine settings and any
// overrides in req. The run is not tied to ctx.
func (a *App) StartEngine(ctx context.Context, req server.StartRequest) error {
	cfg := a.cfg.Engine
	if req.TemplatePath != "" {
		cfg.TemplatePath = config.ExpandHome(req.TemplatePath)
	}
	if req.Threshold != 0 {
		cfg.Threshold = req.Threshold
	}
	if err := a.engine.Start(a.base, cfg); err != nil {
		return err
	}
	a.health.Set(true)
	return nil
}

// StopEngine stops the current run.
func (a *App) StopEngine() error {
	err := a.engine.Stop()
	a.health.Set(false)
	return err
}

// SendTest sends message to every device of the configured user.
func (a *App) SendTest(ctx context.Context, message string) (dispatch.Result, error) {
	return a.dispatcher.Dispatch(ctx, a.cfg.Engine.UserID, dispatch.Notification{
		Title:   a.cfg.Engine.Title,
		Message: message,
		URL:     a.cfg.Engine.PayloadURL,
	})
}

// Stats returns the configured user's and global counters.
func (a *App) Stats(ctx context.Context) (store.PersonalStats, store.GlobalStats, error) {
	return a.store.FetchStats(ctx, a.cfg.Engine.UserID)
}

// Register creates a new user labelled label and returns its ID.
func (a *App) Register(ctx context.Context, label string) (string, error) {
	return a.store.RegisterUser(ctx, label)
}

// AddToken registers a device token for the configured user.
func (a *App) AddToken(ctx context.Context, token string) error {
	w, ok := a.backend.(store.TokenWriter)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidConfig, "store driver %q reads tokens from store.tokens", a.cfg.Store.Driver)
	}
	return w.AddToken(ctx, a.cfg.Engine.UserID, token)
}

// SubmitFeedback stores a feedback message from the configured user.
func (a *App) SubmitFeedback(ctx context.Context, displayName, message string) error {
	return a.store.SubmitFeedback(ctx, store.Feedback{UserID: a.cfg.Engine.UserID, DisplayName: displayName, Message: message})
}

// Serve runs the HTTP surface and, when configured, the gRPC health
// service until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	log := trace.Logger(ctx)
	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           server.New(a, a.bus).Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
	go func() {
		log.Info("http server starting", "addr", a.cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- apperrors.Wrap(err, apperrors.CodeInternal, "http server")
		}
	}()

	if addr := a.cfg.Server.GRPCAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			_ = httpServer.Close()
			return apperrors.Wrap(err, apperrors.CodeInternal, "listen grpc").WithMetadata("addr", addr)
		}
		go func() {
			log.Info("grpc health server starting", "addr", addr)
			if err := a.health.Serve(lis); err != nil {
				errCh <- apperrors.Wrap(err, apperrors.CodeInternal, "grpc server")
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	if a.cfg.Server.GRPCAddr != "" {
		a.health.Stop()
	}
	return serveErr
}

// Close stops the engine and releases every resource.
func (a *App) Close() error {
	var errs []error
	if err := a.engine.Stop(); err != nil {
		errs = append(errs, err)
	}
	a.cancel()
	<-a.pumped
	_ = a.bus.Close()

	if a.mqtt != nil {
		errs = append(errs, a.mqtt.Close())
	}
	if a.capturer != nil {
		errs = append(errs, a.capturer.Close())
	}
	errs = append(errs, a.backend.Close())
	return errors.Join(errs...)
}
