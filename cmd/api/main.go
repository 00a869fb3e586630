package main

import (
	"context"
	"github.com/ariefcatur/go-rifa/internal/availability"
	"github.com/ariefcatur/go-rifa/internal/config"
	"github.com/ariefcatur/go-rifa/internal/draw"
	"github.com/ariefcatur/go-rifa/internal/httpx"
	kafkax "github.com/ariefcatur/go-rifa/internal/kafka"
	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/postgres"
	"github.com/ariefcatur/go-rifa/internal/reconcile"
	"github.com/ariefcatur/go-rifa/internal/redisx"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var store rifa.Store
	switch cfg.StorageDriver {
	case "memory":
		log.Warn("using in-memory storage; data is lost on restart")
		store = rifa.NewMemoryStore()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("db migrate")
		}
		store = rifa.NewPGStore(db)
	}

	// Redis (optional)
	var (
		availCache  availability.Cache
		statusCache *redisx.StatusCache
	)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		availCache = &redisx.AvailabilityCache{R: rdb, Log: log.WithField("cache", "availability")}
		statusCache = &redisx.StatusCache{R: rdb, Log: log.WithField("cache", "status")}
	}

	// Kafka producer (optional)
	var (
		events rifa.Publisher = rifa.NopPublisher{}
		prod   *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.WithField("component", "producer"))
		prod.Start(ctx)
		events = &kafkax.Bus{P: prod}
	}

	// Payment gateway
	var (
		gateway payment.Gateway
		sandbox *payment.Sandbox
	)
	switch cfg.PaymentProvider {
	case "mercadopago":
		if cfg.MPAccessToken == "" {
			log.Fatal("MP_ACCESS_TOKEN is required for the mercadopago provider")
		}
		gateway = payment.NewMercadoPago(cfg.MPBaseURL, cfg.MPAccessToken)
	default:
		log.Warn("using sandbox payment provider")
		sandbox = payment.NewSandbox(cfg.PublicBaseURL)
		gateway = sandbox
	}

	// Services
	avail := availability.New(store, availCache)
	eng := &reconcile.Engine{
		Store:         store,
		Gateway:       gateway,
		Events:        events,
		Availability:  avail,
		Log:           log.WithField("component", "reconcile"),
		Service:       cfg.ServiceName,
		NotifyURL:     cfg.NotifyURL(),
		NotFoundGrace: cfg.NotFoundGrace,
	}
	if statusCache != nil {
		eng.StatusCache = statusCache
	}
	draws := &draw.Engine{
		Store:   store,
		Events:  events,
		Log:     log.WithField("component", "draw"),
		Service: cfg.ServiceName,
	}

	// Pending sweep (optional)
	sched := cron.New()
	if cfg.SweepSchedule != "" {
		sw := &reconcile.Sweeper{
			Engine:    eng,
			OlderThan: cfg.SweepOlderThan,
			Limit:     100,
			Log:       log.WithField("component", "sweep"),
		}
		if _, err := sw.Schedule(sched, cfg.SweepSchedule); err != nil {
			log.WithError(err).Fatal("invalid SWEEP_SCHEDULE")
		}
		sched.Start()
	}

	stop := make(chan struct{})
	limiter := httpx.NewRateLimiter(cfg.CheckoutRate, cfg.CheckoutBurst)
	limiter.StartCleanup(time.Minute, stop)

	api := &httpx.API{
		Store:         store,
		Reconciler:    eng,
		Availability:  avail,
		Draws:         draws,
		Sandbox:       sandbox,
		Limiter:       limiter,
		Log:           log.WithField("component", "http"),
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
	}
	if statusCache != nil {
		api.StatusCache = statusCache
	}
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set; admin endpoints are disabled")
	}
	router := httpx.NewRouter()
	api.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	close(stop)
	<-sched.Stop().Done()
	if prod != nil {
		prod.Close() // flush buffered events before exit
		cancel()
		prod.WaitClosed()
	}
}
