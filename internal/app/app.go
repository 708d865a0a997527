package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/account"
	"github.com/investkar/ledger/internal/config"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/events"
	ledgerhttp "github.com/investkar/ledger/internal/http"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/http/api/admin"
	"github.com/investkar/ledger/internal/http/api/front"
	"github.com/investkar/ledger/internal/investment"
	"github.com/investkar/ledger/internal/logging"
	"github.com/investkar/ledger/internal/payment"
	"github.com/investkar/ledger/internal/ratelimit"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/settings"
	"github.com/investkar/ledger/internal/sms"
	"github.com/investkar/ledger/internal/withdrawal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Runtime holds the wired ledger components shared by the server and the CLI commands.
type Runtime struct {
	Config      *config.FileConfig
	DB          *gorm.DB
	Publisher   events.Publisher
	Accounts    *account.Registry
	Ledger      *investment.Ledger
	Withdrawals *withdrawal.Workflow
	Payments    *payment.Reconciler
	Cipher      *security.FieldCipher

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open loads configuration, connects and migrates the database, and builds the ledger
// components. Callers must Close the runtime.
func Open(ctx context.Context, cfg config.AppConfig) (*Runtime, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logCloser, err := logging.Setup(fileCfg.Log)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: fileCfg, closers: []io.Closer{logCloser}}
	if errBuild := rt.build(ctx); errBuild != nil {
		rt.Close()
		return nil, errBuild
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg := rt.Config
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return errors.New("config: database dsn is required (database.dsn or LEDGER_DATABASE_DSN)")
	}
	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	rt.DB = conn
	if sqlDB, errDB := conn.DB(); errDB == nil {
		rt.closers = append(rt.closers, sqlDB)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings: initial snapshot load failed, using defaults")
	}

	cipher, err := security.NewFieldCipher(cfg.Security.FieldKey, cfg.Security.LookupKey)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	rt.Cipher = cipher
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	publisher := events.Connect(cfg.Events.AMQPURL, cfg.Events.Exchange)
	rt.Publisher = publisher
	rt.closers = append(rt.closers, closerFunc(func() error { publisher.Close(); return nil }))

	rt.Accounts = account.NewRegistry(conn, cipher, rt.newLimiter(ctx),
		account.WithSender(newSender(cfg.SMS)),
		account.WithPublisher(publisher),
	)
	rt.Ledger = investment.NewLedger(conn,
		investment.WithLocation(loc),
		investment.WithPublisher(publisher),
	)
	rt.Withdrawals = withdrawal.NewWorkflow(conn, cipher, withdrawal.WithPublisher(publisher))

	defaults := payment.LinkBuilder{PayeeID: cfg.Payment.PayeeID, PayeeName: cfg.Payment.PayeeName}
	timeout := time.Duration(settings.IntValue(settings.PaymentTimeoutSecondsKey, settings.DefaultPaymentTimeoutSeconds)) * time.Second
	rt.Payments = payment.NewReconciler(conn, rt.Ledger, rt.Withdrawals, defaults,
		payment.WithLinkSource(func() payment.LinkBuilder {
			return payment.LinkBuilder{
				PayeeID:   settings.StringValue(settings.UPIPayeeIDKey, defaults.PayeeID),
				PayeeName: settings.StringValue(settings.UPIPayeeNameKey, defaults.PayeeName),
			}
		}),
		payment.WithPublisher(publisher),
		payment.WithTimeout(timeout),
	)
	if strings.TrimSpace(defaults.PayeeID) == "" && settings.StringValue(settings.UPIPayeeIDKey, "") == "" {
		log.Warn("payment: no UPI payee configured; set payment.payee-id or the UPI_PAYEE_ID setting")
	}
	return nil
}

// newLimiter uses redis when configured and reachable, and process memory otherwise.
func (rt *Runtime) newLimiter(ctx context.Context) *ratelimit.Limiter {
	cfg := rt.Config.Redis
	if strings.TrimSpace(cfg.Addr) == "" {
		return ratelimit.New(ratelimit.NewMemoryStore())
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warn("ratelimit: redis unavailable, using in-memory store")
		_ = client.Close()
		return ratelimit.New(ratelimit.NewMemoryStore())
	}
	rt.closers = append(rt.closers, client)
	log.Infof("ratelimit: using redis at %s", cfg.Addr)
	return ratelimit.New(ratelimit.NewRedisStore(client, cfg.Prefix))
}

func newSender(cfg config.SMSConfig) sms.Sender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Warn("sms: no Fast2SMS api key configured, OTPs are written to the log")
		return sms.LogSender{}
	}
	return sms.NewFast2SMS(sms.Fast2SMSConfig{
		APIKey:   cfg.APIKey,
		SenderID: cfg.SenderID,
		BaseURL:  cfg.BaseURL,
		Timeout:  cfg.Timeout,
	})
}

// Close releases every resource opened by the runtime, newest first.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if errClose := rt.closers[i].Close(); errClose != nil {
			log.WithError(errClose).Debug("runtime: close failed")
		}
	}
	rt.closers = nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		defer sqlDB.Close()
	}
	return db.Migrate(conn)
}

// RunServer serves the HTTP API and runs the accrual scheduler, payment watchers and the
// sweeper until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	rt, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	jwtConfig, err := rt.Config.JWTConfig()
	if err != nil {
		return err
	}

	watcher := payment.NewWatcher(rt.Payments, func() time.Duration {
		return time.Duration(settings.IntValue(settings.PaymentPollIntervalSecondsKey, settings.DefaultPaymentPollIntervalSeconds)) * time.Second
	})
	sweeper := payment.NewSweeper(rt.DB, rt.Payments, func() time.Duration {
		return time.Duration(settings.IntValue(settings.PaymentSweepIntervalSecondsKey, settings.DefaultPaymentSweepIntervalSeconds)) * time.Second
	})
	sweeper.AddJanitor("otp", rt.Accounts.PurgeExpiredOtps)
	sweeper.Start(ctx)

	scheduler := investment.NewScheduler(rt.Ledger, rt.Config.Accrual.Schedule, *rt.Config.Accrual.RunOnStart)
	if errStart := scheduler.Start(ctx); errStart != nil {
		return fmt.Errorf("accrual scheduler: %w", errStart)
	}

	if mode := strings.TrimSpace(rt.Config.Server.Mode); mode != "" {
		gin.SetMode(mode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), ledgerhttp.RequestIDMiddleware(), ledgerhttp.LoggingMiddleware(), ledgerhttp.MetricsMiddleware())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	svc := api.Services{
		DB:          rt.DB,
		JWT:         jwtConfig,
		Accounts:    rt.Accounts,
		Ledger:      rt.Ledger,
		Withdrawals: rt.Withdrawals,
		Payments:    rt.Payments,
		Watcher:     watcher,
		Cipher:      rt.Cipher,
		Background:  ctx,
	}
	front.RegisterFrontRoutes(engine, svc)
	admin.RegisterAdminRoutes(engine, svc)

	server := &http.Server{
		Addr:              rt.Config.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("ledger API listening on %s", server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil {
			return errServe
		}
	case <-ctx.Done():
	}

	log.Info("shutting down ledger API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http shutdown did not complete")
	}
	watcher.Wait()
	return nil
}
