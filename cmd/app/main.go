// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"club-membership-gateway/internal/config"
	"club-membership-gateway/internal/domain/ports/adapter"
	mailAdapters "club-membership-gateway/internal/infra/adapters/mail"
	payAdapters "club-membership-gateway/internal/infra/adapters/payment"
	tele "club-membership-gateway/internal/infra/adapters/telegram"
	"club-membership-gateway/internal/infra/api"
	pg "club-membership-gateway/internal/infra/db/postgres"
	"club-membership-gateway/internal/infra/i18n"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"
	red "club-membership-gateway/internal/infra/redis"
	"club-membership-gateway/internal/infra/sched"
	"club-membership-gateway/internal/infra/scheduler"
	"club-membership-gateway/internal/infra/security"
	"club-membership-gateway/internal/infra/worker"
	"club-membership-gateway/internal/usecase"
)

// set via -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: in-memory gateway, log-only mail and alerts")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("DEV MODE enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	tm := pg.NewTxManager(pool)
	paymentRepo := pg.NewPaymentRepo(pool)
	accountRepo := pg.NewAccountRepo(pool)
	inboxRepo := pg.NewNotificationInbox(pool)
	emailRepo := pg.NewCredentialEmailRepo(pool)

	// ---- Redis (optional) ----
	var (
		locker  sched.Locker
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; sweepers run unguarded and purchases are not rate limited")
	}

	// ---- Credentials ----
	var sealer *security.EncryptionService
	if len(cfg.Security.EncryptionKey) == 0 && cfg.Runtime.Dev {
		logger.Warn().Msg("security.encryption_key not set; using derived dev key (INSECURE)")
		sealer, err = security.NewDevEncryptionService(cfg.Gateway.TerminalKey)
	} else {
		sealer, err = security.NewEncryptionService(cfg.Security.EncryptionKey)
	}
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	issuer := usecase.NewCredentialIssuer(
		security.NewPasswordHasher(cfg.Credentials),
		sealer,
		security.GeneratePassword,
		cfg.Credentials.PasswordLength,
	)

	// ---- Adapters ----
	var mailer adapter.Mailer
	if cfg.Runtime.Dev || cfg.Mail.Host == "" {
		logger.Warn().Msg("mail.host not set or dev mode; credential emails are logged, not sent")
		mailer = mailAdapters.NewNoopMailer(logger, cfg.Runtime.Dev)
	} else {
		tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Mail.Locale)
		if err != nil {
			return fmt.Errorf("mail locale: %w", err)
		}
		smtp, err := mailAdapters.NewSMTPMailer(cfg.Mail, tr, logger)
		if err != nil {
			return fmt.Errorf("smtp mailer: %w", err)
		}
		mailer = smtp
	}

	var alerter adapter.Alerter
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.ChatID != 0 {
		bot, err := tele.NewAlertBot(cfg.Alerts, logger)
		if err != nil {
			return fmt.Errorf("telegram alerts: %w", err)
		}
		alerter = bot
	} else {
		alerter = tele.NewNoopAlerter(logger)
	}

	var gateway adapter.PaymentGateway
	if cfg.Runtime.Dev {
		gateway = payAdapters.NewNoopPaymentGateway(cfg.Gateway.Password)
	} else {
		tk, err := payAdapters.NewTinkoffGateway(cfg.Gateway, logger)
		if err != nil {
			return fmt.Errorf("payment gateway: %w", err)
		}
		gateway = tk
	}

	orderIDs, err := payAdapters.NewOrderIDGenerator(cfg.OrderID.SuffixDigits)
	if err != nil {
		return fmt.Errorf("order ids: %w", err)
	}

	// ---- Worker pool ----
	workers := worker.NewPool(cfg.Inbox.Workers, logger)
	workers.Start(ctx)
	defer workers.Stop()

	// ---- Use cases ----
	mailUC := usecase.NewCredentialMailUseCase(tm, emailRepo, accountRepo, issuer, mailer, alerter, retryPolicy(cfg.MailRetry), logger)
	confirmUC := usecase.NewConfirmationProcessor(tm, paymentRepo, accountRepo, emailRepo, issuer, mailUC, logger)
	inboxUC := usecase.NewInboxUseCase(inboxRepo, confirmUC, gateway, workers, alerter, usecase.InboxOptions{
		VerifyTokens: cfg.Gateway.VerifyNotifications,
		Retry:        retryPolicy(cfg.Inbox),
	}, logger)
	paymentUC := usecase.NewPaymentUseCase(tm, paymentRepo, accountRepo, gateway, orderIDs, usecase.PaymentOptions{
		DefaultAmount:      cfg.Membership.Fee,
		DefaultDescription: cfg.Membership.Description,
	}, logger)

	// ---- Sweepers ----
	jobs := []*scheduler.Scheduler{
		scheduler.NewScheduler(cfg.Inbox.PollInterval,
			sched.NewInboxDispatcher(inboxUC, locker, cfg.Inbox.BatchSize, cfg.Inbox.PollInterval, logger), logger),
		scheduler.NewScheduler(cfg.MailRetry.PollInterval,
			sched.NewMailRetryWorker(mailUC, locker, cfg.MailRetry.BatchSize, cfg.MailRetry.PollInterval, logger), logger),
		scheduler.NewScheduler(cfg.Reconciler.Interval,
			sched.NewPaymentReconciler(paymentRepo, gateway, confirmUC, locker, cfg.Reconciler.StaleAfter, cfg.Reconciler.BatchSize, logger), logger),
	}
	for _, j := range jobs {
		j.Start(ctx)
		defer j.Stop()
	}

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Payments:       paymentUC,
		Inbox:          inboxUC,
		Limiter:        limiter,
		RateLimit:      cfg.RateLimit,
		Admin:          cfg.Admin,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         pool.Ping,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("gateway", gateway.Name()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

func retryPolicy(c config.RetryConfig) usecase.RetryPolicy {
	return usecase.RetryPolicy{MaxAttempts: c.MaxAttempts, BaseBackoff: c.BaseBackoff, MaxBackoff: c.MaxBackoff}
}
