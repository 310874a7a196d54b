package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	alertapp "lifewatch-cloud/internal/alerts/application"
	alertrepo "lifewatch-cloud/internal/alerts/infrastructure/postgres"
	alertexport "lifewatch-cloud/internal/alerts/interfaces/export"
	alerthttp "lifewatch-cloud/internal/alerts/interfaces/http"
	"lifewatch-cloud/internal/alerts/notify"
	"lifewatch-cloud/internal/auth"
	"lifewatch-cloud/internal/config"
	"lifewatch-cloud/internal/confirmation"
	confirmrepo "lifewatch-cloud/internal/confirmation/infrastructure/postgres"
	"lifewatch-cloud/internal/escalation"
	"lifewatch-cloud/internal/observability/metrics"
	"lifewatch-cloud/internal/sched"
	subjectrepo "lifewatch-cloud/internal/subjects/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()
	scheduler := sched.NewTimerScheduler()
	defer scheduler.Close()

	heartbeatRepo := alertrepo.NewHeartbeatRepository(db)
	activityRepo := alertrepo.NewActivityRepository(db)
	ruleRepo := alertrepo.NewSubjectRuleRepository(db)
	eventRepo := alertrepo.NewAlertEventRepository(db)
	subjectRepo := subjectrepo.NewSubjectRepository(db)
	peerRepo := subjectrepo.NewPeerReportRepository(db)
	confirmationRepo := confirmrepo.NewConfirmationRepository(db)
	reportRepo := confirmrepo.NewEmergencyReportRepository(db)

	inApp := notify.NewInAppChannel(0, nil)
	logChannel := notify.NewLogChannel(logger)
	channels := []notify.Channel{}
	var primarySender notify.Channel = logChannel
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel("webhook", cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		channels = append(channels, webhook)
		primarySender = webhook
	}
	channels = append(channels, inApp, logChannel)

	template, err := notify.NewTemplate("")
	if err != nil {
		logger.Fatalf("notify template error: %v", err)
	}
	retryQueue := notify.NewRetryQueue(logger,
		notify.WithMaxAttempts(cfg.Retry.MaxAttempts),
		notify.WithRetryDelay(cfg.Retry.Delay.Std()),
		notify.WithSweepInterval(cfg.Retry.SweepInterval.Std()),
	)
	dispatcher, err := notify.NewDispatcher(channels, template, logger, notify.WithFailureSink(retryQueue))
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	retryQueue.Bind(dispatcher)
	go retryQueue.Start(context.Background())

	suppression, err := alertapp.NewSuppressionPolicy(cfg.CooldownSet())
	if err != nil {
		logger.Fatalf("suppression policy error: %v", err)
	}
	history := alertapp.NewHistory(24 * time.Hour)

	adminNotifier, err := escalation.NewChannelAdminNotifier(primarySender, cfg.AdminUserID, logger)
	if err != nil {
		logger.Fatalf("admin notifier error: %v", err)
	}

	desks := buildServiceDesks(cfg, logger)
	transport, err := confirmation.NewChannelTransport(primarySender, logger)
	if err != nil {
		logger.Fatalf("confirmation transport error: %v", err)
	}
	reporter, err := confirmation.NewReporter(subjectRepo, desks, logger,
		confirmation.WithBroadcaster(transport),
		confirmation.WithReportLog(reportRepo),
	)
	if err != nil {
		logger.Fatalf("reporter error: %v", err)
	}

	evaluator := &engineEvaluator{}
	manager, err := escalation.NewManager(evaluator, adminNotifier, scheduler, logger,
		escalation.WithDelay(cfg.Escalation.Delay.Std()),
		escalation.WithMaxLevel(cfg.Escalation.MaxLevel),
		escalation.WithServiceReporter(reporter),
	)
	if err != nil {
		logger.Fatalf("escalation manager error: %v", err)
	}

	coordinator, err := confirmation.NewCoordinator(subjectRepo, activityRepo, peerRepo, transport, reporter, scheduler, logger,
		confirmation.WithWindow(cfg.Confirmation.Window.Std()),
		confirmation.WithEarlyExit(cfg.Confirmation.EarlyExit.Std()),
		confirmation.WithPeerLookback(cfg.Confirmation.PeerLookback.Std()),
		confirmation.WithMaxContacts(cfg.Confirmation.MaxContacts),
		confirmation.WithEscalationResolver(manager),
		confirmation.WithRequestLog(confirmationRepo),
	)
	if err != nil {
		logger.Fatalf("coordinator error: %v", err)
	}

	engine, err := alertapp.NewEngine(heartbeatRepo, activityRepo, ruleRepo, suppression, history, dispatcher, scheduler, cfg.ThresholdSet(), logger,
		alertapp.WithMultipliers(cfg.MultiplierSet()),
		alertapp.WithHolidays(cfg.HolidaySet()),
		alertapp.WithActivityFreshness(cfg.ActivityFreshness.Std()),
		alertapp.WithEscalations(manager),
		alertapp.WithConfirmations(coordinator),
		alertapp.WithEventLog(eventRepo),
	)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}
	evaluator.engine = engine

	go func() {
		ticker := time.NewTicker(cfg.SweepInterval.Std())
		defer ticker.Stop()
		for range ticker.C {
			if err := engine.EvaluateAll(context.Background(), subjectRepo); err != nil {
				logger.Printf("sweep error: %v", err)
			}
		}
	}()

	handler, err := alerthttp.NewHandler(engine, coordinator, heartbeatRepo, activityRepo, peerRepo, ruleRepo, subjectRepo, eventRepo, inApp, manager)
	if err != nil {
		logger.Fatalf("http handler error: %v", err)
	}
	exportHandler, err := alertexport.NewHandler(eventRepo, subjectRepo, reportRepo)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	handler.Register(mux)
	exportHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

func buildServiceDesks(cfg config.Config, logger *log.Logger) []confirmation.ServiceDesk {
	var desks []confirmation.ServiceDesk
	for _, service := range cfg.Services {
		desk, err := confirmation.NewWebhookDesk(service.Name, service.URL)
		if err != nil {
			logger.Fatalf("service desk error: %v", err)
		}
		desks = append(desks, desk)
	}
	if len(desks) > 0 {
		return desks
	}
	for _, name := range []string{confirmation.ServiceMedical, confirmation.ServicePolice, confirmation.ServiceAdministrative} {
		desk, err := confirmation.NewLogDesk(name, logger)
		if err != nil {
			logger.Fatalf("service desk error: %v", err)
		}
		desks = append(desks, desk)
	}
	return desks
}

// engineEvaluator breaks the construction cycle between the engine and
// the escalation manager.
type engineEvaluator struct {
	engine *alertapp.Engine
}

func (e *engineEvaluator) StillEmergency(ctx context.Context, userID string) (bool, error) {
	if e == nil || e.engine == nil {
		return false, errors.New("evaluator not ready")
	}
	return e.engine.StillEmergency(ctx, userID)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
