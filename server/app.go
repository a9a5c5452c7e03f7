package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"meshreg/config"
	"meshreg/internal/db"
	"meshreg/internal/feed"
	"meshreg/internal/health"
	"meshreg/internal/httpapi"
	"meshreg/internal/logs"
	"meshreg/internal/mail"
	"meshreg/internal/middleware"
	"meshreg/internal/models"
	"meshreg/internal/monitoring"
	"meshreg/internal/repo"
	"meshreg/internal/scheduler"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server
	sched      *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d
	if err := a.db.AutoMigrate(
		&models.Node{},
		&models.NodeSecret{},
		&models.NodeState{},
		&models.Mail{},
	); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Движок: сторы, очередь писем, реконсилер, эскалация */
	mailStore := repo.NewMailStore(a.db)
	stateStore := repo.NewStateStore(a.db)

	renderer, err := mail.NewTemplateRenderer()
	if err != nil {
		log.Fatalf("mail templates: %v", err)
	}
	var transport mail.Transport = mail.LogTransport{}
	if a.cfg.Mail.SMTPHost != "" {
		transport = mail.NewSMTPTransport(a.cfg.Mail.SMTPHost, a.cfg.Mail.SMTPPort)
	}
	outbox := mail.NewOutbox(mailStore, transport, renderer, mail.Options{
		Sender:         a.cfg.Mail.Sender,
		ConfirmURLBase: a.cfg.Monitoring.ConfirmURLBase,
		BatchSize:      a.cfg.Mail.BatchSize,
		MaxFailures:    a.cfg.Mail.MaxFailures,
	})
	nodeStore := repo.NewNodeStore(a.db, outbox)

	rec := monitoring.NewReconciler(
		feed.NewClient(30*time.Second),
		nodeStore, stateStore, a.cfg.Feeds.URLs,
	)
	esc := monitoring.NewEscalator(nodeStore, stateStore, outbox, monitoring.TierSchedule{
		OfflineAfter: a.cfg.Monitoring.OfflineAfter,
		Tier2After:   a.cfg.Monitoring.Tier2After,
		Tier3After:   a.cfg.Monitoring.Tier3After,
	}, a.cfg.Monitoring.BatchSize)
	purger := monitoring.NewPurger(nodeStore, stateStore,
		a.cfg.Monitoring.NeverOnlineGrace, a.cfg.Monitoring.OfflineMaxAge,
		a.cfg.Monitoring.BatchSize)

	/* 4) Планировщик: фиксированная таблица задач */
	a.sched = scheduler.New()
	mustRegister := func(t *scheduler.Task) {
		if err := a.sched.Register(t); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}
	mustRegister(scheduler.NewTask("feed-ingest", "Импорт фида",
		"Забирает nodes.json и сводит онлайн-состояния узлов",
		a.cfg.Scheduler.FeedIngest,
		func(ctx context.Context) error {
			_, err := rec.Run(ctx)
			return err
		}))
	mustRegister(scheduler.NewTask("escalation", "Эскалация уведомлений",
		"Ставит в очередь письма о смене статуса узлов",
		a.cfg.Scheduler.Escalation,
		func(ctx context.Context) error {
			_, err := esc.Run(ctx)
			return err
		}))
	mustRegister(scheduler.NewTask("mail-drain", "Отправка писем",
		"Выгребает очередь писем во внешний транспорт",
		a.cfg.Scheduler.MailDrain,
		func(ctx context.Context) error {
			_, _, err := outbox.DrainPending(ctx)
			return err
		}))
	mustRegister(scheduler.NewTask("offline-purge", "Очистка оффлайновых узлов",
		"Удаляет давно оффлайновые узлы и мёртвые записи состояний",
		a.cfg.Scheduler.OfflinePurge,
		purger.Run))

	/* 5) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)
	health.RegisterRoutes(a.Router, a.db) // /healthz, /readyz
	httpapi.RegisterRoutes(a.Router, httpapi.New(nodeStore, stateStore, mailStore, a.sched))

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	a.sched.Start()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.sched.Stop(ctx)
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
