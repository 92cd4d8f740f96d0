package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/bosvoting/apps/api/echo"
	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/fs"
	"github.com/trezcool/bosvoting/services/email"
	"github.com/trezcool/bosvoting/services/events"
	"github.com/trezcool/bosvoting/services/lock"
	"github.com/trezcool/bosvoting/services/logger"
	"github.com/trezcool/bosvoting/services/notify"
	"github.com/trezcool/bosvoting/services/scheduler"
	"github.com/trezcool/bosvoting/storage"
)

func main() {
	if err := run(); err != nil {
		log.Printf("error: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		return err
	}

	// set up loggers
	logger := newLogger("API", conf)
	dbLogger := newLogger("DB", conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up DB
	stores, err := storage.Open(ctx, conf, false)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up %s storage: %v", conf.Database.Engine, err), err)
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up leader locks: shared through redis when configured
	locker := locksvc.NewMemoryLocker(nil)
	if conf.Redis.Addr != "" {
		rdb, err := locksvc.NewRedisClient(ctx, conf)
		if err != nil {
			logger.Error(fmt.Sprintf("setting up redis: %v", err), err)
			return err
		}
		defer func() { _ = rdb.Close() }()
		locker = locksvc.NewRedisLocker(rdb)
	}

	publisher := eventsvc.NewKafkaPublisher(conf, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("closing event publisher", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.SendgridApiKey != "" {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	} else {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	}

	usrSvc := user.NewService(stores.Users)
	notifier := notify.NewDispatcher(notify.Options{
		Logger:    newLogger("NOTIFY", conf),
		Mailer:    mailSvc,
		Users:     usrSvc,
		Publisher: publisher,
		QueueSize: conf.Notify.QueueSize,
	})
	pollSvc := poll.NewService(poll.Options{
		Repo:     stores.Polls,
		Notifier: notifier,
	})
	sched := scheduler.NewScheduler(scheduler.Options{
		Sweeper:          stores.Polls,
		Notifier:         notifier,
		Locker:           locker,
		Logger:           newLogger("SCHED", conf),
		StatusInterval:   conf.Scheduler.StatusInterval,
		DeadlineInterval: conf.Scheduler.DeadlineInterval,
	})

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	poll.InitValidators(validate, translator)

	if err = core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, false); err != nil {
		logger.Error(fmt.Sprintf("parsing email templates: %v", err), err)
		return err
	}

	notifier.Start()
	defer notifier.Stop() // flush pending notifications

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("engine").Set(conf.Database.Engine)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		PollSvc:    pollSvc,
		Validate:   validate,
		Translator: translator,
		SignalShutdown: func() {
			select {
			case shutdown <- syscall.SIGTERM:
			default: // already shutting down
			}
		},
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API listening on " + conf.Server.Host)
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("server error: %v", err), err)
			return err
		}

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// stop the sweeps first: they enqueue notifications
		cancel()
		<-schedDone

		// give outstanding requests a deadline for completion
		stopCtx, stopCancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer stopCancel()

		if err = server.Stop(stopCtx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
			return err
		}
	}
	return nil
}

func newLogger(component string, conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(component, os.Stdout, conf)
}
