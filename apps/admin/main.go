package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/fs"
	"github.com/trezcool/bosvoting/services/email"
	"github.com/trezcool/bosvoting/services/lock"
	"github.com/trezcool/bosvoting/services/logger"
	"github.com/trezcool/bosvoting/services/notify"
	"github.com/trezcool/bosvoting/services/scheduler"
	"github.com/trezcool/bosvoting/storage"
)

func main() {
	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := logsvc.NewRollbarLogger("admin", os.Stdout, conf)

	// set up DB: migrations are run by the `migrate` command
	stores, err := storage.Open(context.Background(), conf, true)
	errAndDie(logger, err)

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	errAndDie(logger, core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, false))

	var mailSvc core.EmailService
	if conf.SendgridApiKey != "" {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	} else {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	}
	usrSvc := user.NewService(stores.Users)
	notifier := notify.NewDispatcher(notify.Options{
		Logger:    logger,
		Mailer:    mailSvc,
		Users:     usrSvc,
		QueueSize: conf.Notify.QueueSize,
	})
	notifier.Start()

	// reminders already sent by the API are skipped when redis is shared
	locker := locksvc.NewMemoryLocker(nil)
	if conf.Redis.Addr != "" {
		rdb, err := locksvc.NewRedisClient(context.Background(), conf)
		errAndDie(logger, err)
		defer func() { _ = rdb.Close() }()
		locker = locksvc.NewRedisLocker(rdb)
	}

	// start CLI
	cli := commandLine{
		db:       stores.SQL,
		usrSvc:   usrSvc,
		validate: validate,
		sched: scheduler.NewScheduler(scheduler.Options{
			Sweeper:  stores.Polls,
			Notifier: notifier,
			Locker:   locker,
			Logger:   logger,
		}),
	}
	err = cli.run(os.Args)

	notifier.Stop() // flush reminders
	_ = stores.Close()

	if err != nil {
		if err != errHelp {
			logger.Error("\nerror: " + err.Error())
		}
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
