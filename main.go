package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"github.com/veldt/anancus/activitypub"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/middleware"
	"github.com/veldt/anancus/util"
	"github.com/veldt/anancus/web"
)

const instanceAccountName = "instance"

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database := db.GetDB()

	// The instance account signs Rejects and other activities spoken
	// in the instance's own voice.
	err, _ = database.CreateAccount(instanceAccountName)
	if err != nil {
		log.Fatalln("Could not create the instance account:", err)
	}

	keyFetchTimeout := time.Duration(conf.Conf.KeyFetchTimeoutSec) * time.Second
	if keyFetchTimeout <= 0 {
		keyFetchTimeout = 5 * time.Second
	}

	actors := activitypub.NewActorFetcher(database, keyFetchTimeout)
	keys := activitypub.NewKeyCache(
		&activitypub.DBKeyResolver{DB: database, Actors: actors}, time.Hour)
	builder := activitypub.NewBuilder(conf.Conf.SslDomain, keys)
	scheduler := activitypub.NewScheduler(database, conf, keys)
	ingester := activitypub.NewFileIngester(conf.Conf.FederatedDir, conf.MaxContentBytes())
	inbox := activitypub.NewRouter(database, conf, keys, actors, scheduler, builder, ingester)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)

	s, err := wish.NewServer(
		wish.WithAddress(fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.SshPort)),
		wish.WithHostKeyPath(".ssh/hostkey"),
		wish.WithPublicKeyAuth(publicKeyHandler),
		wish.WithMiddleware(
			middleware.AuditTui(),
			logging.Middleware(), // last middleware executed first
		),
	)
	if err != nil {
		log.Fatalln(err)
	}

	startServing(ctx, s, conf, database, inbox, scheduler)
}

func startServing(ctx context.Context, s *ssh.Server, conf *util.AppConfig, database *db.DB, inbox *activitypub.Router, scheduler *activitypub.Scheduler) {
	log.Printf("Starting SSH server on %s:%d", conf.Conf.Host, conf.Conf.SshPort)
	go func() {
		if err := s.ListenAndServe(); err != nil {
			log.Fatalln(err)
		}
	}()

	go func() {
		if err := web.Router(conf, database, inbox); err != nil {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Println("Stopping delivery workers")
	scheduler.Wait()

	log.Println("Stopping SSH server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Fatalln(err)
	}
}

func publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return true
}
