package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/pkg/auth"
	"github.com/you/mediqueue/pkg/config"
	"github.com/you/mediqueue/pkg/db"
	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/pkg/kv"
	"github.com/you/mediqueue/pkg/mq"
	"github.com/you/mediqueue/pkg/obs"
	"github.com/you/mediqueue/services/auth-service/internal/repository"
	"github.com/you/mediqueue/services/auth-service/internal/service"
	thttp "github.com/you/mediqueue/services/auth-service/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	shutdownTracer := obs.InitTracer("auth-service")
	defer func() { _ = shutdownTracer(context.Background()) }()

	gdb := db.Open(cfg.PGAuthDSN)
	repo := repository.NewUserRepo(gdb)
	if err := repo.Migrate(); err != nil {
		log.Fatal(err)
	}

	rdb, err := kv.Connect(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()

	pub, err := mq.NewPublisher(cfg.RabbitURL, events.UsersExchange)
	if err != nil {
		log.Fatal(err)
	}
	defer pub.Close()

	codec := auth.NewCodec(cfg.JWTSecret, time.Duration(cfg.JWTExpireMin)*time.Minute)
	svc := service.NewAuthService(repo, codec, kv.NewBlacklist(rdb), pub, log)
	router := thttp.NewRouter(thttp.NewHandler(svc, log))

	srv := &http.Server{Addr: cfg.AuthHTTPAddr, Handler: router}
	go func() {
		log.Infof("[auth] HTTP on %s", cfg.AuthHTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("[auth] stopped")
}
