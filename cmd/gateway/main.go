package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ntpoppe/sharply-sub000/global/config"
	"github.com/ntpoppe/sharply-sub000/logger"
	authmw "github.com/ntpoppe/sharply-sub000/middleware/security"
	"github.com/ntpoppe/sharply-sub000/service/chat"
	"github.com/ntpoppe/sharply-sub000/service/natsx"
	"github.com/ntpoppe/sharply-sub000/service/storage"
	redisstore "github.com/ntpoppe/sharply-sub000/service/storage/redis"
	"github.com/ntpoppe/sharply-sub000/tools/security"
)

func main() {
	config.LoadEnv()
	config.ConfigIds()
	cfg := config.Global

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir, err := storage.NewPgDirectory(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Errorf("postgres connect failed: %v", err)
		return
	}
	defer dir.Close()

	mcli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Errorf("mongo connect failed: %v", err)
		return
	}
	defer func() { _ = mcli.Disconnect(context.Background()) }()
	store := storage.NewMongoMessages(mcli.Database(cfg.MongoDB), dir)

	srv := chat.NewServer(store, dir, dir, chat.Options{
		GatewayID:      cfg.NodeID,
		SendQueueSize:  cfg.SendQueueSize,
		PersistTimeout: cfg.PersistTimeout,
		FanoutWorkers:  cfg.FanoutWorkers,
		FanoutQueue:    cfg.FanoutQueue,
	})

	if cfg.RedisAddr != "" {
		if err := redisstore.Init(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}); err != nil {
			logger.Errorf("redis connect failed: %v", err)
			return
		}
		defer redisstore.Close()
		srv.SetMirror(storage.NewRedisPresence(redisstore.Client(), cfg.NodeID, 5*time.Minute))
	}

	var relay *natsx.Bridge
	if len(cfg.NatsServers) > 0 {
		relay, err = natsx.Connect(natsx.Config{Servers: cfg.NatsServers, Name: cfg.NodeID}, cfg.NodeID)
		if err != nil {
			logger.Errorf("nats connect failed: %v", err)
			return
		}
		defer relay.Close()
		srv.SetRelay(relay)
		if err := relay.SubscribeMessages(srv.Dispatcher().DeliverRemote); err != nil {
			logger.Errorf("nats subscribe failed: %v", err)
			return
		}
	}

	jwtOpts := security.DefaultOptions(config.GetJwtSecret())
	jwtOpts.TTL = cfg.TokenTTL

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	gateway := chat.NewWsGateway(srv, jwtOpts)
	r.GET("/ws", gateway.HandleWS)

	authed := r.Group("/", authmw.Middleware(authmw.DefaultOptions(jwtOpts)))
	api := chat.NewHTTPApi(srv, dir, jwtOpts)
	api.Mount(r, authed)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("gateway %s listening on %s", cfg.NodeID, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http serve failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.Close(shutdownCtx)
}
