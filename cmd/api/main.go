package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/message"
	msgrepo "github.com/ovaphlow/pitchfork/service-messenger-go/internal/message/repo"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/migrations"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/store/memory"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-messenger-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-messenger-go/pkg/utilities"
)

func main() {
	// config.Load also reads .env if present
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-messenger-go", "store", cfg.Store, "addr", cfg.HTTP.Addr)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userStore, messageStore, closeStore, err := openStores(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}
	defer closeStore()

	publisher, err := openPublisher(cfg, sugar)
	if err != nil {
		sugar.Fatalf("amqp: %v", err)
	}
	defer publisher.Close()

	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		sugar.Fatalf("snowflake node: %v", err)
	}

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	userSvc := user.NewUserService(userStore, user.BcryptHasher{Cost: cfg.Auth.BcryptCost})
	messageSvc := message.NewMessageService(messageStore, ids, publisher, sugar)

	// mount http server
	handler := router.RegisterRoutes(router.Deps{
		Logger:      sugar,
		Issuer:      issuer,
		Users:       user.NewHandler(userSvc, issuer, sugar),
		Messages:    message.NewHandler(messageSvc, sugar),
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateRPS:     cfg.Auth.RateRPS,
		RateBurst:   cfg.Auth.RateBurst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	sugar.Info("service is running; press Ctrl+C to stop")
	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

// openStores builds the store backend named by cfg.Store. The postgres
// backend is migrated to the latest schema before use.
func openStores(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (user.Store, message.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		sugar.Warn("using in-memory store; data is lost on exit")
		s := memory.New()
		return s.Users(), s.Messages(), func() {}, nil
	}

	db, err := database.Open(database.Config{
		DSN:            cfg.Database.URL,
		TimeZone:       cfg.Database.TimeZone,
		ClientEncoding: cfg.Database.ClientEncoding,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, db.DB, migrations.FS); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			sugar.Warnf("db close failed: %v", err)
		}
	}
	return userrepo.NewUserRepo(db), msgrepo.NewMessageRepo(db), closeDB, nil
}

// openPublisher dials the broker when AMQP_URL is set, else events are
// dropped.
func openPublisher(cfg config.Config, sugar *zap.SugaredLogger) (interface {
	notify.Publisher
	io.Closer
}, error) {
	if cfg.AMQP.URL == "" {
		return nopCloser{}, nil
	}
	p, err := notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		return nil, err
	}
	sugar.Infow("publishing message events", "exchange", cfg.AMQP.Exchange)
	return p, nil
}

type nopCloser struct{ notify.Nop }

func (nopCloser) Close() error { return nil }
