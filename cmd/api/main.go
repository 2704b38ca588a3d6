package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/infra/db"
	"storefront/internal/infra/events"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/logger"
	"storefront/internal/server"
	"storefront/internal/usecase"

	"github.com/joho/godotenv"
)

func main() {
	//.envがあれば読む（無ければ環境変数だけ）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Options{
		Service: "cart-api",
		Env:     cfg.GoEnv,
		Level:   cfg.LogLevel,
	})

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	//Repository（GORM実装）生成
	cartRepo := infraRepo.NewCartGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	txm := infraRepo.NewTxManagerGorm(gormDB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//イベント（ブローカー未設定なら送らない）
	var publisher usecase.CartEventPublisher = events.NopPublisher{}
	if cfg.EventsEnabled() {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.CartEventsTopic)
		defer func() { _ = kp.Close() }()
		publisher = kp
	}

	//Usecase生成
	cartUC := usecase.NewCartUsecase(txm, cartRepo, productRepo, publisher, log)
	productUC := usecase.NewProductUsecase(productRepo)

	if cfg.EventsEnabled() {
		consumer := events.NewOrderConfirmedConsumer(cfg.KafkaBrokers, cfg.OrdersConfirmedTopic, cfg.KafkaGroupID, cartUC, log)
		go consumer.Run(ctx)
	}

	//Handler生成
	e := server.New(cfg, log)
	server.RegisterRoutes(e, cfg, server.Handlers{
		Cart:    handler.NewCartHandler(cartUC),
		Product: handler.NewProductHandler(productUC),
		Health:  handler.NewHealthHandler(db.Ping(gormDB)),
	})

	//Server起動
	if err := server.Start(ctx, e, cfg.Addr(), log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
