package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grocery-pos-terminal/internal/backend"
	"grocery-pos-terminal/internal/config"
	"grocery-pos-terminal/internal/handler"
	"grocery-pos-terminal/internal/middleware"
	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/realtime"
	"grocery-pos-terminal/internal/repository"
	"grocery-pos-terminal/internal/service"
	"grocery-pos-terminal/internal/ws"
	"grocery-pos-terminal/pkg/database"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Env
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on system env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("terminal", cfg.TerminalID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	kv, closeStore := openStore(cfg)
	defer closeStore()

	// 3. Notification hub
	wsHub := ws.NewHub(cfg.ToastTTL)
	go wsHub.Run()
	defer wsHub.Close()

	// 4. Dependency Injection (Wiring Layers)
	api := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.HTTPTimeout)

	snapshots := repository.NewSnapshotRepo[model.CartSnapshot](kv,
		repository.TerminalKey(cfg.TerminalID, repository.SlotCartSnapshot), cfg.CartTTL)
	backups := repository.NewSnapshotRepo[model.PostSaleBackup](kv,
		repository.TerminalKey(cfg.TerminalID, repository.SlotPostSaleBackup), cfg.BackupTTL)
	pendingQR := repository.NewSnapshotRepo[model.PendingQR](kv,
		repository.TerminalKey(cfg.TerminalID, repository.SlotPendingQR), cfg.QRTTL)

	catalogService := service.NewCatalogService(api)
	if err := catalogService.Refresh(ctx); err != nil {
		wsHub.Notify(model.LevelWarning, "Could not load products, working offline")
	}

	cartService := service.NewCartService(catalogService, snapshots, backups, wsHub, service.CartOptions{
		SnapshotTTL: cfg.CartTTL,
		BackupTTL:   cfg.BackupTTL,
	})
	if err := cartService.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("cart restore")
	}
	defer cartService.Close()

	// The screen cannot answer a prompt pushed from a timer, so expired QR
	// orders follow QR_AUTO_CANCEL.
	qrConfirmer := service.Always(cfg.QRAutoCancel)
	checkoutService := service.NewCheckoutService(cartService, catalogService, api, pendingQR, wsHub, qrConfirmer,
		service.CheckoutOptions{
			QRTTL:             cfg.QRTTL,
			ReturnURL:         cfg.PaymentReturnURL,
			CancelURL:         cfg.PaymentCancelURL,
			TransactionPrefix: cfg.TransactionPrefix,
		})
	defer checkoutService.Close()

	// 5. Realtime events from the backend
	events := realtime.NewClient(realtime.Config{
		URL:            cfg.RealtimeURL,
		ReconnectDelay: cfg.ReconnectDelay,
		Header:         bearer(cfg.BackendToken),
	})
	events.Connect(ctx)
	defer events.Disconnect()
	go pumpEvents(ctx, events, checkoutService, wsHub)

	// 6. Setup Fiber
	app := fiber.New(fiber.Config{
		AppName:               "Grocery POS Terminal",
		DisableStartupMessage: !cfg.IsDevelopment(),
	})

	// Middleware
	app.Use(logger.New())  // Logging request
	app.Use(recover.New()) // Panic recovery
	app.Use(cors.New())    // CORS

	guard := []fiber.Handler{middleware.RequireTerminal(cfg.TerminalSecret), middleware.RequireSameTerminal(cfg.TerminalID)}

	// 7. Routes
	v1 := app.Group("/api/v1", guard...)
	handler.RegisterRoutes(v1, handler.Handlers{
		Product:      handler.NewProductHandler(catalogService, events.Connected),
		Cart:         handler.NewCartHandler(cartService),
		Checkout:     handler.NewCheckoutHandler(checkoutService),
		Notification: handler.NewNotificationHandler(wsHub),
	})

	// WebSocket Route
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", append(guard, websocket.New(wsHub.Serve))...)

	// 8. Graceful Shutdown
	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("terminal agent listening")
		if err := app.Listen(cfg.Address()); err != nil {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down terminal agent...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Terminal agent exited")
}

// openStore picks postgres, then redis, then the local sqlite file, then
// process memory.
func openStore(cfg *config.Config) (repository.KVStore, func()) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := database.ConnectDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		if err := repository.MigrateKV(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate terminal_kv")
		}
		return repository.NewGormKV(db), closeGorm(db)

	case cfg.RedisURL != "":
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		log.Info().Msg("Redis connection established")
		return repository.NewRedisKV(rdb), func() { _ = rdb.Close() }

	case cfg.SnapshotPath != config.MemorySnapshots:
		db, err := database.OpenSQLite(cfg.SnapshotPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open snapshot file")
		}
		if err := repository.MigrateKV(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate terminal_kv")
		}
		return repository.NewGormKV(db), closeGorm(db)
	}

	log.Warn().Msg("SNAPSHOT_PATH=memory, cart survives only while the process runs")
	return repository.NewMemoryKV(), func() {}
}

func closeGorm(db *gorm.DB) func() {
	return func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// pumpEvents routes realtime events into the checkout and the toast hub.
func pumpEvents(ctx context.Context, events *realtime.Client, checkout service.CheckoutService, hub *ws.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events.PaymentSuccess():
			if !checkout.HandlePaymentSuccess(ctx, ev) {
				log.Debug().Int64("order_code", ev.OrderCode).Msg("payment event did not commit a sale")
			}
		case msg := <-events.Notifications():
			hub.Notify(msg.Level, msg.Message)
		}
	}
}

func bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
