package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"signaltrader/internal/api"
	"signaltrader/internal/bot"
	"signaltrader/internal/config"
	"signaltrader/internal/exchange"
	"signaltrader/internal/models"
	"signaltrader/internal/repository"
	"signaltrader/internal/service"
	"signaltrader/internal/websocket"
	"signaltrader/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	logger.Info("Connected to database successfully")

	// Инициализация репозиториев
	tradeRepo := repository.NewTradeRepository(db)
	eventRepo := repository.NewEventRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// WebSocket hub
	hub := websocket.NewHub(logger)
	go hub.Run()

	// Сервис уведомлений: БД + рассылка в WebSocket
	notificationService := service.NewNotificationService(notificationRepo, logger)
	notificationService.SetWebSocketHub(hub)

	// Нотификатор ядра: уведомления уходят в сервис и в лог
	notifier := bot.NewNotifier(256, logger,
		notificationService,
		bot.SinkFunc(func(n *models.Notification) {
			logger.Info("notification",
				zap.String("type", n.Type),
				zap.String("symbol", n.Symbol),
				zap.String("message", n.Message),
			)
		}),
	)

	// Клиент биржи
	client := exchange.NewBitget(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.Passphrase,
	)

	// Политика фич: всё включено, переопределения задаются в рантайме
	policy := bot.NewOverridePolicy(nil)

	// Торговое ядро
	engine := bot.NewEngine(
		cfg.Trading,
		client,
		policy,
		bot.PermissiveConfirmations{},
		notifier,
		eventRepo,
		tradeRepo,
		logger,
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	engine.Start(rootCtx)

	// Защита от зависших позиций
	go bot.NewTimeoutGuard(engine).Run(rootCtx)

	// Инициализация сервисов
	tradeService := service.NewTradeService(engine, tradeRepo, eventRepo)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		TradeService:        tradeService,
		NotificationService: notificationService,
		Hub:                 hub,
		APITokenHash:        cfg.Security.APITokenHash,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Server failed", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Останавливаем мониторы до закрытия HTTP: новые сигналы уже не принимаем
	rootCancel()
	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Дожидаемся доставки хвоста уведомлений и закрываем соединения
	notifier.Close()
	if err := multierr.Combine(client.Close(), db.Close()); err != nil {
		logger.Warn("Cleanup finished with errors", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
