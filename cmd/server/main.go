package main

import (
	"context"
	"os"
	"time"

	"VoiceCoachService/config"
	"VoiceCoachService/internal/call"
	"VoiceCoachService/internal/conversation"
	"VoiceCoachService/internal/database/seed"
	"VoiceCoachService/internal/delivery/grpc"
	apihttp "VoiceCoachService/internal/delivery/http"
	"VoiceCoachService/internal/integrations/openai"
	"VoiceCoachService/internal/integrations/paramstore"
	"VoiceCoachService/internal/integrations/twilio"
	"VoiceCoachService/internal/repository/memory"
	"VoiceCoachService/internal/repository/postgres"
	"VoiceCoachService/internal/repository/redis"
	"VoiceCoachService/internal/scheduler"
	"VoiceCoachService/internal/service"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/database"
	"VoiceCoachService/pkg/logger"
	"VoiceCoachService/pkg/resilience"
	"VoiceCoachService/pkg/server"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Версия сервиса
const (
	ServiceVersion = "1.0.0"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger("info").Fatal("Не удалось загрузить конфигурацию", zap.Error(err))
	}

	// Инициализация логгера
	log := logger.NewLogger(cfg.Log.Level)
	defer func() { _ = log.Sync() }()
	log.Info("Запуск сервиса голосового коуча", zap.String("version", ServiceVersion))

	// Создаем механизм graceful shutdown
	gracefulShutdown := server.NewGracefulShutdown(log, cfg.Server.ShutdownTimeout)
	ctx := gracefulShutdown.Context()

	// Секреты из SSM Parameter Store, если задан префикс
	if cfg.Secrets.SSMPrefix != "" {
		store, err := paramstore.NewFromEnvironment(ctx)
		if err != nil {
			log.Fatal("Не удалось создать клиент Parameter Store", zap.Error(err))
		}
		if err := cfg.ResolveSecrets(ctx, store); err != nil {
			log.Fatal("Не удалось получить секреты", zap.Error(err))
		}
		log.Info("Секреты получены из Parameter Store", zap.String("prefix", cfg.Secrets.SSMPrefix))
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Некорректная конфигурация", zap.Error(err))
	}

	breakerOpts := cfg.Resilience.BreakerOptions(server.RecordCircuitBreakerStateChange)
	timeouts := cfg.Resilience.Timeouts

	// Подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Postgres, log)
	if err != nil {
		log.Fatal("Не удалось подключиться к PostgreSQL", zap.Error(err))
	}
	log.Info("Подключение к PostgreSQL установлено")

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Не удалось получить экземпляр SQL DB", zap.Error(err))
	}
	gracefulShutdown.AddShutdownFunc("postgres", func(ctx context.Context) error {
		log.Info("Закрытие соединения с PostgreSQL")
		return sqlDB.Close()
	})

	// Redis нужен только для хранения сессий звонков
	var redisClient *goredis.Client
	if cfg.Session.Backend == config.SessionBackendRedis {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Не удалось подключиться к Redis", zap.Error(err))
		}
		log.Info("Подключение к Redis установлено", zap.String("addr", cfg.Redis.Addr))

		gracefulShutdown.AddShutdownFunc("redis", func(ctx context.Context) error {
			log.Info("Закрытие соединения с Redis")
			return redisClient.Close()
		})
	}

	// Создаем проверку здоровья баз данных
	healthChecker := database.NewDatabaseHealthChecker(db, redisClient, log, breakerOpts)

	// Запускаем сервер для метрик Prometheus
	metricsServer := server.MetricsServer(cfg.Server.MetricsPort, log)
	gracefulShutdown.AddShutdownFunc("metrics", func(ctx context.Context) error {
		log.Info("Остановка сервера метрик")
		return metricsServer.Shutdown(ctx)
	})

	// Хранилища
	userRepo := postgres.NewResilientUserAccountRepository(db, healthChecker, log, timeouts.Database, cfg.Resilience.RetryOptions())

	// Демонстрационный пользователь для среды разработки
	if err := seed.NewDevEnvironmentSeeder(userRepo, config.NormalizePhone(cfg.Twilio.VerifiedNumber), log).SeedDemoUser(ctx); err != nil {
		log.Warn("Не удалось создать демонстрационного пользователя", zap.Error(err))
	}

	var sessions call.SessionStore
	if redisClient != nil {
		sessions = redis.NewResilientCallSessionRepository(redisClient, healthChecker, log, cfg.Session.TTL, timeouts.Redis)
	} else {
		sessions = memory.NewCallSessionRepository(cfg.Session.TTL)
	}
	log.Info("Хранилище сессий звонков", zap.String("backend", cfg.Session.Backend))

	// Внешние сервисы
	llm, err := openai.NewClient(cfg.OpenAI.APIKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithModels(cfg.OpenAI.ChatModel, cfg.OpenAI.TranscriptionModel),
		openai.WithGeneration(cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature),
		openai.WithLanguage(cfg.OpenAI.Language),
	)
	if err != nil {
		log.Fatal("Не удалось создать клиент OpenAI", zap.Error(err))
	}

	llmBreaker := resilience.NewCircuitBreaker("openai-chat", breakerOpts, log)
	transcriptionBreaker := resilience.NewCircuitBreaker("openai-transcription", breakerOpts, log)
	telephonyBreaker := resilience.NewCircuitBreaker("twilio", breakerOpts, log, apperrors.IgnoredErrors...)

	engine := conversation.NewEngine(llm, llmBreaker, log, conversation.Options{
		HistoryWindow: cfg.Conversation.HistoryWindow,
		MaxTurns:      cfg.Conversation.MaxTurns,
		Timeout:       timeouts.LLM,
	})

	dialer := twilio.NewDialer(twilio.DialerConfig{
		AccountSID:     cfg.Twilio.AccountSID,
		AuthToken:      cfg.Twilio.AuthToken,
		FromNumber:     cfg.Twilio.FromNumber,
		WebhookBaseURL: cfg.Twilio.WebhookBaseURL,
		Timeout:        timeouts.Telephony,
	}, telephonyBreaker, log)
	fetcher := twilio.NewRecordingFetcher(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, timeouts.Download, cfg.Resilience.RetryOptions(), log)
	renderer := twilio.NewRenderer(cfg.Twilio.Voice)

	// Сервисы
	userService := service.NewUserService(userRepo, dialer, log, service.Options{
		MinIntervalMinutes: cfg.Scheduler.MinIntervalMinutes,
		VerifiedNumber:     config.NormalizePhone(cfg.Twilio.VerifiedNumber),
	})

	orchestrator := call.NewOrchestrator(userRepo, sessions, engine, fetcher, llm, transcriptionBreaker, log, call.Options{
		Capture:              call.Capture(cfg.Twilio.CaptureMode),
		TurnTimeout:          timeouts.Turn,
		TranscriptionTimeout: timeouts.Transcription,
	})

	// Создаем и запускаем HTTP сервер для проверки здоровья
	grpcSrv := grpc.NewServer(log, cfg.GRPC.Port)
	healthCheck := server.NewHealthCheck(healthChecker, log, ServiceVersion)
	healthCheck.AttachGRPCHealth(grpcSrv.Health())
	healthCheck.StartServer(cfg.Server.HealthPort)
	gracefulShutdown.AddShutdownFunc("health", func(ctx context.Context) error {
		log.Info("Остановка сервера проверки здоровья")
		return healthCheck.Stop(ctx)
	})

	// Запуск gRPC сервера в отдельной горутине
	go func() {
		if err := grpcSrv.Run(); err != nil {
			log.Error("Ошибка gRPC сервера", zap.Error(err))
			gracefulShutdown.Shutdown()
		}
	}()
	gracefulShutdown.AddShutdownFunc("grpc", grpcSrv.Stop)

	// HTTP API и webhook телефонии
	gin.SetMode(gin.ReleaseMode)
	handler := apihttp.NewHandler(userService, orchestrator, renderer, log)
	apiServer := apihttp.NewServer(apihttp.NewRouter(handler, log, cfg.Server.CORSOrigins), cfg.Server.HTTPPort, log)
	go func() {
		if err := apiServer.Run(); err != nil {
			log.Error("Ошибка HTTP сервера", zap.Error(err))
			gracefulShutdown.Shutdown()
		}
	}()
	gracefulShutdown.AddShutdownFunc("http", apiServer.Shutdown)

	// Планировщик останавливается первым, чтобы не начинать звонки во время остановки
	sched := scheduler.New(userService, log, scheduler.Options{
		TickInterval: cfg.Scheduler.TickInterval,
		Concurrency:  cfg.Scheduler.Concurrency,
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Не удалось запустить планировщик", zap.Error(err))
	}
	gracefulShutdown.AddShutdownFunc("scheduler", sched.Stop)

	// Логируем информацию о версии и PID
	hostname, _ := os.Hostname()
	log.Info("Сервис успешно запущен",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("grpc_port", cfg.GRPC.Port),
		zap.Int("health_port", cfg.Server.HealthPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Duration("tick_interval", cfg.Scheduler.TickInterval),
		zap.String("capture_mode", cfg.Twilio.CaptureMode),
		zap.String("version", ServiceVersion),
		zap.Int("pid", os.Getpid()),
		zap.String("hostname", hostname))

	// Ожидаем сигнала остановки
	start := time.Now()
	gracefulShutdown.Wait()
	log.Info("Завершение работы сервиса выполнено", zap.Duration("uptime", time.Since(start)))
}
