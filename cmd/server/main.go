package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/mmo-claims/internal/api"
	"github.com/annel0/mmo-claims/internal/auth"
	"github.com/annel0/mmo-claims/internal/cache"
	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/config"
	"github.com/annel0/mmo-claims/internal/directory"
	"github.com/annel0/mmo-claims/internal/eventbus"
	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/annel0/mmo-claims/internal/observability"
	"github.com/annel0/mmo-claims/internal/storage"
	"github.com/annel0/mmo-claims/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV CLAIMS_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования (используем новый API)
	if err := logging.InitDefaultLogger("claims"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🎮 Запуск сервиса заявок на территорию...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
		logging.Info("⚙️  Конфигурация не задана, используются значения по умолчанию")
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	metricsPort := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	logging.Info("📡 Конфигурация: REST API=%s, метрики=%s, хранилище=%s",
		restPort, metricsPort, cfg.Storage.GetBackend())

	if cfg.Server.JWTSecret != "" {
		if err := auth.SetJWTSecret(cfg.Server.JWTSecret); err != nil {
			log.Fatalf("❌ Некорректный JWT секрет: %v", err)
		}
	}

	// === ТЕЛЕМЕТРИЯ ===
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := observability.InitTelemetry(ctx, "mmo-claims")
	if err != nil {
		logging.Warn("⚠️  Телеметрия недоступна: %v", err)
	}

	// === ХРАНИЛИЩЕ ===
	var backend storage.Backend
	switch cfg.Storage.GetBackend() {
	case "maria":
		backend, err = storage.NewMariaBackend(cfg.Storage.MariaDSN)
		if err != nil {
			log.Fatalf("❌ Подключение к MariaDB: %v", err)
		}
		logging.Info("🗄️  Хранилище: MariaDB")
	case "badger":
		backend, err = storage.NewBadgerBackend(cfg.Storage.GetDataPath())
		if err != nil {
			log.Fatalf("❌ Открытие BadgerDB: %v", err)
		}
		logging.Info("🗄️  Хранилище: BadgerDB (%s)", cfg.Storage.GetDataPath())
	default:
		backend = storage.NewFileBackend(cfg.Storage.GetDataPath(), cfg.Storage.Compress)
		logging.Info("🗄️  Хранилище: файлы (%s, gzip=%v)", cfg.Storage.GetDataPath(), cfg.Storage.Compress)
	}

	// === СПРАВОЧНИК ПОЛЬЗОВАТЕЛЕЙ (для миграции имя→UUID) ===
	var userDir directory.UserDirectory
	if cfg.Users.MongoURI != "" {
		userDir, err = directory.NewMongoDirectory(directory.MongoConfig{
			URI:        cfg.Users.MongoURI,
			Database:   cfg.Users.MongoDatabase,
			Collection: cfg.Users.MongoCollection,
		})
		if err != nil {
			logging.Warn("⚠️  Справочник пользователей недоступен, миграция имён будет отложена: %v", err)
			userDir = nil
		} else {
			logging.Info("✅ Справочник пользователей: MongoDB")
		}
	}

	// === КЭШ ЗАПИСЕЙ ИГРОКОВ ===
	var playerCache cache.CacheRepo
	if cfg.Cache.RedisURL != "" {
		var invalidator cache.CacheInvalidator
		if cfg.EventBus.URL != "" {
			invalidator, err = cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: cfg.EventBus.URL}, "claims_server_01")
			if err != nil {
				logging.Warn("⚠️  NATS-инвалидатор кэша недоступен: %v", err)
				invalidator = nil
			}
		}
		playerCache, err = cache.NewRedisCache(&cache.CacheConfig{
			RedisURL:      cfg.Cache.RedisURL,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
			DefaultTTL:    cfg.Cache.DefaultTTL,
		}, invalidator)
		if err != nil {
			logging.Warn("⚠️  Redis-кэш недоступен, работаем без кэша: %v", err)
			playerCache = nil
		} else {
			logging.Info("✅ Кэш записей игроков: Redis")
		}
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		bus, err = eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("⚠️  JetStream недоступен, используется in-memory шина: %v", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			logging.Info("✅ Шина событий: NATS JetStream (%s)", cfg.EventBus.URL)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
		logging.Info("✅ Шина событий: in-memory")
	}
	eventbus.Init(bus)

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.StartHTTP(metricsPort)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️  LoggingListener не запущен: %v", err)
	}

	// === ЯДРО: DATASTORE ===
	worldModes := make(map[string]claim.WorldMode, len(cfg.Claims.WorldModes))
	for world, mode := range cfg.Claims.WorldModes {
		worldModes[world] = claim.ParseWorldMode(mode)
	}

	ds := storage.NewDataStore(storage.Options{
		Backend:          backend,
		Bus:              bus,
		Directory:        userDir,
		Cache:            playerCache,
		WorldModes:       worldModes,
		InitialBlocks:    cfg.Claims.GetInitialBlocks(),
		MaxAccruedBlocks: cfg.Claims.GetMaxAccruedBlocks(),
	})

	logging.Debug("Загрузка заявок из хранилища...")
	if err := ds.Initialize(ctx); err != nil {
		logging.Error("❌ Инициализация хранилища заявок: %v", err)
		log.Fatalf("❌ Инициализация хранилища заявок: %v", err)
	}
	stats := ds.GetStats()
	logging.Info("📦 Загружено: %d заявок в %d мирах", stats.Claims, stats.Worlds)

	resolver := claim.NewPermissionResolver(cfg.Claims.BannedActions, cfg.Claims.AlwaysIgnoreClaims)

	// === ПЕРИОДИЧЕСКИЕ ЗАДАЧИ ===
	var presence tasks.PresenceProvider
	var natsPresence *tasks.NATSPresence
	if cfg.EventBus.URL != "" {
		natsPresence, err = tasks.NewNATSPresence(cfg.EventBus.URL, tasks.DefaultPresenceSubject, 10*time.Minute)
		if err != nil {
			logging.Warn("⚠️  Присутствие игроков недоступно, начисление блоков отключено: %v", err)
		} else {
			presence = natsPresence
		}
	}

	var accrual *tasks.AccrualTask
	if presence != nil {
		accrual = tasks.NewAccrualTask(ds, presence,
			cfg.Claims.GetBlocksAccruedPerHour(), cfg.Claims.GetMaxAccruedBlocks(), 5*time.Minute)
		accrual.Start(ctx)
		logging.Info("✅ Начисление блоков: %d/час", cfg.Claims.GetBlocksAccruedPerHour())
	}

	pvpTask := tasks.NewPvPImmunityTask(ds, time.Minute)
	pvpTask.Start(ctx)
	if err := pvpTask.StartEventBridge(bus); err != nil {
		logging.Warn("⚠️  Мост событий игроков → PvP-иммунитет не запущен: %v", err)
	}

	revertTask := tasks.NewVisualRevertTask(tasks.NewBusRevertSender(bus), time.Minute)
	defer revertTask.Stop()
	if err := revertTask.StartEventBridge(bus, ds); err != nil {
		logging.Warn("⚠️  Мост показов визуализации не запущен: %v", err)
	}

	// === REST API ===
	restServer := api.NewRestServer(api.Config{
		Port:      restPort,
		DataStore: ds,
		Resolver:  resolver,
	})
	if err := restServer.WebhookManager().StartEventBridge(bus); err != nil {
		logging.Warn("⚠️  Мост событий → вебхуки не запущен: %v", err)
	}
	if err := restServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска REST API: %v", err)
		log.Fatalf("❌ Ошибка запуска REST API: %v", err)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	if err := restServer.Stop(); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if accrual != nil {
		accrual.Stop()
	}
	pvpTask.Stop()
	if natsPresence != nil {
		natsPresence.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := ds.Close(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка закрытия хранилища: %v", err)
	}
	if playerCache != nil {
		playerCache.Close()
	}
	if userDir != nil {
		userDir.Close(shutdownCtx)
	}
	busMetrics.Stop()
	if telemetryShutdown != nil {
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logging.Error("❌ Ошибка остановки телеметрии: %v", err)
		}
	}

	logging.Info("👋 Сервис заявок остановлен")
}
