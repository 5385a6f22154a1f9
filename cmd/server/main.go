package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"fundarb/internal/api"
	"fundarb/internal/config"
	"fundarb/internal/engine"
	"fundarb/internal/opportunity"
	"fundarb/internal/repository"
	"fundarb/internal/service"
	"fundarb/internal/stats"
	"fundarb/internal/venue"
	"fundarb/internal/websocket"
	"fundarb/pkg/crypto"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer log.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("подключение к базе не удалось",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()
	log.Info("база данных подключена", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	fundingRepo := repository.NewFundingRepository(db)
	tradeRepo := repository.NewTradeRepository(db)

	// Биржи
	adapters, err := connectVenues(cfg, log)
	if err != nil {
		log.Fatal("подключение бирж не удалось", zap.Error(err))
	}
	defer func() {
		for name, a := range adapters {
			if err := a.Close(); err != nil {
				log.Warn("биржа не закрылась", zap.String("venue", name), zap.Error(err))
			}
		}
	}()

	limits := ratelimit.NewPolicy(ratelimit.VenueLimit{
		Rate:  cfg.Strategy.DefaultRateLimit,
		Burst: cfg.Strategy.DefaultBurst,
	})

	// WebSocket hub
	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	// Сканер возможностей и историческая статистика
	scanner := opportunity.NewScanner(adapters, limits, fundingRepo, log)
	statsService := stats.NewService(fundingRepo)

	// Движок стратегии. Книга состояний делится с сервисом:
	// API отдаёт исключения из того же экземпляра, с которым
	// работает исполнитель
	orchestrator, book := buildEngine(cfg, adapters, limits, scanner, statsService, tradeRepo, hub, log)

	// Планировщик циклов
	strategyService := service.NewStrategyService(orchestrator, adapters, book, cfg.Strategy.CycleInterval, log)
	strategyService.SetHistoryPruner(fundingRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strategyService.Start(ctx)
	defer strategyService.Stop()

	// HTTP сервер
	router := api.SetupRoutes(&api.Dependencies{
		Strategy: strategyService,
		Journal:  tradeRepo,
		Hub:      hub,
		APIToken: cfg.Security.APIToken,
		Logger:   log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP сервер запускается", zap.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP сервер упал", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("остановка сервера")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("сервер не остановился штатно", zap.Error(err))
	}

	log.Info("сервер остановлен")
}

// buildEngine собирает компоненты движка в оркестратор
func buildEngine(
	cfg *config.Config,
	adapters map[string]venue.Adapter,
	limits *ratelimit.Policy,
	scanner *opportunity.Scanner,
	statsService *stats.Service,
	tradeRepo *repository.TradeRepository,
	hub *websocket.Hub,
	log *utils.Logger,
) (*engine.Orchestrator, *engine.LegStateBook) {
	s := cfg.Strategy
	fees := venue.DefaultFeeSchedule()
	book := engine.NewLegStateBook()

	planner := engine.NewPlanner(engine.PlannerConfig{
		Leverage:         s.Leverage,
		BalanceUsage:     s.BalanceUsage,
		MaxOIShare:       s.MaxOIShare,
		MinOpenInterest:  s.MinOpenInterest,
		MinOrderNotional: s.MinOrderNotional,
		PriceImprovement: s.PriceImprovement,

		MaxAmortizationHours: s.MaxAmortizationHours,
	}, fees, log)

	optimizer := engine.NewOptimizer(engine.OptimizerConfig{
		SizeSearchStep:       s.SizeSearchStep,
		AllocSearchStep:      s.AllocSearchStep,
		SearchIterationLimit: s.SearchIterationLimit,
		MinNotional:          s.MinOrderNotional,
		MaxNotional:          s.MaxPairNotional,
		MinAllocationFloor:   s.MinAllocationFloor,
		MaxStabilityHaircut:  s.MaxStabilityHaircut,
		MaxOIShare:           s.MaxOIShare,
		HoldHorizonHours:     s.HoldHorizonHours,
		TargetSampleCount:    s.TargetSampleCount,
	}, statsService, fees, log)

	ladder := engine.NewLadder(s.MinOrderNotional, log)

	rebalancer := engine.NewRebalancer(engine.RebalancerConfig{
		SettleDelay: s.TransferSettleDelay,
		MinTransfer: s.MinTransfer,
	}, &bridgeTransfer{log: log}, &engine.AdapterBalanceReader{
		Adapters: adapters,
		Limits:   limits,
	}, log)

	executor := engine.NewExecutor(engine.ExecutorConfig{
		PollInterval:      s.OrderPollInterval,
		PollRetries:       s.OrderPollRetries,
		AsymmetricTimeout: s.AsymmetricTimeout,
		DuplicateGrace:    s.DuplicateGrace,
	}, adapters, limits, book, log)

	stickiness := engine.NewStickiness(engine.StickinessConfig{
		CloseThresholdAPY: s.CloseThresholdAPY,
		MinHoldPeriods:    s.MinHoldPeriods,
		ChurnCostMultiple: s.ChurnCostMultiple,
	}, log)

	hooks := engine.NewJournalHooks(tradeRepo, hub, log)

	orchestrator := engine.NewOrchestrator(engine.OrchestratorConfig{
		Symbols:               s.Symbols,
		MinSpread:             s.MinSpread,
		TargetAPY:             s.TargetAPY,
		Leverage:              s.Leverage,
		BalanceUsage:          s.BalanceUsage,
		MinOrderNotional:      s.MinOrderNotional,
		InterOpportunityDelay: s.InterOpportunityDelay,
	}, engine.OrchestratorDeps{
		Adapters:   adapters,
		Source:     scanner,
		Planner:    planner,
		Optimizer:  optimizer,
		Ladder:     ladder,
		Rebalancer: rebalancer,
		Executor:   executor,
		Stickiness: stickiness,
		Fees:       fees,
		Book:       book,
		Limits:     limits,
		Hooks:      hooks,
		Logger:     log,
	})
	return orchestrator, book
}

// connectVenues создаёт адаптеры и подключает их с ключами из
// конфигурации. Ключи могут приходить зашифрованными (суффикс _ENC,
// base64 AES-256-GCM) и расшифровываются ключом ENCRYPTION_KEY.
func connectVenues(cfg *config.Config, log *utils.Logger) (map[string]venue.Adapter, error) {
	adapters := make(map[string]venue.Adapter, len(cfg.Strategy.Venues))
	for _, name := range cfg.Strategy.Venues {
		a, err := venue.NewAdapter(name)
		if err != nil {
			return nil, err
		}

		creds := cfg.Venues.Credentials[name]
		apiKey, err := resolveSecret(creds.APIKey, cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		secret, err := resolveSecret(creds.Secret, cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}

		if err := a.Connect(apiKey, secret, creds.Passphrase); err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		adapters[name] = a
		log.Info("биржа подключена", zap.String("venue", name))
	}
	return adapters, nil
}

// encPrefix помечает зашифрованное значение в конфигурации
const encPrefix = "enc:"

// resolveSecret расшифровывает значение с префиксом enc:, остальные
// возвращает как есть
func resolveSecret(value, key string) (string, error) {
	encrypted, ok := strings.CutPrefix(value, encPrefix)
	if !ok {
		return value, nil
	}
	return crypto.Decrypt(encrypted, []byte(key))
}

// bridgeTransfer - заглушка межбиржевого перевода: сам мост
// (вывод -> он-чейн -> депозит) выполняется внешним процессом,
// заглушка только фиксирует поручение. Фактическое зачисление
// ребалансировщик проверяет перечитыванием балансов.
type bridgeTransfer struct {
	log *utils.Logger
}

func (t *bridgeTransfer) TransferBetweenVenues(ctx context.Context, from, to string, amount float64) error {
	t.log.Info("поручение на перевод залога",
		zap.String("from", from),
		zap.String("to", to),
		zap.Float64("amount", amount))
	return nil
}

// initDatabase открывает подключение к Postgres и проверяет его
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
