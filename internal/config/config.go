package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Strategy StrategyConfig
	Venues   VenuesConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APIToken      string // токен доступа к dashboard API либо его bcrypt-хеш
	EncryptionKey string // 32 байта для AES-256, шифрование ключей бирж
}

// StrategyConfig - параметры стратегии funding-арбитража
type StrategyConfig struct {
	// Вселенная инструментов и бирж
	Symbols []string
	Venues  []string

	// Отбор возможностей
	MinSpread        float64 // минимальный спред за период для рассмотрения
	TargetAPY        float64 // минимальная годовая доходность для входа
	MaxSpreadAbs     float64 // исключение аномальных спредов (|spread| за период)
	MinOpenInterest  float64 // нижний порог открытого интереса, USD
	MaxOIShare       float64 // доля меньшего OI, доступная позиции
	MinOrderNotional float64 // минимальный размер ордера биржи, USD
	MaxPairNotional  float64 // потолок размера одной пары, USD

	// Капитал
	Leverage     float64 // плечо обеих ног
	BalanceUsage float64 // используемая доля меньшего баланса

	// Оптимизация размера
	SizeSearchStep       float64 // точность бинарного поиска размера, USD
	AllocSearchStep      float64 // точность поиска агрегированной аллокации, USD
	SearchIterationLimit int     // потолок итераций бинарного поиска
	MinAllocationFloor   float64 // нижняя граница аллокации после haircut, USD
	MaxStabilityHaircut  float64 // максимальное урезание за нестабильность
	HoldHorizonHours     float64 // горизонт удержания для амортизации издержек
	MaxAmortizationHours float64 // потолок амортизации разовых издержек в планировщике
	TargetSampleCount    int     // объём истории для полного доверия к данным

	// Перелив залога между биржами
	MinTransfer         float64       // минимальная сумма перевода, USD
	TransferSettleDelay time.Duration // ожидание зачисления перед перечитыванием баланса

	// Исполнение
	PriceImprovement    float64       // сдвиг лимитной цены внутрь спреда, доли
	OrderPollInterval   time.Duration // период опроса статуса ордера
	OrderPollRetries    int           // число опросов до таймаута
	AsymmetricTimeout   time.Duration // ожидание перед ремонтом одной ноги
	DuplicateGrace      time.Duration // возраст ордера до отмены как дубликата
	InterOpportunityDelay time.Duration // пауза между возможностями в цикле

	// Удержание и замена позиций
	MinHoldPeriods     int     // минимальное удержание, периодов финансирования
	CloseThresholdAPY  float64 // порог закрытия по текущей доходности
	ChurnCostMultiple  float64 // во сколько раз выгода замены должна превышать её цену

	// Лимиты запросов по биржам
	DefaultRateLimit float64
	DefaultBurst     float64

	// Период основного цикла
	CycleInterval time.Duration
}

// VenueCredentials - ключи доступа одной биржи
type VenueCredentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// VenuesConfig - ключи доступа по биржам
type VenuesConfig struct {
	Credentials map[string]VenueCredentials
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "fundarb"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIToken:      getEnv("API_TOKEN", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Strategy: StrategyConfig{
			Symbols: getEnvAsList("SYMBOLS", []string{"BTC", "ETH", "SOL"}),
			Venues:  getEnvAsList("VENUES", []string{"bybit", "okx"}),

			MinSpread:        getEnvAsFloat("MIN_SPREAD", 0.0001),
			TargetAPY:        getEnvAsFloat("TARGET_APY", 0.10),
			MaxSpreadAbs:     getEnvAsFloat("MAX_SPREAD_ABS", 0.5),
			MinOpenInterest:  getEnvAsFloat("MIN_OPEN_INTEREST", 100_000),
			MaxOIShare:       getEnvAsFloat("MAX_OI_SHARE", 0.05),
			MinOrderNotional: getEnvAsFloat("MIN_ORDER_NOTIONAL", 100),
			MaxPairNotional:  getEnvAsFloat("MAX_PAIR_NOTIONAL", 500_000),

			Leverage:     getEnvAsFloat("LEVERAGE", 2.0),
			BalanceUsage: getEnvAsFloat("BALANCE_USAGE", 0.9),

			SizeSearchStep:       getEnvAsFloat("SIZE_SEARCH_STEP", 100),
			AllocSearchStep:      getEnvAsFloat("ALLOC_SEARCH_STEP", 1000),
			SearchIterationLimit: getEnvAsInt("SEARCH_ITERATION_LIMIT", 50),
			MinAllocationFloor:   getEnvAsFloat("MIN_ALLOCATION_FLOOR", 1000),
			MaxStabilityHaircut:  getEnvAsFloat("MAX_STABILITY_HAIRCUT", 0.70),
			HoldHorizonHours:     getEnvAsFloat("HOLD_HORIZON_HOURS", 168),
			MaxAmortizationHours: getEnvAsFloat("MAX_AMORTIZATION_HOURS", 24),
			TargetSampleCount:    getEnvAsInt("TARGET_SAMPLE_COUNT", 21),

			MinTransfer:         getEnvAsFloat("MIN_TRANSFER", 10),
			TransferSettleDelay: getEnvAsDuration("TRANSFER_SETTLE_DELAY", 5*time.Second),

			PriceImprovement:      getEnvAsFloat("PRICE_IMPROVEMENT", 0.0001),
			OrderPollInterval:     getEnvAsDuration("ORDER_POLL_INTERVAL", 2*time.Second),
			OrderPollRetries:      getEnvAsInt("ORDER_POLL_RETRIES", 30),
			AsymmetricTimeout:     getEnvAsDuration("ASYMMETRIC_TIMEOUT", 5*time.Minute),
			DuplicateGrace:        getEnvAsDuration("DUPLICATE_GRACE", 10*time.Minute),
			InterOpportunityDelay: getEnvAsDuration("INTER_OPPORTUNITY_DELAY", 500*time.Millisecond),

			MinHoldPeriods:    getEnvAsInt("MIN_HOLD_PERIODS", 3),
			CloseThresholdAPY: getEnvAsFloat("CLOSE_THRESHOLD_APY", 0.05),
			ChurnCostMultiple: getEnvAsFloat("CHURN_COST_MULTIPLE", 2.0),

			DefaultRateLimit: getEnvAsFloat("DEFAULT_RATE_LIMIT", 10),
			DefaultBurst:     getEnvAsFloat("DEFAULT_BURST", 20),

			CycleInterval: getEnvAsDuration("CYCLE_INTERVAL", 5*time.Minute),
		},
		Venues: VenuesConfig{
			Credentials: loadVenueCredentials(),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadVenueCredentials собирает ключи бирж из переменных вида
// <VENUE>_API_KEY, <VENUE>_API_SECRET, <VENUE>_PASSPHRASE
func loadVenueCredentials() map[string]VenueCredentials {
	creds := make(map[string]VenueCredentials)
	for _, venue := range getEnvAsList("VENUES", []string{"bybit", "okx"}) {
		prefix := strings.ToUpper(venue)
		creds[venue] = VenueCredentials{
			APIKey:     getEnv(prefix+"_API_KEY", ""),
			Secret:     getEnv(prefix+"_API_SECRET", ""),
			Passphrase: getEnv(prefix+"_PASSPHRASE", ""),
		}
	}
	return creds
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования ключей бирж в БД
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting venue API keys")
	}
	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Security.APIToken == "" {
		return fmt.Errorf("API_TOKEN is required for dashboard authentication")
	}
	if len(c.Security.APIToken) < 16 {
		return fmt.Errorf("API_TOKEN must be at least 16 characters")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	s := c.Strategy
	if len(s.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS cannot be empty")
	}
	if len(s.Venues) < 2 {
		return fmt.Errorf("at least two venues are required, got %d", len(s.Venues))
	}

	if s.Leverage < 1 || s.Leverage > 10 {
		return fmt.Errorf("LEVERAGE must be between 1 and 10, got %v", s.Leverage)
	}
	if s.BalanceUsage <= 0 || s.BalanceUsage > 1 {
		return fmt.Errorf("BALANCE_USAGE must be in (0, 1], got %v", s.BalanceUsage)
	}
	if s.MaxOIShare <= 0 || s.MaxOIShare > 1 {
		return fmt.Errorf("MAX_OI_SHARE must be in (0, 1], got %v", s.MaxOIShare)
	}
	if s.MaxStabilityHaircut < 0 || s.MaxStabilityHaircut > 1 {
		return fmt.Errorf("MAX_STABILITY_HAIRCUT must be in [0, 1], got %v", s.MaxStabilityHaircut)
	}
	if s.TargetAPY <= 0 {
		return fmt.Errorf("TARGET_APY must be positive, got %v", s.TargetAPY)
	}
	if s.SearchIterationLimit <= 0 {
		return fmt.Errorf("SEARCH_ITERATION_LIMIT must be positive, got %d", s.SearchIterationLimit)
	}
	if s.OrderPollInterval <= 0 {
		return fmt.Errorf("ORDER_POLL_INTERVAL must be positive, got %v", s.OrderPollInterval)
	}
	if s.OrderPollRetries <= 0 {
		return fmt.Errorf("ORDER_POLL_RETRIES must be positive, got %d", s.OrderPollRetries)
	}
	if s.AsymmetricTimeout <= 0 {
		return fmt.Errorf("ASYMMETRIC_TIMEOUT must be positive, got %v", s.AsymmetricTimeout)
	}
	if s.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive, got %v", s.CycleInterval)
	}
	if s.MinHoldPeriods < 0 {
		return fmt.Errorf("MIN_HOLD_PERIODS cannot be negative, got %d", s.MinHoldPeriods)
	}
	if s.HoldHorizonHours <= 0 {
		return fmt.Errorf("HOLD_HORIZON_HOURS must be positive, got %v", s.HoldHorizonHours)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
