package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"signaltrader/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Exchange ExchangeConfig
	Trading  TradingConfig
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
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// bcrypt-хэш админского API токена
	APITokenHash string
	// 32 байта для AES-256 (шифрование ключей биржи в БД)
	EncryptionKey string
}

// ExchangeConfig - учётные данные биржи
type ExchangeConfig struct {
	Name       string
	APIKey     string
	APISecret  string
	Passphrase string
}

// TradingConfig - параметры торгового ядра
//
// Пороги в процентах PoL, офсеты в процентах от цены входа.
type TradingConfig struct {
	// Базовые параметры позиции
	DefaultMargin   float64 // IM по умолчанию, USDT
	DefaultLeverage float64 // плечо по умолчанию
	LeverageCap     float64 // максимальное допустимое плечо

	// Лестница переноса SL
	BreakevenThreshold float64 // PoL % для переноса SL к безубытку
	BreakevenOffset    float64 // офсет от entry, % (выше entry для лонга)
	FallbackThreshold  float64 // PoL % для второго тира (всегда >= Breakeven)
	FallbackOffset     float64 // офсет второго тира, %

	// Доливка маржи и трейлинг
	TopUpThreshold   float64 // PoL % для доливки маржи
	TopUpAmount      float64 // размер доливки, USDT
	TrailingThreshold float64 // PoL % для активации трейлинга
	TrailingDistance  float64 // дистанция трейлинга от цены, %
	TrailingAfterTP   int     // TP уровень, после которого трейлинг включается безусловно

	// Реентри
	ReentryMaxAttempts   int
	ReentryDelayMin      time.Duration // нижняя граница кулдауна (гейтит)
	ReentryDelayMax      time.Duration // верхняя граница (информационная)
	ReentryMaxDeviation  float64       // макс. отклонение цены от entry, %

	// Пирамидинг
	PyramidMaxSteps     int
	PyramidTriggers     []float64 // PoL % на каждый шаг
	PyramidTopUps       []float64 // доливка IM на каждый шаг, USDT
	PyramidLeverages    []float64 // целевое плечо на шаг, 0 = не менять (опционально)
	PyramidMaxDeviation float64   // макс. отклонение цены от entry, %

	// Хедж
	HedgeEnabled       bool
	HedgeDrawdown      float64 // PoL % просадки для открытия хеджа (положительное число)
	HedgeSLDistance    float64 // SL хеджа от цены открытия, %

	// Монитор
	TickInterval    time.Duration // интервал тика монитора
	PositionTimeout time.Duration // автозакрытие по таймауту (0 = выключено)
	OrderTimeout    time.Duration // таймаут биржевых вызовов

	// Эвристика типа ордера
	MarketDeviationPct float64 // отклонение от быстрой MA, при котором берём market
	FastMAWindow       int     // окно быстрой MA в тиках
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
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
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "signaltrader"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Exchange: ExchangeConfig{
			Name:       getEnv("EXCHANGE", "bitget"),
			APIKey:     getEnv("EXCHANGE_API_KEY", ""),
			APISecret:  getEnv("EXCHANGE_API_SECRET", ""),
			Passphrase: getEnv("EXCHANGE_PASSPHRASE", ""),
		},
		Trading: TradingConfig{
			DefaultMargin:   getEnvAsFloat("DEFAULT_MARGIN", 20.0),
			DefaultLeverage: getEnvAsFloat("DEFAULT_LEVERAGE", 10.0),
			LeverageCap:     getEnvAsFloat("LEVERAGE_CAP", 50.0),

			BreakevenThreshold: getEnvAsFloat("BREAKEVEN_THRESHOLD", 2.0),
			BreakevenOffset:    getEnvAsFloat("BREAKEVEN_OFFSET", 0.15),
			FallbackThreshold:  getEnvAsFloat("FALLBACK_THRESHOLD", 4.0),
			FallbackOffset:     getEnvAsFloat("FALLBACK_OFFSET", 0.3),

			TopUpThreshold:    getEnvAsFloat("TOPUP_THRESHOLD", 2.5),
			TopUpAmount:       getEnvAsFloat("TOPUP_AMOUNT", 20.0),
			TrailingThreshold: getEnvAsFloat("TRAILING_THRESHOLD", 6.0),
			TrailingDistance:  getEnvAsFloat("TRAILING_DISTANCE", 1.0),
			TrailingAfterTP:   getEnvAsInt("TRAILING_AFTER_TP", 4),

			ReentryMaxAttempts:  getEnvAsInt("REENTRY_MAX_ATTEMPTS", 3),
			ReentryDelayMin:     getEnvAsDuration("REENTRY_DELAY_MIN", 90*time.Second),
			ReentryDelayMax:     getEnvAsDuration("REENTRY_DELAY_MAX", 180*time.Second),
			ReentryMaxDeviation: getEnvAsFloat("REENTRY_MAX_DEVIATION", 5.0),

			PyramidMaxSteps:     getEnvAsInt("PYRAMID_MAX_STEPS", 2),
			PyramidTriggers:     getEnvAsFloatSlice("PYRAMID_TRIGGERS", []float64{2.5, 4.0}),
			PyramidTopUps:       getEnvAsFloatSlice("PYRAMID_TOPUPS", []float64{20, 40}),
			PyramidLeverages:    getEnvAsFloatSlice("PYRAMID_LEVERAGES", nil),
			PyramidMaxDeviation: getEnvAsFloat("PYRAMID_MAX_DEVIATION", 2.0),

			HedgeEnabled:    getEnvAsBool("HEDGE_ENABLED", true),
			HedgeDrawdown:   getEnvAsFloat("HEDGE_DRAWDOWN", 2.0),
			HedgeSLDistance: getEnvAsFloat("HEDGE_SL_DISTANCE", 0.15),

			TickInterval:    getEnvAsDuration("TICK_INTERVAL", 15*time.Second),
			PositionTimeout: getEnvAsDuration("POSITION_TIMEOUT", 4*time.Hour),
			OrderTimeout:    getEnvAsDuration("ORDER_TIMEOUT", 10*time.Second),

			MarketDeviationPct: getEnvAsFloat("MARKET_DEVIATION_PCT", 1.0),
			FastMAWindow:       getEnvAsInt("FAST_MA_WINDOW", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Секрет биржи может задаваться зашифрованным (AES-256-GCM, base64);
	// открытый EXCHANGE_API_SECRET имеет приоритет
	if enc := getEnv("EXCHANGE_API_SECRET_ENC", ""); enc != "" && cfg.Exchange.APISecret == "" {
		secret, err := crypto.Decrypt(enc, []byte(cfg.Security.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("decrypt EXCHANGE_API_SECRET_ENC: %w", err)
		}
		cfg.Exchange.APISecret = secret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет согласованность загруженной конфигурации
func (c *Config) validate() error {
	t := c.Trading

	if t.FallbackThreshold < t.BreakevenThreshold {
		return fmt.Errorf("FALLBACK_THRESHOLD (%.2f) must be >= BREAKEVEN_THRESHOLD (%.2f)",
			t.FallbackThreshold, t.BreakevenThreshold)
	}
	if t.ReentryDelayMax < t.ReentryDelayMin {
		return fmt.Errorf("REENTRY_DELAY_MAX must be >= REENTRY_DELAY_MIN")
	}
	if len(t.PyramidTriggers) != len(t.PyramidTopUps) {
		return fmt.Errorf("PYRAMID_TRIGGERS and PYRAMID_TOPUPS must have equal length")
	}
	if len(t.PyramidLeverages) > 0 {
		if len(t.PyramidLeverages) != len(t.PyramidTriggers) {
			return fmt.Errorf("PYRAMID_LEVERAGES must be empty or match PYRAMID_TRIGGERS length")
		}
		for _, lev := range t.PyramidLeverages {
			if lev < 0 || lev > t.LeverageCap {
				return fmt.Errorf("PYRAMID_LEVERAGES values must be in [0, %.0f]", t.LeverageCap)
			}
		}
	}
	if t.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if t.DefaultLeverage <= 0 || t.DefaultLeverage > t.LeverageCap {
		return fmt.Errorf("DEFAULT_LEVERAGE must be in (0, %.0f]", t.LeverageCap)
	}

	return nil
}

// ConnectionString возвращает строку подключения к PostgreSQL
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// ============ Хелперы чтения окружения ============

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// getEnvAsFloatSlice читает список через запятую: "2.5,4.0"
func getEnvAsFloatSlice(key string, defaultVal []float64) []float64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]float64, 0, len(parts))
	for _, p := range parts {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return defaultVal
		}
		result = append(result, parsed)
	}
	return result
}
