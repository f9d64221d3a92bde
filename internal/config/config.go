// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// .env (если есть) подхватывается через godotenv.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Границы времени жизни checkout-сессии. Stripe требует не меньше 30 минут
// на момент приёма запроса, поэтому нижняя граница с минутой запаса.
const (
	MinCheckoutTTL = 31 * time.Minute
	MaxCheckoutTTL = 24 * time.Hour
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"ledger"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"wallet_ledger"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP ---
	HTTPAddr           string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// --- Auth ---
	// Секрет HS256, которым внешний auth-сервис подписывает токены (claim sub = user id).
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// --- Stripe ---
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	CheckoutSuccessURL  string        `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/wallet?deposit=success"`
	CheckoutCancelURL   string        `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/wallet?deposit=cancelled"`
	CheckoutTTL         time.Duration `envconfig:"CHECKOUT_TTL" default:"31m"`

	// --- Jobs ---
	// cron-выражения (5 полей)
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"*/5 * * * *"`
	DriftSchedule string `envconfig:"DRIFT_SCHEDULE" default:"0 * * * *"`
	// Через сколько processing-вывод считается зависшим
	StuckWithdrawalAfter time.Duration `envconfig:"STUCK_WITHDRAWAL_AFTER" default:"15m"`

	// --- Events ---
	// none | redis | kafka
	EventsBackend string   `envconfig:"EVENTS_BACKEND" default:"none"`
	RedisAddr     string   `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int      `envconfig:"REDIS_DB" default:"0"`
	RedisChannel  string   `envconfig:"REDIS_CHANNEL" default:"transaction_events"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS" default:"kafka:9092"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC" default:"wallet.transactions"`

	// --- Telegram ---
	// Бот опционален: без токена сервис работает только по HTTP.
	TelegramBotToken        string  `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	AdminIDsRaw             string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs                []int64 `envconfig:"-"` // заполним вручную
	BotMaxInflight          int     `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int     `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`
	// Чат операторов: туда идут уведомления о расхождениях и зависших выводах.
	// 0: уведомления получает каждый админ в личку.
	AdminChatID int64 `envconfig:"ADMIN_CHAT_ID" default:"0"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" default:""`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// BotEnabled: нужно ли поднимать Telegram-бота.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// Validate проверяет значения, которые envconfig проверить не может.
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.CheckoutTTL < MinCheckoutTTL || c.CheckoutTTL > MaxCheckoutTTL {
		return fmt.Errorf("CHECKOUT_TTL должен быть от %s до %s", MinCheckoutTTL, MaxCheckoutTTL)
	}
	if c.StuckWithdrawalAfter <= 0 {
		return fmt.Errorf("STUCK_WITHDRAWAL_AFTER должен быть > 0")
	}
	switch c.EventsBackend {
	case "none", "redis", "kafka":
	default:
		return fmt.Errorf("EVENTS_BACKEND: неизвестное значение %q", c.EventsBackend)
	}
	if c.EventsBackend == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS не задан")
	}
	if c.BotEnabled() {
		if c.BotMaxInflight <= 0 {
			return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
		}
		if c.BotUpdateTimeoutSeconds <= 0 {
			return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
		}
		if len(c.AdminIDs) > 0 && c.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH обязателен, если задан ADMIN_IDS")
		}
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS должен быть > 0")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	// .env нужен только локально, в Docker переменные приходят из compose
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
