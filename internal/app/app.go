// Package app инициализирует все компоненты приложения.
// app.go: точка сборки: создаёт БД-пул, репозитории, шлюз провайдера,
// сервисы, HTTP-роутер, планировщик и (опционально) Telegram-бота.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/bot"
	"serotonyl.ru/wallet-ledger/internal/bot/filters"
	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/config"
	"serotonyl.ru/wallet-ledger/internal/db/postgres"
	"serotonyl.ru/wallet-ledger/internal/events"
	"serotonyl.ru/wallet-ledger/internal/features/admin"
	"serotonyl.ru/wallet-ledger/internal/features/deposit"
	"serotonyl.ru/wallet-ledger/internal/features/expiry"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/features/members"
	"serotonyl.ru/wallet-ledger/internal/features/wallet"
	"serotonyl.ru/wallet-ledger/internal/features/withdrawal"
	"serotonyl.ru/wallet-ledger/internal/httpapi"
	"serotonyl.ru/wallet-ledger/internal/jobs"
	"serotonyl.ru/wallet-ledger/internal/provider/stripe"
)

// App содержит все компоненты приложения.
type App struct {
	Server    *http.Server
	Scheduler *jobs.Scheduler
	Bot       *bot.Bot // nil, если TELEGRAM_BOT_TOKEN не задан
	DB        *pgxpool.Pool
	Events    events.Publisher
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен, компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Шина событий ===
	publisher, err := events.New(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения шины событий: %w", err)
	}

	// === 3. Провайдер платежей ===
	gateway := stripe.New(stripe.Options{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	})

	// === 4. Репозитории ===
	clock := common.RealClock{}
	ledgerRepo := ledger.NewRepository(pool)
	memberRepo := members.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 5. Сервисы ===
	ledgerService := ledger.NewService(ledgerRepo)
	depositService := deposit.NewService(ledgerRepo, gateway, publisher, clock, cfg.CheckoutTTL)
	withdrawalService := withdrawal.NewService(ledgerRepo, gateway, publisher, clock)
	expiryService := expiry.NewService(ledgerRepo, publisher)
	memberService := members.NewService(memberRepo, cfg.AdminIDs)

	// === 6. HTTP ===
	depositHandler := deposit.NewHandler(depositService)
	router := NewRouter(RouterDeps{
		Verifier: httpapi.NewJWTVerifier(cfg.JWTSecret),
		Webhooks: []WebhookRegistrar{depositHandler},
		UserRoutes: []RouteRegistrar{
			ledger.NewHandler(ledgerService),
			depositHandler,
			withdrawal.NewHandler(withdrawalService),
		},
		Health:      pool.Ping,
		Timeout:     cfg.HTTPRequestTimeout,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTPRequestTimeout,
	}

	// === 7. Telegram (опционально) ===
	var (
		b      *bot.Bot
		notify func(string)
	)
	if cfg.BotEnabled() {
		api, err := telego.NewBot(cfg.TelegramBotToken, telego.WithLogger(log.StandardLogger()))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		if me, err := api.GetMe(ctx); err == nil {
			log.Infof("Авторизован как @%s", me.Username)
		}
		if err := memberService.SyncAdmins(ctx); err != nil {
			log.WithError(err).Warn("Не удалось синхронизировать список админов")
		}

		sender := bot.NewSender(api)
		adminHandler := admin.NewHandler(admin.NewService(adminRepo, cfg.AdminPasswordHash, clock), admin.Deps{
			Members:    memberService,
			Sweeper:    expiryService,
			Auditor:    ledgerService,
			Resolver:   withdrawalService,
			Sender:     sender,
			Clock:      clock,
			StuckAfter: cfg.StuckWithdrawalAfter,
		})

		var allowedGroups []int64
		if cfg.AdminChatID != 0 {
			allowedGroups = append(allowedGroups, cfg.AdminChatID)
		}
		b = bot.New(api, bot.Deps{
			Members:    memberService,
			NewMembers: members.NewHandler(memberService),
			Wallet:     wallet.NewHandler(memberService, ledgerService, depositService, withdrawalService, sender),
			Admin:      adminHandler,
			Messenger:  sender,
			ChatFilter: filters.NewChatFilter(allowedGroups...),
		}, bot.Options{
			MaxInflight:       cfg.BotMaxInflight,
			UpdateTimeout:     cfg.BotUpdateTimeoutSeconds,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		})
		notify = bot.Notifier(ctx, sender.Send, cfg.AdminChatID, cfg.AdminIDs)
	}

	// === 8. Планировщик задач ===
	scheduler := jobs.NewScheduler(expiryService, ledgerService, jobs.Options{
		SweepSchedule: cfg.SweepSchedule,
		DriftSchedule: cfg.DriftSchedule,
		StuckAfter:    cfg.StuckWithdrawalAfter,
		Location:      common.LoadLocation(cfg.AppTimezone),
		Clock:         clock,
		NotifyAdmins:  notify,
	})

	return &App{
		Server:    server,
		Scheduler: scheduler,
		Bot:       b,
		DB:        pool,
		Events:    publisher,
	}, nil
}

// Close освобождает внешние ресурсы.
func (a *App) Close() {
	if err := a.Events.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия шины событий")
	}
	a.DB.Close()
}
