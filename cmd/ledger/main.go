// Package main: точка входа сервиса кошельков.
// Загружает конфигурацию, инициализирует приложение и запускает HTTP,
// планировщик и (если задан токен) Telegram-бота.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/app"
	"serotonyl.ru/wallet-ledger/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== Сервис запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}
	if cfg.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Контекст отменяется по Ctrl+C или docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	// Планировщик задач (cron)
	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	var wg sync.WaitGroup

	// HTTP
	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP-сервер запущен")
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Бот в отдельной горутине
	if application.Bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := application.Bot.Start(ctx); err != nil {
				log.WithError(err).Error("Бот остановился с ошибкой")
			}
		}()
	} else {
		log.Info("TELEGRAM_BOT_TOKEN не задан, бот выключен")
	}

	log.Info("=== Сервис готов к работе ===")

	select {
	case <-ctx.Done():
		log.Info("Получен сигнал остановки, останавливаемся...")
	case err := <-serverErr:
		log.WithError(err).Error("HTTP-сервер упал")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP-сервер остановлен с ошибкой")
	}
	wg.Wait()

	log.Info("=== Сервис остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
