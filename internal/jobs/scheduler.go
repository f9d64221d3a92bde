// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: закрытие просроченных пополнений,
// проверку расхождений балансов и поиск зависших выводов.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/wallet-ledger/internal/common"
	"serotonyl.ru/wallet-ledger/internal/features/ledger"
	"serotonyl.ru/wallet-ledger/internal/metrics"
)

// Sweeper закрывает просроченные пополнения.
type Sweeper interface {
	SweepExpiredDeposits(ctx context.Context, now time.Time) (int, error)
}

// Auditor проверяет целостность леджера.
type Auditor interface {
	CheckDrift(ctx context.Context) ([]ledger.Drift, error)
	StuckWithdrawals(ctx context.Context, now time.Time, threshold time.Duration) ([]*ledger.Transaction, error)
}

// Options: расписания и пороги.
type Options struct {
	SweepSchedule string
	DriftSchedule string
	StuckAfter    time.Duration
	Location      *time.Location
	Clock         common.Clock
	NotifyAdmins  func(text string) // может быть nil
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	auditor Auditor
	opts    Options
}

// NewScheduler создаёт планировщик задач.
func NewScheduler(sweeper Sweeper, auditor Auditor, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = common.RealClock{}
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(opts.Location)),
		sweeper: sweeper,
		auditor: auditor,
		opts:    opts,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.SweepSchedule, func() {
		log.Debug("[CRON] Закрытие просроченных пополнений")
		if _, err := s.RunSweep(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка закрытия пополнений")
		}
	}); err != nil {
		return fmt.Errorf("некорректное SWEEP_SCHEDULE %q: %w", s.opts.SweepSchedule, err)
	}

	if _, err := s.cron.AddFunc(s.opts.DriftSchedule, func() {
		log.Debug("[CRON] Проверка балансов")
		if _, err := s.RunDriftCheck(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка проверки балансов")
		}
		if _, err := s.RunStuckCheck(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка поиска зависших выводов")
		}
	}); err != nil {
		return fmt.Errorf("некорректное DRIFT_SCHEDULE %q: %w", s.opts.DriftSchedule, err)
	}

	s.cron.Start()
	log.WithField("timezone", s.opts.Location.String()).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// RunSweep закрывает просроченные пополнения.
func (s *Scheduler) RunSweep(ctx context.Context) (int, error) {
	n, err := s.sweeper.SweepExpiredDeposits(ctx, s.opts.Clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.WithField("count", n).Info("[CRON] Закрыто просроченных пополнений")
	}
	return n, nil
}

// RunDriftCheck ищет расхождения и сообщает о них админам.
func (s *Scheduler) RunDriftCheck(ctx context.Context) ([]ledger.Drift, error) {
	drifts, err := s.auditor.CheckDrift(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetDriftedWallets(len(drifts))
	if len(drifts) > 0 {
		s.notify(FormatDrifts(drifts))
	}
	return drifts, nil
}

// RunStuckCheck ищет выводы, застрявшие в processing.
func (s *Scheduler) RunStuckCheck(ctx context.Context) ([]*ledger.Transaction, error) {
	stuck, err := s.auditor.StuckWithdrawals(ctx, s.opts.Clock.Now(), s.opts.StuckAfter)
	if err != nil {
		return nil, err
	}
	metrics.SetStuckWithdrawals(len(stuck))
	if len(stuck) > 0 {
		log.WithField("count", len(stuck)).Warn("[CRON] Есть зависшие выводы")
		s.notify(FormatStuck(stuck))
	}
	return stuck, nil
}

func (s *Scheduler) notify(text string) {
	if s.opts.NotifyAdmins != nil {
		s.opts.NotifyAdmins(text)
	}
}

// FormatDrifts: текст уведомления о расхождениях.
func FormatDrifts(drifts []ledger.Drift) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Расхождение балансов: %d\n", len(drifts))
	for _, d := range drifts {
		fmt.Fprintf(&b, "\n%s\n  кошелёк: %s, профиль: %s, леджер: %s",
			d.UserID, d.WalletBalance.StringFixed(2), d.ProfileBalance.StringFixed(2), d.LedgerBalance.StringFixed(2))
	}
	return b.String()
}

// FormatStuck: текст уведомления о зависших выводах.
func FormatStuck(stuck []*ledger.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ Зависшие выводы: %d\n", len(stuck))
	for _, t := range stuck {
		fmt.Fprintf(&b, "\n%s: %s, создан %s", t.ID, t.Amount.StringFixed(2), common.FormatDateTime(t.CreatedAt))
	}
	return b.String()
}
