// Package metrics: метрики сверки леджера для Prometheus.
// Метрики регистрируются один раз при загрузке пакета.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_ledger"

var (
	depositsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "confirmations_total",
			Help:      "Deposit confirmations partitioned by outcome (applied, duplicate, unpaid).",
		},
		[]string{"outcome"},
	)
	depositsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "initiated_total",
			Help:      "Checkout sessions requested partitioned by result.",
		},
		[]string{"result"},
	)
	depositsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "expired_total",
			Help:      "Pending deposits moved to expired partitioned by source (sweep, webhook).",
		},
		[]string{"source"},
	)
	webhookRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "rejected_total",
			Help:      "Rejected provider webhooks partitioned by reason.",
		},
		[]string{"reason"},
	)
	withdrawals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "total",
			Help:      "Withdrawal attempts partitioned by result.",
		},
		[]string{"result"},
	)
	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Expiry sweep runs partitioned by result.",
		},
		[]string{"result"},
	)
	sweepLastRunUnix = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_unix",
			Help:      "Unix time of the most recent sweep run.",
		},
	)
	sweepLastExpired = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_expired",
			Help:      "Deposits expired by the most recent sweep run.",
		},
	)
	walletsDrifted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drift",
			Name:      "wallets",
			Help:      "Wallets whose balance disagrees with the profile copy or the ledger sum.",
		},
	)
	stuckWithdrawals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "stuck",
			Help:      "Processing withdrawals older than the stuck threshold.",
		},
	)
)

// Исходы подтверждения пополнения.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeUnpaid    = "unpaid"
)

// Источники истечения пополнения.
const (
	SourceSweep   = "sweep"
	SourceWebhook = "webhook"
)

// ObserveDepositConfirmation учитывает подтверждение пополнения.
func ObserveDepositConfirmation(outcome string) {
	depositsConfirmed.WithLabelValues(outcome).Inc()
}

// ObserveDepositInitiated учитывает создание checkout-сессии.
func ObserveDepositInitiated(err error) {
	depositsInitiated.WithLabelValues(result(err)).Inc()
}

// ObserveDepositsExpired учитывает истёкшие пополнения.
func ObserveDepositsExpired(source string, n int) {
	if n > 0 {
		depositsExpired.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveWebhookRejected учитывает отклонённый вебхук.
func ObserveWebhookRejected(reason string) {
	webhookRejected.WithLabelValues(reason).Inc()
}

// ObserveWithdrawal учитывает попытку вывода (ok, rejected, transfer_failed, error).
func ObserveWithdrawal(res string) {
	withdrawals.WithLabelValues(res).Inc()
}

// ObserveSweep учитывает прогон чистильщика.
func ObserveSweep(at time.Time, expired int, err error) {
	sweepRuns.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	sweepLastRunUnix.Set(float64(at.Unix()))
	sweepLastExpired.Set(float64(expired))
	ObserveDepositsExpired(SourceSweep, expired)
}

// SetDriftedWallets выставляет число кошельков с расхождениями.
func SetDriftedWallets(n int) {
	walletsDrifted.Set(float64(n))
}

// SetStuckWithdrawals выставляет число зависших выводов.
func SetStuckWithdrawals(n int) {
	stuckWithdrawals.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
