package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSweep(t *testing.T) {
	before := testutil.ToFloat64(depositsExpired.WithLabelValues(SourceSweep))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ObserveSweep(at, 3, nil)

	if got := testutil.ToFloat64(sweepLastExpired); got != 3 {
		t.Fatalf("last_expired = %v", got)
	}
	if got := testutil.ToFloat64(sweepLastRunUnix); got != float64(at.Unix()) {
		t.Fatalf("last_run_unix = %v", got)
	}
	if got := testutil.ToFloat64(depositsExpired.WithLabelValues(SourceSweep)); got != before+3 {
		t.Fatalf("expired_total = %v, want %v", got, before+3)
	}

	errsBefore := testutil.ToFloat64(sweepRuns.WithLabelValues("error"))
	ObserveSweep(at.Add(time.Minute), 0, errors.New("db down"))
	if got := testutil.ToFloat64(sweepRuns.WithLabelValues("error")); got != errsBefore+1 {
		t.Fatalf("error runs = %v", got)
	}
	if got := testutil.ToFloat64(sweepLastRunUnix); got != float64(at.Unix()) {
		t.Fatal("failed run must not move last_run_unix")
	}
}

func TestGauges(t *testing.T) {
	SetDriftedWallets(2)
	SetStuckWithdrawals(5)
	if testutil.ToFloat64(walletsDrifted) != 2 || testutil.ToFloat64(stuckWithdrawals) != 5 {
		t.Fatal("gauges not set")
	}
}
