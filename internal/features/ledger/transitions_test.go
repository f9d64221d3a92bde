package ledger

import "testing"

func TestCanTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusCompleted}:    true,
		{StatusPending, StatusExpired}:      true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
		for _, to := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusExpired} {
			if CanTransition(s, to) {
				t.Errorf("terminal %s must not move to %s", s, to)
			}
		}
	}
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("pending/processing are not terminal")
	}
	if Status("bogus").Terminal() {
		t.Error("unknown status is not terminal")
	}
}

func TestParse(t *testing.T) {
	if _, err := ParseStatus("expired"); err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := ParseType("fee"); err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	if _, err := ParseType("refund"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Limit: 0, Offset: -3}.Normalize()
	if f.Limit != DefaultPageSize || f.Offset != 0 {
		t.Fatalf("got %+v", f)
	}
	if f := (Filter{Limit: 1000}).Normalize(); f.Limit != MaxPageSize {
		t.Fatalf("got limit %d", f.Limit)
	}
}
