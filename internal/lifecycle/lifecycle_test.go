package lifecycle

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestStoredState(t *testing.T) {
	cases := []struct {
		name string
		f    Fields
		want State
	}{
		{name: "fresh", f: Fields{}, want: StatePending},
		{name: "partial progress", f: Fields{Progress: 40}, want: StateInProgress},
		{name: "full progress without claim", f: Fields{Progress: 100}, want: StatePending},
		{name: "claimed", f: Fields{Progress: 100, ExecutorClaim: true}, want: StateClaimed},
		{name: "completed", f: Fields{Progress: 100, ExecutorClaim: true, IsCompleted: true}, want: StateCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StoredState(tc.f); got != tc.want {
				t.Fatalf("StoredState = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClaimThenRejectKeepsProgress(t *testing.T) {
	f := Fields{Progress: 60}

	claimed, err := Claim(f, now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed.ExecutorClaim || claimed.ExecutorClaimDate == nil || claimed.Progress != 100 {
		t.Fatalf("claim side effects wrong: %+v", claimed)
	}

	rejected, err := Reject(claimed)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.ExecutorClaim || rejected.IsCompleted {
		t.Fatalf("reject must clear claim and leave incomplete: %+v", rejected)
	}
	// Rejection does not reset progress, only the claim flag.
	if rejected.Progress != 100 {
		t.Fatalf("reject changed progress: got %d", rejected.Progress)
	}
}

func TestApproveRequiresClaim(t *testing.T) {
	if _, err := Approve(Fields{}, now); !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("Approve without claim: got %v, want ErrNotClaimed", err)
	}

	claimed, _ := Claim(Fields{}, now)
	done, err := Approve(claimed, now)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !done.IsCompleted || done.LastCompletedAt == nil || !done.ExecutorClaim {
		t.Fatalf("approve side effects wrong: %+v", done)
	}
}

func TestRatifySynthesizesClaim(t *testing.T) {
	f := Fields{Progress: 100}
	done, err := Ratify(f, now)
	if err != nil {
		t.Fatalf("Ratify: %v", err)
	}
	if !done.ExecutorClaim || done.ExecutorClaimDate == nil {
		t.Fatalf("ratify must synthesize the claim: %+v", done)
	}
	if !done.IsCompleted || done.LastCompletedAt == nil {
		t.Fatalf("ratify must complete: %+v", done)
	}
}

func TestRevokeLeavesClaimSet(t *testing.T) {
	done, _ := Ratify(Fields{}, now)
	reopened, err := Revoke(done)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if reopened.IsCompleted {
		t.Fatal("revoke must clear isCompleted")
	}
	if !reopened.ExecutorClaim {
		t.Fatal("revoke keeps the claim flag set")
	}
	if _, err := Revoke(reopened); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("double revoke: got %v, want ErrNotCompleted", err)
	}
}

func TestSetProgress(t *testing.T) {
	f, err := SetProgress(Fields{}, 55)
	if err != nil || f.Progress != 55 {
		t.Fatalf("SetProgress(55) = %+v, %v", f, err)
	}
	if _, err := SetProgress(Fields{}, 101); !errors.Is(err, ErrProgressRange) {
		t.Fatalf("SetProgress(101): got %v, want ErrProgressRange", err)
	}
	if _, err := SetProgress(Fields{}, -1); !errors.Is(err, ErrProgressRange) {
		t.Fatalf("SetProgress(-1): got %v, want ErrProgressRange", err)
	}
	claimed, _ := Claim(Fields{}, now)
	if _, err := SetProgress(claimed, 40); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("SetProgress on claimed: got %v, want ErrAlreadyClaimed", err)
	}
	done, _ := Ratify(Fields{}, now)
	if _, err := SetProgress(done, 10); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("SetProgress on completed: got %v, want ErrAlreadyCompleted", err)
	}
}

func TestReminderActiveWindows(t *testing.T) {
	cases := []struct {
		name   string
		f      Fields
		at     time.Time
		active bool
	}{
		{
			name:   "inside plain window",
			f:      Fields{ReminderType: ReminderYearly, ReminderStart: "08/01", ReminderEnd: "09/30"},
			at:     now,
			active: true,
		},
		{
			name:   "outside plain window",
			f:      Fields{ReminderType: ReminderYearly, ReminderStart: "01/01", ReminderEnd: "02/28"},
			at:     now,
			active: false,
		},
		{
			name:   "wrapped window before new year",
			f:      Fields{ReminderType: ReminderMonthly, ReminderStart: "11/01", ReminderEnd: "02/15"},
			at:     time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
			active: true,
		},
		{
			name:   "wrapped window after new year",
			f:      Fields{ReminderType: ReminderMonthly, ReminderStart: "11/01", ReminderEnd: "02/15"},
			at:     time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC),
			active: true,
		},
		{
			name:   "wrapped window gap",
			f:      Fields{ReminderType: ReminderMonthly, ReminderStart: "11/01", ReminderEnd: "02/15"},
			at:     time.Date(2027, 6, 10, 0, 0, 0, 0, time.UTC),
			active: false,
		},
		{
			name:   "none type never active",
			f:      Fields{ReminderType: ReminderNone, ReminderStart: "01/01", ReminderEnd: "12/31"},
			at:     now,
			active: false,
		},
		{
			name:   "malformed dates never active",
			f:      Fields{ReminderType: ReminderYearly, ReminderStart: "first of march", ReminderEnd: "12/31"},
			at:     now,
			active: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ReminderActive(tc.f, tc.at); got != tc.active {
				t.Fatalf("ReminderActive = %v, want %v", got, tc.active)
			}
		})
	}
}

func TestYearlyAutoResetProjection(t *testing.T) {
	lastYear := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	f := Fields{
		Progress:          100,
		ExecutorClaim:     true,
		ExecutorClaimDate: timePtr(lastYear),
		IsCompleted:       true,
		LastCompletedAt:   timePtr(lastYear),
		ReminderType:      ReminderYearly,
		ReminderStart:     "01/01",
		ReminderEnd:       "12/31",
	}

	if got := EffectiveState(f, now); got != StatePending {
		t.Fatalf("EffectiveState = %q, want pending for new cycle", got)
	}
	// The projection never mutates the stored fields.
	if got := StoredState(f); got != StateCompleted {
		t.Fatalf("StoredState = %q, stored record must stay completed", got)
	}

	// Same-year claim: no reset.
	thisYear := f
	thisYear.ExecutorClaimDate = timePtr(now.AddDate(0, -1, 0))
	if got := EffectiveState(thisYear, now); got != StateCompleted {
		t.Fatalf("EffectiveState same-year = %q, want completed", got)
	}

	// Non-yearly types never drive auto-reset.
	monthly := f
	monthly.ReminderType = ReminderMonthly
	if got := EffectiveState(monthly, now); got != StateCompleted {
		t.Fatalf("EffectiveState monthly = %q, want completed", got)
	}
}
