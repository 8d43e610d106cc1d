// Package lifecycle implements the completion workflow of a resolution: the
// executor claims it done, a supervisor approves, rejects, or later revokes,
// and yearly reminders re-open the cycle. Transitions are pure functions over
// the lifecycle fields; the caller persists the result and owns permission
// checks.
package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateClaimed    State = "claimed"
	StateCompleted  State = "completed"
)

type ReminderType string

const (
	ReminderNone      ReminderType = "none"
	ReminderOnce      ReminderType = "once"
	ReminderMonthly   ReminderType = "monthly"
	ReminderQuarterly ReminderType = "quarterly"
	ReminderYearly    ReminderType = "yearly"
)

var (
	ErrAlreadyCompleted = errors.New("resolution already completed")
	ErrAlreadyClaimed   = errors.New("resolution already claimed")
	ErrNotClaimed       = errors.New("resolution has no pending claim")
	ErrNotCompleted     = errors.New("resolution is not completed")
	ErrProgressRange    = errors.New("progress must be between 0 and 100")
)

// Fields is the lifecycle slice of a resolution record.
type Fields struct {
	Progress          int
	ExecutorClaim     bool
	ExecutorClaimDate *time.Time
	IsCompleted       bool
	LastCompletedAt   *time.Time
	ReminderType      ReminderType
	ReminderStart     string // "MM/DD"
	ReminderEnd       string // "MM/DD"
}

// StoredState is the state as persisted, without reminder projection.
// InProgress is a display sub-state of Pending.
func StoredState(f Fields) State {
	switch {
	case f.IsCompleted:
		return StateCompleted
	case f.ExecutorClaim:
		return StateClaimed
	case f.Progress >= 1 && f.Progress <= 99:
		return StateInProgress
	default:
		return StatePending
	}
}

// EffectiveState is the state shown to the current viewing session. A yearly
// reminder whose window is active demotes last year's claim or completion
// back to Pending without touching the stored record; it is re-persisted only
// when the user next acts on the item.
func EffectiveState(f Fields, now time.Time) State {
	if YearlyResetDue(f, now) {
		return StatePending
	}
	return StoredState(f)
}

// YearlyResetDue reports whether the yearly reminder cycle has come around
// since the last claim. Only the yearly type drives auto-reset.
func YearlyResetDue(f Fields, now time.Time) bool {
	if f.ReminderType != ReminderYearly {
		return false
	}
	if f.ExecutorClaimDate == nil {
		return false
	}
	if !ReminderActive(f, now) {
		return false
	}
	return f.ExecutorClaimDate.Year() != now.Year()
}

// ReminderActive reports whether now falls inside the reminder window. The
// window is a pair of month/day marks compared ignoring year, so a window may
// wrap the turn of the year (e.g. 11/01 through 02/15). All reminder types
// share this predicate; non-yearly types use it for display only.
func ReminderActive(f Fields, now time.Time) bool {
	if f.ReminderType == ReminderNone || f.ReminderType == "" {
		return false
	}
	start, err := parseMonthDay(f.ReminderStart)
	if err != nil {
		return false
	}
	end, err := parseMonthDay(f.ReminderEnd)
	if err != nil {
		return false
	}
	today := monthDay{int(now.Month()), now.Day()}
	if start.before(end) || start == end {
		return !today.before(start) && !end.before(today)
	}
	// Wrapped window.
	return !today.before(start) || !end.before(today)
}

type monthDay struct {
	month int
	day   int
}

func (a monthDay) before(b monthDay) bool {
	if a.month != b.month {
		return a.month < b.month
	}
	return a.day < b.day
}

func parseMonthDay(s string) (monthDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return monthDay{}, fmt.Errorf("bad month/day %q", s)
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return monthDay{}, fmt.Errorf("bad month in %q", s)
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return monthDay{}, fmt.Errorf("bad day in %q", s)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return monthDay{}, fmt.Errorf("month/day out of range in %q", s)
	}
	return monthDay{month, day}, nil
}

// MaterializeReset persists the yearly demotion that EffectiveState only
// projects. Callers apply it before a transition so acting on a re-opened
// item starts from a clean Pending record.
func MaterializeReset(f Fields, now time.Time) Fields {
	if !YearlyResetDue(f, now) {
		return f
	}
	f.ExecutorClaim = false
	f.ExecutorClaimDate = nil
	f.IsCompleted = false
	f.LastCompletedAt = nil
	f.Progress = 0
	return f
}

// Claim records the executor's "I believe this is done". Pending only; the
// claim jumps progress to 100.
func Claim(f Fields, now time.Time) (Fields, error) {
	if f.IsCompleted {
		return f, ErrAlreadyCompleted
	}
	if f.ExecutorClaim {
		return f, ErrAlreadyClaimed
	}
	f.ExecutorClaim = true
	f.ExecutorClaimDate = &now
	f.Progress = 100
	return f, nil
}

// Approve confirms a pending claim. The claim flag stays set.
func Approve(f Fields, now time.Time) (Fields, error) {
	if f.IsCompleted {
		return f, ErrAlreadyCompleted
	}
	if !f.ExecutorClaim {
		return f, ErrNotClaimed
	}
	f.IsCompleted = true
	f.LastCompletedAt = &now
	return f, nil
}

// Reject sends a claimed resolution back for correction. Progress is kept;
// only the claim flag is cleared.
func Reject(f Fields) (Fields, error) {
	if f.IsCompleted {
		return f, ErrAlreadyCompleted
	}
	if !f.ExecutorClaim {
		return f, ErrNotClaimed
	}
	f.ExecutorClaim = false
	f.ExecutorClaimDate = nil
	return f, nil
}

// Ratify completes a resolution directly from Pending, synthesizing the claim
// the executor never made. Offered when an approver has set progress to 100.
func Ratify(f Fields, now time.Time) (Fields, error) {
	if f.IsCompleted {
		return f, ErrAlreadyCompleted
	}
	if !f.ExecutorClaim {
		f.ExecutorClaim = true
		f.ExecutorClaimDate = &now
	}
	f.Progress = 100
	f.IsCompleted = true
	f.LastCompletedAt = &now
	return f, nil
}

// Revoke undoes a completed resolution. Unlike Reject it leaves the claim
// flag set, so the item lands back in Claimed rather than Pending and a
// re-approve needs no fresh claim.
func Revoke(f Fields) (Fields, error) {
	if !f.IsCompleted {
		return f, ErrNotCompleted
	}
	f.IsCompleted = false
	return f, nil
}

// SetProgress updates the approver-driven progress gauge. Allowed only in
// Pending/InProgress: a pending claim pins progress at 100 until it is
// approved or rejected. Reaching 100 surfaces the ratify action but never
// completes on its own.
func SetProgress(f Fields, progress int) (Fields, error) {
	if f.IsCompleted {
		return f, ErrAlreadyCompleted
	}
	if f.ExecutorClaim {
		return f, ErrAlreadyClaimed
	}
	if progress < 0 || progress > 100 {
		return f, ErrProgressRange
	}
	f.Progress = progress
	return f, nil
}
