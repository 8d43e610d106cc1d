package store

import (
	"time"

	"tadbir/api/internal/lifecycle"
	"tadbir/api/internal/perm"
)

// Models are the single canonical in-memory representation. The snake_case
// spellings the original store leaked into its clients exist only inside the
// SQL in this package.

type User struct {
	ID           string
	Username     string
	PasswordHash string
	FullName     string
	Phone        string
	Title        string
	Role         perm.Role
	IsActive     bool
	Permissions  perm.Permissions
}

type Category struct {
	ID       string
	ParentID *string
	Name     string
	Type     perm.Section
}

// Synthetic immutable roots, seeded at bootstrap and never deletable.
const (
	ProgramsRootID = "programs-root"
	CouncilRootID  = "council-root"
)

func IsRootCategory(id string) bool {
	return id == ProgramsRootID || id == CouncilRootID
}

type Resolution struct {
	ID             string
	ParentID       string
	Title          string
	Description    string
	Workgroup      string // denormalized label, not a foreign key
	Grade          string
	Lesson         string
	Executor       string // free-text title of the responsible role
	NeedsDate      bool
	ExecutionDate  string
	ExecutionTerm  string
	DiscussionTime string
	Images         []string
	IsApproved     bool
	CreatedAt      time.Time

	Progress          int
	ExecutorClaim     bool
	ExecutorClaimDate *time.Time
	IsCompleted       bool
	LastCompletedAt   *time.Time
	ReminderType      lifecycle.ReminderType
	ReminderStart     string
	ReminderEnd       string
}

// Lifecycle extracts the lifecycle slice for the state machine.
func (r Resolution) Lifecycle() lifecycle.Fields {
	return lifecycle.Fields{
		Progress:          r.Progress,
		ExecutorClaim:     r.ExecutorClaim,
		ExecutorClaimDate: r.ExecutorClaimDate,
		IsCompleted:       r.IsCompleted,
		LastCompletedAt:   r.LastCompletedAt,
		ReminderType:      r.ReminderType,
		ReminderStart:     r.ReminderStart,
		ReminderEnd:       r.ReminderEnd,
	}
}

// ApplyLifecycle writes a transition result back onto the record.
func (r *Resolution) ApplyLifecycle(f lifecycle.Fields) {
	r.Progress = f.Progress
	r.ExecutorClaim = f.ExecutorClaim
	r.ExecutorClaimDate = f.ExecutorClaimDate
	r.IsCompleted = f.IsCompleted
	r.LastCompletedAt = f.LastCompletedAt
	r.ReminderType = f.ReminderType
	r.ReminderStart = f.ReminderStart
	r.ReminderEnd = f.ReminderEnd
}

// WorkgroupPDF is a first-class archive document in the API. On disk it rides
// the resolutions table, marked by the reserved lesson value; the translation
// lives in pdf.go and never leaves this package.
type WorkgroupPDF struct {
	ID          string
	WorkgroupID string
	Title       string
	Description string
	FileURL     string
	CreatedAt   time.Time
}

type CustomTitle struct {
	ID    int64
	Title string
}
