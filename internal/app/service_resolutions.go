package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"tadbir/api/internal/lifecycle"
	"tadbir/api/internal/perm"
	"tadbir/api/internal/search"
	"tadbir/api/internal/store"
	"tadbir/api/internal/util"
)

// councilWorkgroupLabel is the denormalized workgroup label that marks a
// resolution as a council decision even when it lives under a workgroup.
const councilWorkgroupLabel = "شورای مدرسه"

const defaultSearchLimit = 50

// ResolutionView is a resolution plus its read-time projections: the
// effective lifecycle state and whether the reminder window is open right
// now. The stored record is never mutated to produce these.
type ResolutionView struct {
	store.Resolution
	State          lifecycle.State
	ReminderActive bool
}

func (s *Service) view(res store.Resolution) ResolutionView {
	return viewAt(res, s.now())
}

func viewAt(res store.Resolution, now time.Time) ResolutionView {
	f := res.Lifecycle()
	return ResolutionView{
		Resolution:     res,
		State:          lifecycle.EffectiveState(f, now),
		ReminderActive: lifecycle.ReminderActive(f, now),
	}
}

func (s *Service) categoryFor(ctx context.Context, categoryID string) (store.Category, error) {
	cat, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Category{}, errNotFound("category not found")
	}
	return cat, err
}

// ---------------------------------------------------------------------------
// Resolutions

func (s *Service) ListResolutions(ctx context.Context, viewer Session, parentID string) ([]ResolutionView, error) {
	if parentID == "" {
		return nil, errValidation("parentId is required")
	}
	cat, err := s.categoryFor(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !perm.CanViewCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return nil, errForbidden()
	}
	canEdit := perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat))

	items, err := s.store.ListResolutions(ctx, parentID)
	if err != nil {
		return nil, err
	}
	views := make([]ResolutionView, 0, len(items))
	for _, item := range items {
		// Drafts awaiting approval are visible to editors only.
		if !item.IsApproved && !canEdit {
			continue
		}
		views = append(views, s.view(item))
	}
	return views, nil
}

func (s *Service) GetResolution(ctx context.Context, viewer Session, resolutionID string) (ResolutionView, error) {
	item, err := s.store.GetResolution(ctx, resolutionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ResolutionView{}, errNotFound("resolution not found")
	}
	if err != nil {
		return ResolutionView{}, err
	}
	cat, err := s.categoryFor(ctx, item.ParentID)
	if err != nil {
		// Orphaned records stay hidden from browsing.
		return ResolutionView{}, errNotFound("resolution not found")
	}
	if !perm.CanViewCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return ResolutionView{}, errForbidden()
	}
	if !item.IsApproved && !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return ResolutionView{}, errForbidden()
	}
	return s.view(item), nil
}

// crossCut walks every approved resolution and keeps the ones the predicate
// accepts. The cross-section views (grade, lesson, executor, uncompleted)
// share a single section grant, independent of the category grants the
// records live under.
func (s *Service) crossCut(ctx context.Context, viewer Session, keep func(ResolutionView) bool) ([]ResolutionView, error) {
	if !perm.CanViewSection(viewer.Role, viewer.Permissions, perm.SectionByGrade) {
		return nil, errForbidden()
	}
	items, err := s.store.ListResolutions(ctx, "")
	if err != nil {
		return nil, err
	}
	views := make([]ResolutionView, 0)
	for _, item := range items {
		if !item.IsApproved {
			continue
		}
		if v := s.view(item); keep(v) {
			views = append(views, v)
		}
	}
	return views, nil
}

// ListResolutionsByGrade is the cross-section grade view. An empty grade
// returns every graded record.
func (s *Service) ListResolutionsByGrade(ctx context.Context, viewer Session, grade string) ([]ResolutionView, error) {
	return s.crossCut(ctx, viewer, func(v ResolutionView) bool {
		return v.Grade != "" && (grade == "" || v.Grade == grade)
	})
}

// ListResolutionsByLesson groups by the lesson label the same way the grade
// view groups by grade.
func (s *Service) ListResolutionsByLesson(ctx context.Context, viewer Session, lesson string) ([]ResolutionView, error) {
	return s.crossCut(ctx, viewer, func(v ResolutionView) bool {
		return v.Lesson != "" && (lesson == "" || v.Lesson == lesson)
	})
}

// ListResolutionsByExecutor lists everything assigned to a role title,
// across sections.
func (s *Service) ListResolutionsByExecutor(ctx context.Context, viewer Session, executor string) ([]ResolutionView, error) {
	if executor == "" {
		return nil, errValidation("executor is required")
	}
	return s.crossCut(ctx, viewer, func(v ResolutionView) bool {
		return v.Executor == executor
	})
}

// ListUncompletedResolutions is the follow-up view: approved items whose
// projected state is anything but completed, so a yearly reset is enough to
// put an item back on the list.
func (s *Service) ListUncompletedResolutions(ctx context.Context, viewer Session) ([]ResolutionView, error) {
	return s.crossCut(ctx, viewer, func(v ResolutionView) bool {
		return v.State != lifecycle.StateCompleted
	})
}

type SaveResolutionInput struct {
	ID             string   `json:"id"`
	ParentID       string   `json:"parentId"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Workgroup      string   `json:"workgroup"`
	Grade          string   `json:"grade"`
	Lesson         string   `json:"lesson"`
	Executor       string   `json:"executor"`
	NeedsDate      bool     `json:"needsDate"`
	ExecutionDate  string   `json:"executionDate"`
	ExecutionTerm  string   `json:"executionTerm"`
	DiscussionTime string   `json:"discussionTime"`
	Images         []string `json:"images"`
	IsApproved     bool     `json:"isApproved"`
	ReminderType   string   `json:"reminderType"`
	ReminderStart  string   `json:"reminderStartDate"`
	ReminderEnd    string   `json:"reminderEndDate"`
}

// SaveResolution creates or updates a resolution's descriptive fields. The
// lifecycle slice is owned by the transition endpoints and survives edits
// untouched.
func (s *Service) SaveResolution(ctx context.Context, viewer Session, input SaveResolutionInput) (ResolutionView, error) {
	if err := s.requireOnline(); err != nil {
		return ResolutionView{}, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return ResolutionView{}, errValidation("title is required")
	}
	if input.ParentID == "" {
		return ResolutionView{}, errValidation("parentId is required")
	}
	cat, err := s.categoryFor(ctx, input.ParentID)
	if err != nil {
		return ResolutionView{}, err
	}
	if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return ResolutionView{}, errForbidden()
	}

	item := store.Resolution{
		ID:             input.ID,
		ParentID:       input.ParentID,
		Title:          strings.TrimSpace(input.Title),
		Description:    input.Description,
		Workgroup:      input.Workgroup,
		Grade:          input.Grade,
		Lesson:         input.Lesson,
		Executor:       input.Executor,
		NeedsDate:      input.NeedsDate,
		ExecutionDate:  input.ExecutionDate,
		ExecutionTerm:  input.ExecutionTerm,
		DiscussionTime: input.DiscussionTime,
		Images:         input.Images,
		IsApproved:     input.IsApproved,
		ReminderType:   lifecycle.ReminderType(input.ReminderType),
		ReminderStart:  input.ReminderStart,
		ReminderEnd:    input.ReminderEnd,
	}

	if item.ID == "" {
		item.ID = util.NewID("res")
	} else {
		existing, err := s.store.GetResolution(ctx, item.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ResolutionView{}, err
		}
		if err == nil {
			item.CreatedAt = existing.CreatedAt
			item.Progress = existing.Progress
			item.ExecutorClaim = existing.ExecutorClaim
			item.ExecutorClaimDate = existing.ExecutorClaimDate
			item.IsCompleted = existing.IsCompleted
			item.LastCompletedAt = existing.LastCompletedAt
		}
	}

	if err := s.store.SaveResolution(ctx, item); err != nil {
		return ResolutionView{}, err
	}
	saved, err := s.store.GetResolution(ctx, item.ID)
	if err != nil {
		return ResolutionView{}, err
	}
	s.indexResolution(saved, cat)
	return s.view(saved), nil
}

func (s *Service) DeleteResolution(ctx context.Context, viewer Session, resolutionID string) error {
	if err := s.requireOnline(); err != nil {
		return err
	}
	item, err := s.store.GetResolution(ctx, resolutionID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("resolution not found")
	}
	if err != nil {
		return err
	}
	cat, err := s.categoryFor(ctx, item.ParentID)
	if err == nil {
		if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
			return errForbidden()
		}
	} else if viewer.Role != perm.RoleAdmin {
		// Orphans can only be reaped by an admin.
		return errForbidden()
	}
	if err := s.store.DeleteResolution(ctx, resolutionID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteResolution(resolutionID)
	}
	return nil
}

func (s *Service) indexResolution(item store.Resolution, cat store.Category) {
	if s.search == nil {
		return
	}
	s.search.IndexResolution(search.Record{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Section:     string(cat.Type),
		Workgroup:   item.Workgroup,
		Grade:       item.Grade,
	})
}

// ---------------------------------------------------------------------------
// Lifecycle transitions

// Claim is the executor's own action: only the session whose title matches
// the resolution's executor may claim, admins included.
func (s *Service) ClaimResolution(ctx context.Context, viewer Session, resolutionID string) (ResolutionView, error) {
	return s.transition(ctx, viewer, resolutionID, func(item store.Resolution, cat store.Category) error {
		if viewer.Title == "" || viewer.Title != item.Executor {
			return errForbidden()
		}
		if !item.IsApproved {
			return errConflict("resolution is not approved yet")
		}
		return nil
	}, func(f lifecycle.Fields) (lifecycle.Fields, error) {
		return lifecycle.Claim(f, s.now())
	})
}

func (s *Service) ApproveResolution(ctx context.Context, viewer Session, resolutionID string) (ResolutionView, error) {
	return s.transition(ctx, viewer, resolutionID, s.requireEdit(viewer), func(f lifecycle.Fields) (lifecycle.Fields, error) {
		return lifecycle.Approve(f, s.now())
	})
}

func (s *Service) RejectResolution(ctx context.Context, viewer Session, resolutionID string) (ResolutionView, error) {
	return s.transition(ctx, viewer, resolutionID, s.requireEdit(viewer), func(f lifecycle.Fields) (lifecycle.Fields, error) {
		return lifecycle.Reject(f)
	})
}

func (s *Service) RatifyResolution(ctx context.Context, viewer Session, resolutionID string) (ResolutionView, error) {
	return s.transition(ctx, viewer, resolutionID, s.requireEdit(viewer), func(f lifecycle.Fields) (lifecycle.Fields, error) {
		return lifecycle.Ratify(f, s.now())
	})
}

func (s *Service) RevokeResolution(ctx context.Context, viewer Session, resolutionID string) (ResolutionView, error) {
	return s.transition(ctx, viewer, resolutionID, s.requireEdit(viewer), func(f lifecycle.Fields) (lifecycle.Fields, error) {
		return lifecycle.Revoke(f)
	})
}

func (s *Service) SetResolutionProgress(ctx context.Context, viewer Session, resolutionID string, progress int) (ResolutionView, error) {
	return s.transition(ctx, viewer, resolutionID, s.requireEdit(viewer), func(f lifecycle.Fields) (lifecycle.Fields, error) {
		return lifecycle.SetProgress(f, progress)
	})
}

func (s *Service) requireEdit(viewer Session) func(store.Resolution, store.Category) error {
	return func(item store.Resolution, cat store.Category) error {
		if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
			return errForbidden()
		}
		return nil
	}
}

// transition loads a resolution, runs a permission gate, materializes any due
// yearly reset, applies the state transition, and persists the result.
func (s *Service) transition(ctx context.Context, viewer Session, resolutionID string,
	gate func(store.Resolution, store.Category) error,
	apply func(lifecycle.Fields) (lifecycle.Fields, error)) (ResolutionView, error) {

	if err := s.requireOnline(); err != nil {
		return ResolutionView{}, err
	}
	item, err := s.store.GetResolution(ctx, resolutionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ResolutionView{}, errNotFound("resolution not found")
	}
	if err != nil {
		return ResolutionView{}, err
	}
	cat, err := s.categoryFor(ctx, item.ParentID)
	if err != nil {
		return ResolutionView{}, errNotFound("resolution not found")
	}
	if err := gate(item, cat); err != nil {
		return ResolutionView{}, err
	}

	f := lifecycle.MaterializeReset(item.Lifecycle(), s.now())
	f, err = apply(f)
	if err != nil {
		return ResolutionView{}, mapLifecycleErr(err)
	}
	item.ApplyLifecycle(f)
	if err := s.store.SaveResolution(ctx, item); err != nil {
		return ResolutionView{}, err
	}
	return s.view(item), nil
}

func mapLifecycleErr(err error) error {
	if errors.Is(err, lifecycle.ErrProgressRange) {
		return errValidation(err.Error())
	}
	return errConflict(err.Error())
}

// ---------------------------------------------------------------------------
// Search

func (s *Service) SearchResolutions(ctx context.Context, viewer Session, section perm.Section, text string) ([]ResolutionView, error) {
	switch section {
	case perm.SectionPrograms, perm.SectionCouncil, perm.SectionWorkgroups:
	default:
		return nil, errValidation("invalid search section")
	}
	if !perm.CanViewSection(viewer.Role, viewer.Permissions, section) {
		return nil, errForbidden()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []ResolutionView{}, nil
	}
	if s.search == nil {
		return nil, errConflict("search is not configured")
	}

	items, err := s.search.Search(ctx, search.Query{Section: section, Text: text, Limit: defaultSearchLimit})
	if err != nil {
		return nil, err
	}

	// Post-filter hits by per-category access; the index only knows the
	// section.
	catCache := make(map[string]*store.Category)
	views := make([]ResolutionView, 0, len(items))
	for _, item := range items {
		cat, ok := catCache[item.ParentID]
		if !ok {
			if found, err := s.store.GetCategory(ctx, item.ParentID); err == nil {
				cat = &found
			} else if !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			catCache[item.ParentID] = cat
		}
		if cat == nil {
			continue
		}
		if !perm.CanViewCategory(viewer.Role, viewer.Permissions, permCategory(*cat)) {
			continue
		}
		if !item.IsApproved && !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(*cat)) {
			continue
		}
		views = append(views, s.view(item))
	}
	return views, nil
}

// ---------------------------------------------------------------------------
// Dashboard

type DashboardTasks struct {
	Pending    []ResolutionView `json:"pending"`
	InProgress []ResolutionView `json:"inProgress"`
	Claimed    []ResolutionView `json:"claimed"`
	Completed  []ResolutionView `json:"completed"`
}

type DashboardStats struct {
	WorkgroupResolutions int `json:"workgroupResolutions"`
	CouncilResolutions   int `json:"councilResolutions"`
	Workgroups           int `json:"workgroups"`
}

type Dashboard struct {
	Tasks     DashboardTasks   `json:"tasks"`
	Reminders []ResolutionView `json:"reminders"`
	Stats     DashboardStats   `json:"stats"`
}

// Dashboard assembles the landing page: the viewer's own tasks bucketed by
// effective state, the subset of those tasks whose reminder window is open
// today, and overall counts. Own tasks match on the session title against
// the executor label, regardless of category grants; only the counts honor
// them. The reminder list ignores completion on purpose: a completed item
// with an open window still surfaces.
func (s *Service) Dashboard(ctx context.Context, viewer Session) (Dashboard, error) {
	items, err := s.store.ListResolutions(ctx, "")
	if err != nil {
		return Dashboard{}, err
	}
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	catByID := make(map[string]store.Category, len(categories))
	for _, cat := range categories {
		catByID[cat.ID] = cat
	}

	now := s.now()
	out := Dashboard{
		Tasks: DashboardTasks{
			Pending:    []ResolutionView{},
			InProgress: []ResolutionView{},
			Claimed:    []ResolutionView{},
			Completed:  []ResolutionView{},
		},
		Reminders: []ResolutionView{},
	}

	for _, item := range items {
		cat, hasCat := catByID[item.ParentID]

		if item.IsApproved && viewer.Title != "" && item.Executor == viewer.Title {
			v := viewAt(item, now)
			switch v.State {
			case lifecycle.StateCompleted:
				out.Tasks.Completed = append(out.Tasks.Completed, v)
			case lifecycle.StateClaimed:
				out.Tasks.Claimed = append(out.Tasks.Claimed, v)
			case lifecycle.StateInProgress:
				out.Tasks.InProgress = append(out.Tasks.InProgress, v)
			default:
				out.Tasks.Pending = append(out.Tasks.Pending, v)
			}
			if v.ReminderActive {
				out.Reminders = append(out.Reminders, v)
			}
		}

		if !item.IsApproved || !hasCat {
			continue
		}
		switch {
		case item.ParentID == store.CouncilRootID, cat.Type == perm.SectionCouncil, item.Workgroup == councilWorkgroupLabel:
			out.Stats.CouncilResolutions++
		case cat.Type == perm.SectionWorkgroups:
			out.Stats.WorkgroupResolutions++
		}
	}

	for _, cat := range categories {
		if cat.Type == perm.SectionWorkgroups && (cat.ParentID == nil || *cat.ParentID == "") {
			out.Stats.Workgroups++
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Workgroup archive documents

func (s *Service) ListWorkgroupPDFs(ctx context.Context, viewer Session, workgroupID string) ([]store.WorkgroupPDF, error) {
	cat, err := s.categoryFor(ctx, workgroupID)
	if err != nil {
		return nil, err
	}
	if !perm.CanViewCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return nil, errForbidden()
	}
	return s.store.ListWorkgroupPDFs(ctx, workgroupID)
}

func (s *Service) SaveWorkgroupPDF(ctx context.Context, viewer Session, pdf store.WorkgroupPDF) (store.WorkgroupPDF, error) {
	if err := s.requireOnline(); err != nil {
		return store.WorkgroupPDF{}, err
	}
	if strings.TrimSpace(pdf.Title) == "" {
		return store.WorkgroupPDF{}, errValidation("title is required")
	}
	if pdf.FileURL == "" {
		return store.WorkgroupPDF{}, errValidation("fileUrl is required")
	}
	cat, err := s.categoryFor(ctx, pdf.WorkgroupID)
	if err != nil {
		return store.WorkgroupPDF{}, err
	}
	if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return store.WorkgroupPDF{}, errForbidden()
	}
	if pdf.ID == "" {
		pdf.ID = util.NewID("pdf")
	}
	if err := s.store.SaveWorkgroupPDF(ctx, pdf); err != nil {
		return store.WorkgroupPDF{}, err
	}
	return pdf, nil
}

func (s *Service) DeleteWorkgroupPDF(ctx context.Context, viewer Session, workgroupID, pdfID string) error {
	if err := s.requireOnline(); err != nil {
		return err
	}
	cat, err := s.categoryFor(ctx, workgroupID)
	if err != nil {
		return err
	}
	if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return errForbidden()
	}
	return s.store.DeleteWorkgroupPDF(ctx, pdfID)
}
