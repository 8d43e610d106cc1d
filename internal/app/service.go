package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tadbir/api/internal/auth"
	"tadbir/api/internal/config"
	"tadbir/api/internal/perm"
	"tadbir/api/internal/search"
	"tadbir/api/internal/store"
	"tadbir/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	FullName     string
	Title        string
	Role         perm.Role
	Permissions  perm.Permissions
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	ListUsers(context.Context) ([]store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveUser(context.Context, store.User) error
	UpdateUserPermissions(context.Context, string, perm.Permissions, string, perm.Role) error
	ListCategories(context.Context) ([]store.Category, error)
	GetCategory(context.Context, string) (store.Category, error)
	SaveCategory(context.Context, store.Category) error
	DeleteCategory(context.Context, string) error
	ListResolutions(context.Context, string) ([]store.Resolution, error)
	GetResolution(context.Context, string) (store.Resolution, error)
	SaveResolution(context.Context, store.Resolution) error
	DeleteResolution(context.Context, string) error
	ListWorkgroupPDFs(context.Context, string) ([]store.WorkgroupPDF, error)
	SaveWorkgroupPDF(context.Context, store.WorkgroupPDF) error
	DeleteWorkgroupPDF(context.Context, string) error
	ListCustomTitles(context.Context) ([]store.CustomTitle, error)
	SaveCustomTitle(context.Context, string) (store.CustomTitle, error)
	UpdateCustomTitle(context.Context, int64, string) error
	DeleteCustomTitle(context.Context, int64) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type searchService interface {
	Search(context.Context, search.Query) ([]store.Resolution, error)
	IndexResolution(search.Record)
	DeleteResolution(string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searchService
	conn     *Connectivity
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, conn *Connectivity) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		conn:     conn,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Online() bool {
	return s.conn == nil || s.conn.Online()
}

// RetryConnect re-runs the startup probe; the manual "retry connecting"
// action.
func (s *Service) RetryConnect(ctx context.Context) bool {
	if s.conn == nil {
		return true
	}
	return s.conn.Probe(ctx)
}

// requireOnline refuses writes while degraded. Reads stay available so cached
// pages keep rendering.
func (s *Service) requireOnline() error {
	if !s.Online() {
		return errOffline()
	}
	return nil
}

// Bootstrap seeds the synthetic category roots and the initial admin account.
func (s *Service) Bootstrap(ctx context.Context) error {
	roots := []store.Category{
		{ID: store.ProgramsRootID, Name: "ریشه برنامه‌ها", Type: perm.SectionPrograms},
		{ID: store.CouncilRootID, Name: "ریشه مصوبات شورا", Type: perm.SectionCouncil},
	}
	for _, root := range roots {
		if _, err := s.store.GetCategory(ctx, root.ID); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := s.store.SaveCategory(ctx, root); err != nil {
			return err
		}
	}

	if _, err := s.store.GetUserByUsername(ctx, s.cfg.AdminUsername); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := store.User{
		ID:           util.NewID("usr"),
		Username:     s.cfg.AdminUsername,
		PasswordHash: string(hash),
		FullName:     s.cfg.AdminFullName,
		Title:        s.cfg.AdminTitle,
		Role:         perm.RoleAdmin,
		IsActive:     true,
	}
	return s.store.SaveUser(ctx, admin)
}

// ---------------------------------------------------------------------------
// Auth

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, errValidation("username and password are required")
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, domainError(401, "UNAUTHORIZED", "Invalid username or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, domainError(401, "UNAUTHORIZED", "Account is disabled", nil)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "Invalid username or password", nil)
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	partial, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	// Re-read the user so permission changes apply on the next cycle.
	user, err := s.store.GetUserByID(ctx, partial.ID)
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if !user.IsActive {
		return Session{}, domainError(401, "UNAUTHORIZED", "Account is disabled", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.FullName,
		Title: user.Title,
		Role:  string(user.Role),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		FullName:     user.FullName,
		Title:        user.Title,
		Role:         user.Role,
		Permissions:  user.Permissions,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Username:    user.Username,
		FullName:    user.FullName,
		Title:       user.Title,
		Role:        user.Role,
		Permissions: user.Permissions,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users (admin management view)

func (s *Service) ListUsers(ctx context.Context, viewer Session) ([]store.User, error) {
	if viewer.Role != perm.RoleAdmin {
		return nil, errForbidden()
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

type SaveUserInput struct {
	ID          string           `json:"id"`
	Username    string           `json:"username"`
	Password    string           `json:"password"`
	FullName    string           `json:"fullName"`
	Phone       string           `json:"phone"`
	Title       string           `json:"title"`
	Role        string           `json:"role"`
	IsActive    bool             `json:"isActive"`
	Permissions perm.Permissions `json:"permissions"`
}

func (s *Service) SaveUser(ctx context.Context, viewer Session, input SaveUserInput) (store.User, error) {
	if viewer.Role != perm.RoleAdmin {
		return store.User{}, errForbidden()
	}
	if err := s.requireOnline(); err != nil {
		return store.User{}, err
	}
	if strings.TrimSpace(input.Username) == "" {
		return store.User{}, errValidation("username is required")
	}

	user := store.User{
		ID:          input.ID,
		Username:    strings.TrimSpace(input.Username),
		FullName:    input.FullName,
		Phone:       input.Phone,
		Title:       input.Title,
		Role:        perm.Normalize(input.Role),
		IsActive:    input.IsActive,
		Permissions: input.Permissions,
	}
	if user.ID == "" {
		user.ID = util.NewID("usr")
		if input.Password == "" {
			return store.User{}, errValidation("password is required for a new user")
		}
	}

	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return store.User{}, err
		}
		user.PasswordHash = string(hash)
	} else {
		existing, err := s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return store.User{}, err
		}
		user.PasswordHash = existing.PasswordHash
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, errDuplicate("a user with this username already exists")
		}
		return store.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) UpdateUserPermissions(ctx context.Context, viewer Session, userID string, perms perm.Permissions, title, role string) error {
	if viewer.Role != perm.RoleAdmin {
		return errForbidden()
	}
	if err := s.requireOnline(); err != nil {
		return err
	}
	err := s.store.UpdateUserPermissions(ctx, userID, perms, title, perm.Normalize(role))
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("user not found")
	}
	return err
}

// ---------------------------------------------------------------------------
// Custom titles

func (s *Service) ListCustomTitles(ctx context.Context) ([]store.CustomTitle, error) {
	return s.store.ListCustomTitles(ctx)
}

func (s *Service) SaveCustomTitle(ctx context.Context, viewer Session, title string) (store.CustomTitle, error) {
	if viewer.Role != perm.RoleAdmin {
		return store.CustomTitle{}, errForbidden()
	}
	if err := s.requireOnline(); err != nil {
		return store.CustomTitle{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.CustomTitle{}, errValidation("title is required")
	}
	item, err := s.store.SaveCustomTitle(ctx, title)
	if errors.Is(err, store.ErrDuplicate) {
		return store.CustomTitle{}, errDuplicate("this title already exists")
	}
	return item, err
}

func (s *Service) UpdateCustomTitle(ctx context.Context, viewer Session, id int64, newTitle string) error {
	if viewer.Role != perm.RoleAdmin {
		return errForbidden()
	}
	if err := s.requireOnline(); err != nil {
		return err
	}
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return errValidation("title is required")
	}
	err := s.store.UpdateCustomTitle(ctx, id, newTitle)
	if errors.Is(err, store.ErrDuplicate) {
		return errDuplicate("this title already exists")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("title not found")
	}
	return err
}

func (s *Service) DeleteCustomTitle(ctx context.Context, viewer Session, id int64) error {
	if viewer.Role != perm.RoleAdmin {
		return errForbidden()
	}
	if err := s.requireOnline(); err != nil {
		return err
	}
	return s.store.DeleteCustomTitle(ctx, id)
}

// ---------------------------------------------------------------------------
// Categories

// ListCategories returns the categories whose section the viewer may
// enumerate. Enumeration is the weaker tier: seeing a workgroup's name here
// does not imply its resolutions can be opened.
func (s *Service) ListCategories(ctx context.Context, viewer Session) ([]store.Category, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]store.Category, 0, len(categories))
	for _, cat := range categories {
		if perm.CanEnumerate(viewer.Role, viewer.Permissions, cat.Type) {
			visible = append(visible, cat)
		}
	}
	return visible, nil
}

func (s *Service) SaveCategory(ctx context.Context, viewer Session, cat store.Category) (store.Category, error) {
	if err := s.requireOnline(); err != nil {
		return store.Category{}, err
	}
	if strings.TrimSpace(cat.Name) == "" {
		return store.Category{}, errValidation("category name is required")
	}
	switch cat.Type {
	case perm.SectionPrograms, perm.SectionCouncil, perm.SectionWorkgroups:
	default:
		return store.Category{}, errValidation("invalid category type")
	}
	if store.IsRootCategory(cat.ID) {
		return store.Category{}, errConflict("root categories cannot be modified")
	}

	if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return store.Category{}, errForbidden()
	}

	if cat.ID == "" {
		cat.ID = util.NewID("cat")
	}
	if err := s.store.SaveCategory(ctx, cat); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Category{}, errDuplicate("a category with this name already exists")
		}
		return store.Category{}, err
	}
	return cat, nil
}

// DeleteCategory removes a category node. The synthetic roots are silently
// kept. Resolutions under the node are orphaned, not deleted; they disappear
// from browsing because nothing reachable points at them.
func (s *Service) DeleteCategory(ctx context.Context, viewer Session, categoryID string) error {
	if err := s.requireOnline(); err != nil {
		return err
	}
	if store.IsRootCategory(categoryID) {
		return nil
	}
	cat, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("category not found")
	}
	if err != nil {
		return err
	}
	if !perm.CanEditCategory(viewer.Role, viewer.Permissions, permCategory(cat)) {
		return errForbidden()
	}
	return s.store.DeleteCategory(ctx, categoryID)
}

// permCategory maps a stored category onto the permission model's view.
// A top-level workgroup is checked against the section-level edit grant by
// treating it as its own root.
func permCategory(cat store.Category) perm.Category {
	return perm.Category{ID: cat.ID, ParentID: cat.ParentID, Type: cat.Type}
}
