package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"timelines/api/internal/access"
	"timelines/api/internal/auth"
	"timelines/api/internal/authpw"
	"timelines/api/internal/config"
	"timelines/api/internal/linkify"
	"timelines/api/internal/media"
	"timelines/api/internal/search"
	"timelines/api/internal/store"
	"timelines/api/internal/util"
)

// MaxOwnedTimelines caps how many timelines one account can own.
const MaxOwnedTimelines = 10

const (
	defaultPublicListLimit = 10
	maxPublicListLimit     = 50
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertTimeline(context.Context, store.Timeline, int) (bool, error)
	GetTimeline(context.Context, string) (store.Timeline, error)
	UpdateTimeline(context.Context, store.Timeline) error
	UpdateTimelinePrivacy(context.Context, string, bool) error
	UpdateTimelineCollaborators(context.Context, string, map[string]string) error
	DeleteTimeline(context.Context, string) error
	ListTimelinesByOwner(context.Context, string) ([]store.Timeline, error)
	ListPublicTimelines(context.Context, int) ([]store.Timeline, error)
	ListTimelinesSharedWith(context.Context, string) ([]store.Timeline, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type mediaManager interface {
	Reconcile(ctx context.Context, incoming []media.Incoming, prior map[string]media.Resolved, scope media.Scope) []media.Resolved
	DeleteAll(ctx context.Context, paths []string)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexTimeline(rec search.TimelineRecord)
	RemoveTimeline(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	media    mediaManager
	search   searchIndex
	accounts *authpw.Service
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, mediaManager mediaManager, searchService searchIndex, accounts *authpw.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		media:    mediaManager,
		search:   searchService,
		accounts: accounts,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- identity ---

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.accounts.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Re-read the account: rotation picks up profile changes, and a deleted
	// account cannot keep refreshing.
	fresh, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, fresh)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		UserID:      claims.Sub,
		Email:       claims.Email,
		DisplayName: claims.Name,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// --- timeline operations ---

// Save creates a new timeline owned by the session user. The quota check and
// the insert run as one conditional statement in the store.
func (s *Service) Save(ctx context.Context, session Session, draft TimelineDraft) (*TimelineView, error) {
	if session.UserID == "" {
		return nil, errAuthRequired()
	}
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}

	timelineID := util.NewID("tl")
	assignEventIDs(draft.Events)

	resolved := s.media.Reconcile(ctx, draftMedia(draft.Events), nil, media.Scope{
		OwnerID:    session.UserID,
		TimelineID: timelineID,
		IsUpdate:   false,
	})

	record := assembleTimeline(timelineID, session, draft, resolved)
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	ok, err := s.store.InsertTimeline(ctx, record, MaxOwnedTimelines)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The insert lost to the quota; any blobs uploaded above are now
		// orphans, so hand them to cleanup.
		s.media.DeleteAll(ctx, managedPaths(record.Events))
		return nil, errQuotaExceeded(MaxOwnedTimelines)
	}

	s.indexIfPublic(record)
	view := buildView(record, session.UserID, session.Email)
	return &view, nil
}

// Update replaces a timeline's content. Only the owner may flip visibility; a
// non-owner's isPublic field is ignored.
func (s *Service) Update(ctx context.Context, session Session, timelineID string, draft TimelineDraft) (*TimelineView, error) {
	if session.UserID == "" {
		return nil, errAuthRequired()
	}
	existing, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return nil, err
	}
	role := access.Eval(existing.OwnerID, existing.CollaboratorRoles, session.UserID, session.Email)
	if !access.CanWrite(role) {
		return nil, errForbidden()
	}
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}
	if role != access.RoleOwner {
		draft.IsPublic = existing.IsPublic
	}

	assignEventIDs(draft.Events)
	prior := priorMedia(existing.Events)

	resolved := s.media.Reconcile(ctx, draftMedia(draft.Events), prior, media.Scope{
		OwnerID:    existing.OwnerID,
		TimelineID: existing.ID,
		IsUpdate:   true,
	})

	record := assembleTimeline(existing.ID, session, draft, resolved)
	record.OwnerID = existing.OwnerID
	record.OwnerEmail = existing.OwnerEmail
	record.OwnerDisplayName = existing.OwnerDisplayName
	record.CollaboratorRoles = existing.CollaboratorRoles
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now()

	// Events dropped from the list take their managed blobs with them.
	s.media.DeleteAll(ctx, orphanedPaths(existing.Events, record.Events))

	if err := s.store.UpdateTimeline(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound()
		}
		return nil, err
	}

	if record.IsPublic {
		s.indexIfPublic(record)
	} else if existing.IsPublic {
		s.search.RemoveTimeline(record.ID)
	}

	view := buildView(record, session.UserID, session.Email)
	return &view, nil
}

// Load returns a timeline view for the requester. Public timelines are
// readable by anyone, including anonymous requesters.
func (s *Service) Load(ctx context.Context, session Session, timelineID string) (*TimelineView, error) {
	t, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return nil, err
	}
	role := access.Eval(t.OwnerID, t.CollaboratorRoles, session.UserID, session.Email)
	if !access.CanRead(t.IsPublic, role) {
		return nil, errPrivateTimeline()
	}
	view := buildView(t, session.UserID, session.Email)
	return &view, nil
}

// List returns the session user's own timelines, newest first.
func (s *Service) List(ctx context.Context, session Session) ([]TimelineView, error) {
	if session.UserID == "" {
		return nil, errAuthRequired()
	}
	items, err := s.store.ListTimelinesByOwner(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return buildViews(items, session), nil
}

// ListPublic returns public timelines, newest first, bounded.
func (s *Service) ListPublic(ctx context.Context, session Session, limit int) ([]TimelineView, error) {
	if limit <= 0 {
		limit = defaultPublicListLimit
	}
	if limit > maxPublicListLimit {
		limit = maxPublicListLimit
	}
	items, err := s.store.ListPublicTimelines(ctx, limit)
	if err != nil {
		return nil, err
	}
	return buildViews(items, session), nil
}

// ListShared returns timelines where the session user is a collaborator.
func (s *Service) ListShared(ctx context.Context, session Session) ([]TimelineView, error) {
	if session.UserID == "" {
		return nil, errAuthRequired()
	}
	items, err := s.store.ListTimelinesSharedWith(ctx, session.Email)
	if err != nil {
		return nil, err
	}
	return buildViews(items, session), nil
}

// SearchPublic searches public timelines by title and owner name.
func (s *Service) SearchPublic(q string, limit int) search.Response {
	return s.search.Search(search.Query{Text: q, Limit: limit})
}

// Delete destroys a timeline and best-effort-deletes its managed blobs. Blob
// failures never prevent record deletion.
func (s *Service) Delete(ctx context.Context, session Session, timelineID string) error {
	if session.UserID == "" {
		return errAuthRequired()
	}
	t, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return err
	}
	role := access.Eval(t.OwnerID, t.CollaboratorRoles, session.UserID, session.Email)
	if role != access.RoleOwner {
		return errForbidden()
	}

	s.media.DeleteAll(ctx, managedPaths(t.Events))

	if err := s.store.DeleteTimeline(ctx, timelineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound()
		}
		return err
	}
	s.search.RemoveTimeline(timelineID)
	return nil
}

// UpdatePrivacy toggles a timeline's public flag. Owner only.
func (s *Service) UpdatePrivacy(ctx context.Context, session Session, timelineID string, isPublic bool) error {
	t, err := s.requireOwner(ctx, session, timelineID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateTimelinePrivacy(ctx, timelineID, isPublic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound()
		}
		return err
	}
	if isPublic {
		t.IsPublic = true
		s.indexIfPublic(t)
	} else {
		s.search.RemoveTimeline(timelineID)
	}
	return nil
}

// --- collaborators ---

type Collaborator struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AddCollaborator grants a role to an email. Owner only; duplicates rejected.
func (s *Service) AddCollaborator(ctx context.Context, session Session, timelineID, email, role string) ([]Collaborator, error) {
	t, err := s.requireOwner(ctx, session, timelineID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = string(access.RoleViewer)
	}
	if !access.CollaboratorRole(role) {
		return nil, errValidation("role must be viewer or editor")
	}
	normalized, err := collaboratorEmail(email)
	if err != nil {
		return nil, err
	}
	if _, exists := t.CollaboratorRoles[normalized]; exists {
		return nil, errValidation("already a collaborator")
	}

	roles := copyRoles(t.CollaboratorRoles)
	roles[normalized] = role
	if err := s.store.UpdateTimelineCollaborators(ctx, timelineID, roles); err != nil {
		return nil, err
	}
	return collaboratorList(roles), nil
}

// RemoveCollaborator revokes membership. Removing a non-member is a no-op.
func (s *Service) RemoveCollaborator(ctx context.Context, session Session, timelineID, email string) ([]Collaborator, error) {
	t, err := s.requireOwner(ctx, session, timelineID)
	if err != nil {
		return nil, err
	}
	normalized := access.NormalizeEmail(email)
	if _, exists := t.CollaboratorRoles[normalized]; !exists {
		return collaboratorList(t.CollaboratorRoles), nil
	}

	roles := copyRoles(t.CollaboratorRoles)
	delete(roles, normalized)
	if err := s.store.UpdateTimelineCollaborators(ctx, timelineID, roles); err != nil {
		return nil, err
	}
	return collaboratorList(roles), nil
}

// UpdateCollaboratorRole changes an existing member's role. Owner only.
func (s *Service) UpdateCollaboratorRole(ctx context.Context, session Session, timelineID, email, role string) ([]Collaborator, error) {
	t, err := s.requireOwner(ctx, session, timelineID)
	if err != nil {
		return nil, err
	}
	if !access.CollaboratorRole(role) {
		return nil, errValidation("role must be viewer or editor")
	}
	normalized := access.NormalizeEmail(email)
	if _, exists := t.CollaboratorRoles[normalized]; !exists {
		return nil, errValidation("not a collaborator")
	}

	roles := copyRoles(t.CollaboratorRoles)
	roles[normalized] = role
	if err := s.store.UpdateTimelineCollaborators(ctx, timelineID, roles); err != nil {
		return nil, err
	}
	return collaboratorList(roles), nil
}

// ListCollaborators is visible to the owner and to existing collaborators.
func (s *Service) ListCollaborators(ctx context.Context, session Session, timelineID string) ([]Collaborator, error) {
	if session.UserID == "" {
		return nil, errAuthRequired()
	}
	t, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return nil, err
	}
	role := access.Eval(t.OwnerID, t.CollaboratorRoles, session.UserID, session.Email)
	if role == access.RoleNone {
		return nil, errForbidden()
	}
	return collaboratorList(t.CollaboratorRoles), nil
}

// --- helpers ---

func (s *Service) loadTimeline(ctx context.Context, timelineID string) (store.Timeline, error) {
	t, err := s.store.GetTimeline(ctx, timelineID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Timeline{}, errNotFound()
	}
	if err != nil {
		return store.Timeline{}, err
	}
	return t, nil
}

func (s *Service) requireOwner(ctx context.Context, session Session, timelineID string) (store.Timeline, error) {
	if session.UserID == "" {
		return store.Timeline{}, errAuthRequired()
	}
	t, err := s.loadTimeline(ctx, timelineID)
	if err != nil {
		return store.Timeline{}, err
	}
	role := access.Eval(t.OwnerID, t.CollaboratorRoles, session.UserID, session.Email)
	if !access.CanManageCollaborators(role) {
		return store.Timeline{}, errForbidden()
	}
	return t, nil
}

func (s *Service) indexIfPublic(t store.Timeline) {
	if !t.IsPublic {
		return
	}
	titles := make([]string, 0, len(t.Events))
	for _, event := range t.Events {
		if event.PlainTitle != "" {
			titles = append(titles, event.PlainTitle)
		}
	}
	s.search.IndexTimeline(search.TimelineRecord{
		ID:          t.ID,
		Title:       t.Title,
		OwnerName:   t.OwnerDisplayName,
		EventTitles: titles,
		CreatedAt:   t.CreatedAt.Unix(),
	})
}

func assignEventIDs(events []EventDraft) {
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = util.NewID("ev")
		}
	}
}

func draftMedia(events []EventDraft) []media.Incoming {
	incoming := make([]media.Incoming, len(events))
	for i, event := range events {
		var attachment *media.Attachment
		if event.Attachment != nil {
			attachment = &media.Attachment{
				FileName:    event.Attachment.FileName,
				ContentType: event.Attachment.ContentType,
				Data:        event.Attachment.Data,
			}
		}
		incoming[i] = media.Incoming{
			EventID:     event.ID,
			Attachment:  attachment,
			ExternalURL: event.AttachmentURL,
			ImageURL:    event.ImageURL,
			StoragePath: event.ImageStoragePath,
			FileName:    event.ImageFileName,
		}
	}
	return incoming
}

func priorMedia(events []store.Event) map[string]media.Resolved {
	prior := make(map[string]media.Resolved, len(events))
	for _, event := range events {
		prior[event.ID] = media.Resolved{
			HasImage:    event.HasImage,
			ImageURL:    event.ImageURL,
			StoragePath: event.ImageStoragePath,
			FileName:    event.ImageFileName,
		}
	}
	return prior
}

func managedPaths(events []store.Event) []string {
	var paths []string
	for _, event := range events {
		if event.ImageStoragePath != "" {
			paths = append(paths, event.ImageStoragePath)
		}
	}
	return paths
}

// orphanedPaths returns managed blob paths of events that no longer appear in
// the updated list.
func orphanedPaths(before, after []store.Event) []string {
	kept := make(map[string]struct{}, len(after))
	for _, event := range after {
		kept[event.ID] = struct{}{}
	}
	var paths []string
	for _, event := range before {
		if _, ok := kept[event.ID]; ok {
			continue
		}
		if event.ImageStoragePath != "" {
			paths = append(paths, event.ImageStoragePath)
		}
	}
	return paths
}

func assembleTimeline(timelineID string, session Session, draft TimelineDraft, resolved []media.Resolved) store.Timeline {
	events := make([]store.Event, len(draft.Events))
	for i, d := range draft.Events {
		title := linkify.Linkify(d.Title)
		events[i] = store.Event{
			ID:               d.ID,
			Title:            title,
			PlainTitle:       linkify.PlainText(title),
			Description:      linkify.Linkify(d.Description),
			Date:             d.Date,
			XOffset:          d.XOffset,
			YOffset:          d.YOffset,
			Offset:           d.Offset,
			Size:             d.Size,
			Color:            d.Color,
			HasImage:         resolved[i].HasImage,
			ImageURL:         resolved[i].ImageURL,
			ImageStoragePath: resolved[i].StoragePath,
			ImageFileName:    resolved[i].FileName,
		}
	}

	return store.Timeline{
		ID:                timelineID,
		Title:             draft.Title,
		StartAt:           draft.Start,
		EndAt:             draft.End,
		Orientation:       draft.Orientation,
		Events:            events,
		BackgroundColor:   draft.BackgroundColor,
		BackgroundImage:   draft.BackgroundImage,
		TimelineColor:     draft.TimelineColor,
		TimelineThickness: draft.TimelineThickness,
		Intervals:         draft.Intervals,
		IsPublic:          draft.IsPublic,
		OwnerID:           session.UserID,
		OwnerEmail:        access.NormalizeEmail(session.Email),
		OwnerDisplayName:  session.DisplayName,
		CollaboratorRoles: map[string]string{},
	}
}

func copyRoles(roles map[string]string) map[string]string {
	copied := make(map[string]string, len(roles))
	for email, role := range roles {
		copied[email] = role
	}
	return copied
}

func collaboratorEmail(email string) (string, error) {
	normalized := access.NormalizeEmail(email)
	if normalized == "" || !validEmail(normalized) {
		return "", errValidation("invalid email address")
	}
	return normalized, nil
}

func validEmail(email string) bool {
	at := -1
	for i, r := range email {
		if r == '@' {
			if at >= 0 {
				return false
			}
			at = i
		}
	}
	return at > 0 && at < len(email)-1
}
