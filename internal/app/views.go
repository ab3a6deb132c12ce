package app

import (
	"sort"
	"time"

	"timelines/api/internal/access"
	"timelines/api/internal/store"
)

// AttachmentDraft is a raw image submitted with an event, base64 on the wire.
type AttachmentDraft struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type EventDraft struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	XOffset     float64   `json:"xOffset"`
	YOffset     float64   `json:"yOffset"`
	Offset      float64   `json:"offset"`
	Size        string    `json:"size"`
	Color       string    `json:"color"`
	// Attachment carries fresh bytes; AttachmentURL hands over an
	// already-public image address instead.
	Attachment    *AttachmentDraft `json:"attachment,omitempty"`
	AttachmentURL string           `json:"attachmentUrl,omitempty"`
	// Echoed back by clients re-submitting an already processed event.
	ImageURL         string `json:"imageUrl,omitempty"`
	ImageStoragePath string `json:"imageStoragePath,omitempty"`
	ImageFileName    string `json:"imageFileName,omitempty"`
}

type TimelineDraft struct {
	Title             string                 `json:"title"`
	Start             time.Time              `json:"start"`
	End               time.Time              `json:"end"`
	Orientation       string                 `json:"orientation"`
	Events            []EventDraft           `json:"events"`
	BackgroundColor   string                 `json:"backgroundColor,omitempty"`
	BackgroundImage   *store.BackgroundImage `json:"backgroundImage,omitempty"`
	TimelineColor     string                 `json:"timelineColor"`
	TimelineThickness int                    `json:"timelineThickness"`
	Intervals         store.IntervalSettings `json:"intervalSettings"`
	IsPublic          bool                   `json:"isPublic"`
}

// TimelineView is what load and list operations return: the stored record
// denormalized for the requester.
type TimelineView struct {
	ID                string                 `json:"id"`
	Title             string                 `json:"title"`
	Start             time.Time              `json:"start"`
	End               time.Time              `json:"end"`
	Orientation       string                 `json:"orientation"`
	Events            []store.Event          `json:"events"`
	BackgroundColor   string                 `json:"backgroundColor,omitempty"`
	BackgroundImage   *store.BackgroundImage `json:"backgroundImage,omitempty"`
	TimelineColor     string                 `json:"timelineColor"`
	TimelineThickness int                    `json:"timelineThickness"`
	Intervals         store.IntervalSettings `json:"intervalSettings"`
	IsPublic          bool                   `json:"isPublic"`
	OwnerID           string                 `json:"ownerId"`
	OwnerEmail        string                 `json:"ownerEmail"`
	OwnerDisplayName  string                 `json:"ownerDisplayName"`
	Collaborators     []string               `json:"collaborators"`
	CollaboratorRoles map[string]string      `json:"collaboratorRoles"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	// Requester-relative fields.
	IsOwner          bool   `json:"isOwner"`
	IsCollaborator   bool   `json:"isCollaborator"`
	CollaboratorRole string `json:"collaboratorRole,omitempty"`
	CanEdit          bool   `json:"canEdit"`
}

// CanEdit reports whether a requester may mutate an already-loaded timeline.
// Pure; no store access.
func CanEdit(view TimelineView, userID, email string) bool {
	role := access.Eval(view.OwnerID, view.CollaboratorRoles, userID, email)
	return access.CanWrite(role)
}

func buildView(t store.Timeline, userID, email string) TimelineView {
	role := access.Eval(t.OwnerID, t.CollaboratorRoles, userID, email)
	collaboratorRole := ""
	if role == access.RoleViewer || role == access.RoleEditor {
		collaboratorRole = string(role)
	}

	events := t.Events
	if events == nil {
		events = []store.Event{}
	}

	return TimelineView{
		ID:                t.ID,
		Title:             t.Title,
		Start:             t.StartAt,
		End:               t.EndAt,
		Orientation:       t.Orientation,
		Events:            events,
		BackgroundColor:   t.BackgroundColor,
		BackgroundImage:   t.BackgroundImage,
		TimelineColor:     t.TimelineColor,
		TimelineThickness: t.TimelineThickness,
		Intervals:         t.Intervals,
		IsPublic:          t.IsPublic,
		OwnerID:           t.OwnerID,
		OwnerEmail:        t.OwnerEmail,
		OwnerDisplayName:  t.OwnerDisplayName,
		Collaborators:     t.Collaborators(),
		CollaboratorRoles: rolesView(t.CollaboratorRoles),
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		IsOwner:           role == access.RoleOwner,
		IsCollaborator:    collaboratorRole != "",
		CollaboratorRole:  collaboratorRole,
		CanEdit:           access.CanWrite(role),
	}
}

func buildViews(items []store.Timeline, session Session) []TimelineView {
	views := make([]TimelineView, len(items))
	for i, item := range items {
		views[i] = buildView(item, session.UserID, session.Email)
	}
	return views
}

func rolesView(roles map[string]string) map[string]string {
	if roles == nil {
		return map[string]string{}
	}
	return roles
}

func collaboratorList(roles map[string]string) []Collaborator {
	list := make([]Collaborator, 0, len(roles))
	for _, email := range sortedEmails(roles) {
		list = append(list, Collaborator{Email: email, Role: roles[email]})
	}
	return list
}

func sortedEmails(roles map[string]string) []string {
	emails := make([]string, 0, len(roles))
	for email := range roles {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

func validateDraft(draft *TimelineDraft) error {
	switch draft.Orientation {
	case "":
		draft.Orientation = "horizontal"
	case "horizontal", "vertical":
	default:
		return errValidation("orientation must be horizontal or vertical")
	}

	if !draft.Start.IsZero() && !draft.End.IsZero() && draft.End.Before(draft.Start) {
		return errValidation("end must not precede start")
	}

	if draft.TimelineColor == "" {
		draft.TimelineColor = "#007bff"
	}
	if draft.TimelineThickness == 0 {
		draft.TimelineThickness = 2
	}
	if draft.TimelineThickness < 0 {
		return errValidation("timelineThickness must be positive")
	}

	if draft.BackgroundImage != nil {
		switch draft.BackgroundImage.Kind {
		case store.BackgroundPlain, store.BackgroundFiltered:
		default:
			return errValidation("backgroundImage.kind must be plain or filtered")
		}
	}

	for i := range draft.Events {
		event := &draft.Events[i]
		switch event.Size {
		case "":
			event.Size = "medium"
		case "small", "medium", "large":
		default:
			return errValidation("event size must be small, medium, or large")
		}
		if event.Color == "" {
			event.Color = "default"
		}
	}
	return nil
}
