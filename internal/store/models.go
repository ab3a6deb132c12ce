package store

import (
	"sort"
	"time"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BackgroundImage is the tagged form of a timeline's background: either a plain
// stored path or an external URL with a CSS filter string applied on render.
type BackgroundImage struct {
	Kind    string `json:"kind"` // "plain" | "filtered"
	Path    string `json:"path,omitempty"`
	URL     string `json:"url,omitempty"`
	Filters string `json:"filters,omitempty"`
}

const (
	BackgroundPlain    = "plain"
	BackgroundFiltered = "filtered"
)

type IntervalSettings struct {
	Show  bool   `json:"show"`
	Count int    `json:"count"`
	Type  string `json:"type"`
}

// Event is embedded in its timeline's events column. It has no row of its own;
// its id exists so media state can be matched across saves.
type Event struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	PlainTitle       string    `json:"plainTitle"`
	Description      string    `json:"description"`
	Date             time.Time `json:"date"`
	XOffset          float64   `json:"xOffset"`
	YOffset          float64   `json:"yOffset"`
	Offset           float64   `json:"offset"`
	Size             string    `json:"size"`
	Color            string    `json:"color"`
	HasImage         bool      `json:"hasImage"`
	ImageURL         string    `json:"imageUrl,omitempty"`
	ImageStoragePath string    `json:"imageStoragePath,omitempty"`
	ImageFileName    string    `json:"imageFileName,omitempty"`
}

type Timeline struct {
	ID                string
	Title             string
	StartAt           time.Time
	EndAt             time.Time
	Orientation       string
	Events            []Event
	BackgroundColor   string
	BackgroundImage   *BackgroundImage
	TimelineColor     string
	TimelineThickness int
	Intervals         IntervalSettings
	IsPublic          bool
	OwnerID           string
	OwnerEmail        string
	OwnerDisplayName  string
	// CollaboratorRoles maps normalized lowercase email to "viewer" or "editor".
	// The member set is its key set; the two cannot drift apart.
	CollaboratorRoles map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Collaborators returns the member emails in stable order.
func (t Timeline) Collaborators() []string {
	emails := make([]string, 0, len(t.CollaboratorRoles))
	for email := range t.CollaboratorRoles {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

// BlobCleanup is one pending delete in the blob-cleanup outbox.
type BlobCleanup struct {
	ID        int64
	Path      string
	Attempts  int
	CreatedAt time.Time
}
