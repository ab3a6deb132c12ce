// Package media coordinates upload, reuse and deletion of event images
// against a blob store. Exactly one live blob per event is the invariant the
// reconcile pass exists to keep.
package media

import (
	"context"
	"fmt"
	"log"
	"time"
)

// MaxAttachmentBytes caps a single uploaded image at 5 MiB.
const MaxAttachmentBytes = 5 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Attachment is a raw client-submitted image.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Incoming is one event's media input on a save or update.
type Incoming struct {
	EventID string
	// Attachment is a fresh upload; ExternalURL is an already-public address
	// the client handed over instead of bytes. At most one is set.
	Attachment  *Attachment
	ExternalURL string
	// Fields the client echoed back from a previous reconcile.
	ImageURL    string
	StoragePath string
	FileName    string
}

// Resolved is the final media state for one event.
type Resolved struct {
	HasImage    bool
	ImageURL    string
	StoragePath string
	FileName    string
}

// BlobStore is the external blob collaborator. Delete is idempotent; deleting
// a path that does not exist must not return an error.
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, path string) error
}

// CleanupQueue records blob paths whose delete failed so a janitor can retry.
type CleanupQueue interface {
	EnqueueBlobCleanup(ctx context.Context, path string) error
}

// Scope identifies whose timeline a reconcile runs for.
type Scope struct {
	OwnerID    string
	TimelineID string
	IsUpdate   bool
}

type Manager struct {
	blobs   BlobStore
	cleanup CleanupQueue
}

// NewManager creates a media manager. cleanup may be nil, in which case failed
// deletes are only logged.
func NewManager(blobs BlobStore, cleanup CleanupQueue) *Manager {
	return &Manager{blobs: blobs, cleanup: cleanup}
}

// Reconcile resolves each event's media relative to its prior stored state,
// keyed by event id. Upload and validation failures downgrade to "no image"
// for that event alone; blob deletes are best-effort and never abort the pass.
func (m *Manager) Reconcile(ctx context.Context, incoming []Incoming, prior map[string]Resolved, scope Scope) []Resolved {
	resolved := make([]Resolved, len(incoming))
	for i, event := range incoming {
		resolved[i] = m.reconcileOne(ctx, event, prior[event.EventID], scope)
	}
	return resolved
}

func (m *Manager) reconcileOne(ctx context.Context, event Incoming, prior Resolved, scope Scope) Resolved {
	switch {
	case event.Attachment != nil && event.ImageURL != "" && event.StoragePath != "":
		// The client re-submitted an event whose attachment was already
		// processed. Keep the resolved fields; no new blob.
		return Resolved{
			HasImage:    true,
			ImageURL:    event.ImageURL,
			StoragePath: event.StoragePath,
			FileName:    event.FileName,
		}

	case event.Attachment != nil:
		return m.upload(ctx, event, prior, scope)

	case event.ExternalURL != "":
		// Unmanaged image: never uploaded by us, never deleted by us.
		return Resolved{HasImage: true, ImageURL: event.ExternalURL}

	case event.ImageURL == "" && prior.HasImage:
		if scope.IsUpdate && prior.StoragePath != "" {
			m.deleteBlob(ctx, prior.StoragePath)
		}
		return Resolved{}

	default:
		// No media change for this event.
		return Resolved{
			HasImage:    event.ImageURL != "",
			ImageURL:    event.ImageURL,
			StoragePath: event.StoragePath,
			FileName:    event.FileName,
		}
	}
}

func (m *Manager) upload(ctx context.Context, event Incoming, prior Resolved, scope Scope) Resolved {
	ext, err := validateAttachment(event.Attachment)
	if err != nil {
		log.Printf("media: dropping attachment for event %s: %v", event.EventID, err)
		return Resolved{}
	}

	objectPath := objectPath(scope, event.EventID, ext)
	url, err := m.blobs.Put(ctx, objectPath, event.Attachment.ContentType, event.Attachment.Data)
	if err != nil {
		log.Printf("media: upload failed for event %s: %v", event.EventID, err)
		return Resolved{}
	}

	if scope.IsUpdate && prior.StoragePath != "" && prior.StoragePath != objectPath {
		m.deleteBlob(ctx, prior.StoragePath)
	}

	return Resolved{
		HasImage:    true,
		ImageURL:    url,
		StoragePath: objectPath,
		FileName:    event.Attachment.FileName,
	}
}

// DeleteAll best-effort-deletes every managed blob of a timeline's events,
// used when the timeline itself is destroyed.
func (m *Manager) DeleteAll(ctx context.Context, paths []string) {
	for _, path := range paths {
		if path != "" {
			m.deleteBlob(ctx, path)
		}
	}
}

// deleteBlob removes an old blob. Losing a stale blob must never block saving
// new data, so failures are logged and handed to the cleanup queue.
func (m *Manager) deleteBlob(ctx context.Context, path string) {
	err := m.blobs.Delete(ctx, path)
	if err == nil {
		return
	}
	log.Printf("media: delete %s failed, queueing for retry: %v", path, err)
	if m.cleanup == nil {
		return
	}
	if err := m.cleanup.EnqueueBlobCleanup(ctx, path); err != nil {
		log.Printf("media: enqueue cleanup %s: %v", path, err)
	}
}

func validateAttachment(a *Attachment) (ext string, err error) {
	ext, ok := allowedContentTypes[a.ContentType]
	if !ok {
		return "", fmt.Errorf("unsupported content type %q", a.ContentType)
	}
	if len(a.Data) == 0 {
		return "", fmt.Errorf("empty attachment")
	}
	if len(a.Data) > MaxAttachmentBytes {
		return "", fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentBytes)
	}
	return ext, nil
}

func objectPath(scope Scope, eventID, ext string) string {
	millis := time.Now().UnixMilli()
	timelineID := scope.TimelineID
	if timelineID == "" {
		timelineID = fmt.Sprintf("temp_%d", millis)
	}
	return fmt.Sprintf("users/%s/timelines/%s/events/%s_%d.%s", scope.OwnerID, timelineID, eventID, millis, ext)
}
