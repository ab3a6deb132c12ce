package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// --- timelines ---

const timelineColumns = `
	id, title, start_at, end_at, orientation, events,
	background_color, background_image, timeline_color, timeline_thickness,
	interval_settings, is_public, owner_id, owner_email, owner_display_name,
	collaborator_roles, created_at, updated_at
`

// InsertTimeline writes a new timeline only while the owner holds fewer than
// maxOwned. The count and the insert happen in one statement so two concurrent
// saves cannot both observe the pre-insert count. Returns false when the cap
// was reached.
func (s *PostgresStore) InsertTimeline(ctx context.Context, t Timeline, maxOwned int) (bool, error) {
	events, backgroundImage, intervals, roles, err := encodeTimeline(t)
	if err != nil {
		return false, err
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO timelines (
			id, title, start_at, end_at, orientation, events,
			background_color, background_image, timeline_color, timeline_thickness,
			interval_settings, is_public, owner_id, owner_email, owner_display_name,
			collaborator_roles
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		WHERE (SELECT COUNT(*) FROM timelines WHERE owner_id = $13) < $17
		RETURNING id
	`,
		t.ID, t.Title, t.StartAt, t.EndAt, t.Orientation, events,
		t.BackgroundColor, backgroundImage, t.TimelineColor, t.TimelineThickness,
		intervals, t.IsPublic, t.OwnerID, t.OwnerEmail, t.OwnerDisplayName,
		roles, maxOwned,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert timeline: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetTimeline(ctx context.Context, timelineID string) (Timeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+timelineColumns+` FROM timelines WHERE id = $1`, timelineID)
	return scanTimeline(row)
}

// UpdateTimeline replaces every client-mutable field. Ownership, creation time
// and collaborator roles are not touched here.
func (s *PostgresStore) UpdateTimeline(ctx context.Context, t Timeline) error {
	events, backgroundImage, intervals, _, err := encodeTimeline(t)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE timelines SET
			title = $2, start_at = $3, end_at = $4, orientation = $5, events = $6,
			background_color = $7, background_image = $8, timeline_color = $9,
			timeline_thickness = $10, interval_settings = $11, is_public = $12,
			updated_at = NOW()
		WHERE id = $1
	`,
		t.ID, t.Title, t.StartAt, t.EndAt, t.Orientation, events,
		t.BackgroundColor, backgroundImage, t.TimelineColor,
		t.TimelineThickness, intervals, t.IsPublic,
	)
	if err != nil {
		return fmt.Errorf("update timeline: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateTimelinePrivacy(ctx context.Context, timelineID string, isPublic bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE timelines SET is_public = $2, updated_at = NOW() WHERE id = $1
	`, timelineID, isPublic)
	if err != nil {
		return fmt.Errorf("update timeline privacy: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateTimelineCollaborators(ctx context.Context, timelineID string, roles map[string]string) error {
	encoded, err := json.Marshal(rolesOrEmpty(roles))
	if err != nil {
		return fmt.Errorf("encode collaborator roles: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE timelines SET collaborator_roles = $2, updated_at = NOW() WHERE id = $1
	`, timelineID, encoded)
	if err != nil {
		return fmt.Errorf("update collaborators: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteTimeline(ctx context.Context, timelineID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM timelines WHERE id = $1`, timelineID)
	if err != nil {
		return fmt.Errorf("delete timeline: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListTimelinesByOwner(ctx context.Context, ownerID string) ([]Timeline, error) {
	return s.listTimelines(ctx, `
		SELECT `+timelineColumns+` FROM timelines
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
}

func (s *PostgresStore) ListPublicTimelines(ctx context.Context, limit int) ([]Timeline, error) {
	return s.listTimelines(ctx, `
		SELECT `+timelineColumns+` FROM timelines
		WHERE is_public
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) ListTimelinesSharedWith(ctx context.Context, email string) ([]Timeline, error) {
	return s.listTimelines(ctx, `
		SELECT `+timelineColumns+` FROM timelines
		WHERE collaborator_roles ? LOWER($1)
		ORDER BY created_at DESC
	`, email)
}

func (s *PostgresStore) listTimelines(ctx context.Context, query string, args ...any) ([]Timeline, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	defer rows.Close()

	items := make([]Timeline, 0)
	for rows.Next() {
		item, err := scanTimeline(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timelines: %w", err)
	}
	return items, nil
}

// --- blob cleanup outbox ---

func (s *PostgresStore) EnqueueBlobCleanup(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blob_cleanup (path) VALUES ($1)
		ON CONFLICT (path) DO NOTHING
	`, path)
	if err != nil {
		return fmt.Errorf("enqueue blob cleanup: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBlobCleanups(ctx context.Context, limit int) ([]BlobCleanup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, attempts, created_at
		FROM blob_cleanup
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list blob cleanups: %w", err)
	}
	defer rows.Close()

	items := make([]BlobCleanup, 0)
	for rows.Next() {
		var item BlobCleanup
		if err := rows.Scan(&item.ID, &item.Path, &item.Attempts, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blob cleanup: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blob cleanups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ResolveBlobCleanup(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blob_cleanup WHERE id = $1`, id); err != nil {
		return fmt.Errorf("resolve blob cleanup: %w", err)
	}
	return nil
}

func (s *PostgresStore) BumpBlobCleanup(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE blob_cleanup SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("bump blob cleanup: %w", err)
	}
	return nil
}

// --- row plumbing ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimeline(row rowScanner) (Timeline, error) {
	var (
		t               Timeline
		events          []byte
		backgroundImage []byte
		intervals       []byte
		roles           []byte
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.StartAt, &t.EndAt, &t.Orientation, &events,
		&t.BackgroundColor, &backgroundImage, &t.TimelineColor, &t.TimelineThickness,
		&intervals, &t.IsPublic, &t.OwnerID, &t.OwnerEmail, &t.OwnerDisplayName,
		&roles, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Timeline{}, err
	}

	if err := json.Unmarshal(events, &t.Events); err != nil {
		return Timeline{}, fmt.Errorf("decode events: %w", err)
	}
	if len(backgroundImage) > 0 {
		var bg BackgroundImage
		if err := json.Unmarshal(backgroundImage, &bg); err != nil {
			return Timeline{}, fmt.Errorf("decode background image: %w", err)
		}
		t.BackgroundImage = &bg
	}
	if err := json.Unmarshal(intervals, &t.Intervals); err != nil {
		return Timeline{}, fmt.Errorf("decode interval settings: %w", err)
	}
	if err := json.Unmarshal(roles, &t.CollaboratorRoles); err != nil {
		return Timeline{}, fmt.Errorf("decode collaborator roles: %w", err)
	}
	return t, nil
}

func encodeTimeline(t Timeline) (events, backgroundImage, intervals, roles []byte, err error) {
	eventList := t.Events
	if eventList == nil {
		eventList = []Event{}
	}
	if events, err = json.Marshal(eventList); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode events: %w", err)
	}
	if t.BackgroundImage != nil {
		if backgroundImage, err = json.Marshal(t.BackgroundImage); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode background image: %w", err)
		}
	}
	if intervals, err = json.Marshal(t.Intervals); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode interval settings: %w", err)
	}
	if roles, err = json.Marshal(rolesOrEmpty(t.CollaboratorRoles)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode collaborator roles: %w", err)
	}
	return events, backgroundImage, intervals, roles, nil
}

func rolesOrEmpty(roles map[string]string) map[string]string {
	if roles == nil {
		return map[string]string{}
	}
	return roles
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
