package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgSearch implements Searcher with ILIKE matching over public timelines,
// used when Meilisearch is unavailable or not configured.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search matches the query against the timeline title, owner name, and each
// event's plain title.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pattern := "%" + escapeLike(text) + "%"
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, owner_display_name
		FROM timelines
		WHERE is_public
			AND (
				title ILIKE $1
				OR owner_display_name ILIKE $1
				OR EXISTS (
					SELECT 1 FROM jsonb_array_elements(events) AS e
					WHERE e->>'plainTitle' ILIKE $1
				)
			)
		ORDER BY created_at DESC
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search timelines: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.OwnerName); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, len(results), nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
