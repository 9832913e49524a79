package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It reads the generated search_vector column on stories.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a ranked tsquery over the owner's stories with ts_headline
// snippets from the description.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "s.owner_id = $2 AND s.search_vector @@ plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OwnerID}
	if q.FilterStatus != "" {
		args = append(args, q.FilterStatus)
		where += fmt.Sprintf(" AND s.status = $%d", len(args))
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM stories s WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT s.id, s.title,
			ts_headline('english', coalesce(s.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			s.status, s.priority
		FROM stories s
		WHERE %s
		ORDER BY ts_rank(s.search_vector, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.Priority); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every story in indexable form, for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]StoryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), status, priority, owner_id
		FROM stories
	`)
	if err != nil {
		return nil, fmt.Errorf("load stories: %w", err)
	}
	defer rows.Close()

	records := make([]StoryRecord, 0)
	for rows.Next() {
		var rec StoryRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Status, &rec.Priority, &rec.OwnerID); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return records, nil
}
