package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const headline = `'MaxFragments=1,MaxWords=30'`

// subQueries maps each result type to its UNION ALL branch. Every branch
// yields type, id, title, snippet, url, handle, rank.
var subQueries = map[ResultType]string{
	ResultProfile: `
		SELECT 'profile'::text, pr.id::text, TRIM(pr.first_name || ' ' || pr.last_name),
			ts_headline('english', pr.bio, %[1]s, ` + headline + `), ''::text, pr.handle,
			ts_rank(pr.fts, %[1]s) AS rank
		FROM profiles pr
		WHERE pr.fts @@ %[1]s`,
	ResultRcmd: `
		SELECT 'rcmd'::text, r.id::text, r.title,
			ts_headline('english', r.description, %[1]s, ` + headline + `), r.url, pr.handle,
			ts_rank(r.fts, %[1]s) AS rank
		FROM rcmds r JOIN profiles pr ON pr.id = r.owner_id
		WHERE r.fts @@ %[1]s`,
	ResultLink: `
		SELECT 'link'::text, l.id::text, l.title,
			ts_headline('english', l.description, %[1]s, ` + headline + `), l.url, pr.handle,
			ts_rank(l.fts, %[1]s) AS rank
		FROM links l JOIN profiles pr ON pr.id = l.owner_id
		WHERE l.fts @@ %[1]s`,
	ResultCollection: `
		SELECT 'collection'::text, c.id::text, c.name,
			ts_headline('english', c.description, %[1]s, ` + headline + `), ''::text, pr.handle,
			ts_rank(c.fts, %[1]s) AS rank
		FROM collections c JOIN profiles pr ON pr.id = c.owner_id
		WHERE c.fts @@ %[1]s AND c.is_public`,
}

// Search executes a UNION ALL query across the searchable tables using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tsQuery := "plainto_tsquery('english', $1)"
	var parts []string
	for _, rtyp := range indexOrder {
		if q.FilterType != "" && q.FilterType != rtyp {
			continue
		}
		parts = append(parts, fmt.Sprintf(subQueries[rtyp], tsQuery))
	}
	if len(parts) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(parts, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT * FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		var rank float64
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.URL, &r.Handle, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT 'profile', pr.id::text, pr.handle, TRIM(pr.first_name || ' ' || pr.last_name), pr.bio, '', TRUE
		FROM profiles pr
		UNION ALL
		SELECT 'rcmd', r.id::text, pr.handle, r.title, r.description, r.url, TRUE
		FROM rcmds r JOIN profiles pr ON pr.id = r.owner_id
		UNION ALL
		SELECT 'link', l.id::text, pr.handle, l.title, l.description, l.url, TRUE
		FROM links l JOIN profiles pr ON pr.id = l.owner_id
		UNION ALL
		SELECT 'collection', c.id::text, pr.handle, c.name, c.description, '', c.is_public
		FROM collections c JOIN profiles pr ON pr.id = c.owner_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load search records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Handle, &r.Title, &r.Body, &r.URL, &r.Public); err != nil {
			return nil, fmt.Errorf("scan search record: %w", err)
		}
		r.Type = ResultType(typ)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search records: %w", err)
	}
	return records, nil
}
