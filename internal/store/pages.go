package store

import (
	"context"
	"database/sql"
	"fmt"
)

const pageColumns = `id, profile_id, name, slug, is_default, created_at, updated_at`

func scanPage(row rowScanner) (Page, error) {
	var item Page
	err := row.Scan(&item.ID, &item.ProfileID, &item.Name, &item.Slug, &item.IsDefault, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListPages(ctx context.Context, profileID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM profile_pages
		WHERE profile_id=$1
		ORDER BY created_at ASC, id ASC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM profile_pages WHERE id=$1`, pageID))
}

func (s *PostgresStore) GetPageBySlug(ctx context.Context, profileID, slug string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+` FROM profile_pages WHERE profile_id=$1 AND slug=$2
	`, profileID, slug))
}

func (s *PostgresStore) CountPages(ctx context.Context, profileID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profile_pages WHERE profile_id=$1`, profileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return count, nil
}

// InsertPage creates a page through insert_profile_page, which suffixes the
// slug when the profile already uses it.
func (s *PostgresStore) InsertPage(ctx context.Context, profileID, name, slug string) (Page, error) {
	var pageID string
	if err := s.db.QueryRowContext(ctx, `SELECT insert_profile_page($1, $2, $3)`, profileID, name, slug).Scan(&pageID); err != nil {
		return Page{}, fmt.Errorf("insert page: %w", err)
	}
	return s.GetPage(ctx, pageID)
}

// RenamePage renames an owned page and regenerates its slug. The page id is
// unchanged so anything pointing at it keeps resolving.
func (s *PostgresStore) RenamePage(ctx context.Context, profileID, pageID, name, slug string) (Page, error) {
	var owned bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM profile_pages WHERE id=$1 AND profile_id=$2)
	`, pageID, profileID).Scan(&owned); err != nil {
		return Page{}, fmt.Errorf("check page owner: %w", err)
	}
	if !owned {
		return Page{}, sql.ErrNoRows
	}
	var finalSlug sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT rename_profile_page($1, $2, $3)`, pageID, name, slug).Scan(&finalSlug); err != nil {
		return Page{}, fmt.Errorf("rename page: %w", err)
	}
	if !finalSlug.Valid {
		return Page{}, sql.ErrNoRows
	}
	return s.GetPage(ctx, pageID)
}

// DeletePage removes an owned page. Its blocks go with it through the
// profile_blocks foreign key, and a custom default pointing at it is cleared.
func (s *PostgresStore) DeletePage(ctx context.Context, profileID, pageID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM profile_pages WHERE id=$1 AND profile_id=$2`, pageID, profileID)
		if err != nil {
			return fmt.Errorf("delete page: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles SET default_page_type=NULL, updated_at=NOW()
			WHERE id=$1 AND default_page_type='custom' AND default_page_id IS NULL
		`, profileID); err != nil {
			return fmt.Errorf("clear default page: %w", err)
		}
		return nil
	})
}
