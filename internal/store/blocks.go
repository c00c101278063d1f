package store

import (
	"context"
	"database/sql"
	"fmt"
)

const blockSelect = `
	SELECT pb.id, pb.profile_id, pb.page_id, pb.type, pb.display_order, pb.created_at, pb.updated_at,
		tb.text,
		ib.image_url, COALESCE(ib.width, 0), COALESCE(ib.height, 0), COALESCE(ib.caption, ''),
		l.id, l.owner_id, l.title, l.url, l.description, l.favicon_url, l.created_at,
		r.id, r.owner_id, r.title, r.description, r.url, r.image_url, r.type, r.created_at,
		c.id, c.owner_id, c.short_id, c.name, c.description, c.is_public, c.created_at
	FROM profile_blocks pb
	JOIN profile_pages pp ON pp.id = pb.page_id
	LEFT JOIN text_blocks tb ON tb.profile_block_id = pb.id
	LEFT JOIN image_blocks ib ON ib.profile_block_id = pb.id
	LEFT JOIN link_blocks lb ON lb.profile_block_id = pb.id
	LEFT JOIN links l ON l.id = lb.link_id
	LEFT JOIN rcmd_blocks rb ON rb.profile_block_id = pb.id
	LEFT JOIN rcmds r ON r.id = rb.rcmd_id
	LEFT JOIN collection_blocks cb ON cb.profile_block_id = pb.id
	LEFT JOIN collections c ON c.id = cb.collection_id
`

func scanBlockRow(row rowScanner) (BlockRow, error) {
	var item BlockRow
	var text, imageURL sql.NullString
	var (
		linkID, linkOwner, linkTitle, linkURL, linkDescription, linkFavicon sql.NullString
		linkCreated                                                          sql.NullTime
		rcmdID, rcmdOwner, rcmdTitle, rcmdDescription, rcmdURL, rcmdImage    sql.NullString
		rcmdType                                                             sql.NullString
		rcmdCreated                                                          sql.NullTime
		collID, collOwner, collShortID, collName, collDescription            sql.NullString
		collPublic                                                           sql.NullBool
		collCreated                                                          sql.NullTime
	)
	if err := row.Scan(
		&item.ID, &item.ProfileID, &item.PageID, &item.Type, &item.DisplayOrder, &item.CreatedAt, &item.UpdatedAt,
		&text,
		&imageURL, &item.ImageWidth, &item.ImageHeight, &item.ImageCaption,
		&linkID, &linkOwner, &linkTitle, &linkURL, &linkDescription, &linkFavicon, &linkCreated,
		&rcmdID, &rcmdOwner, &rcmdTitle, &rcmdDescription, &rcmdURL, &rcmdImage, &rcmdType, &rcmdCreated,
		&collID, &collOwner, &collShortID, &collName, &collDescription, &collPublic, &collCreated,
	); err != nil {
		return BlockRow{}, err
	}
	if text.Valid {
		item.Text = &text.String
	}
	if imageURL.Valid {
		item.ImageURL = &imageURL.String
	}
	if linkID.Valid {
		item.Link = &Link{
			ID:          linkID.String,
			OwnerID:     linkOwner.String,
			Title:       linkTitle.String,
			URL:         linkURL.String,
			Description: linkDescription.String,
			FaviconURL:  linkFavicon.String,
			CreatedAt:   linkCreated.Time,
		}
	}
	if rcmdID.Valid {
		item.Rcmd = &Rcmd{
			ID:          rcmdID.String,
			OwnerID:     rcmdOwner.String,
			Title:       rcmdTitle.String,
			Description: rcmdDescription.String,
			URL:         rcmdURL.String,
			ImageURL:    rcmdImage.String,
			Type:        rcmdType.String,
			CreatedAt:   rcmdCreated.Time,
		}
	}
	if collID.Valid {
		item.Collection = &Collection{
			ID:          collID.String,
			OwnerID:     collOwner.String,
			ShortID:     collShortID.String,
			Name:        collName.String,
			Description: collDescription.String,
			IsPublic:    collPublic.Bool,
			CreatedAt:   collCreated.Time,
		}
	}
	return item, nil
}

func (s *PostgresStore) queryBlocks(ctx context.Context, query string, args ...any) ([]BlockRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]BlockRow, 0)
	for rows.Next() {
		item, err := scanBlockRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return items, nil
}

// ListPageBlocks returns a page's blocks in display order.
func (s *PostgresStore) ListPageBlocks(ctx context.Context, pageID string) ([]BlockRow, error) {
	return s.queryBlocks(ctx, blockSelect+`
		WHERE pb.page_id = $1
		ORDER BY pb.display_order ASC, pb.created_at ASC
	`, pageID)
}

// ListBlocksByType aggregates a profile's blocks of one type across all of
// its pages, ordered by page creation then display order.
func (s *PostgresStore) ListBlocksByType(ctx context.Context, profileID, blockType string) ([]BlockRow, error) {
	return s.queryBlocks(ctx, blockSelect+`
		WHERE pb.profile_id = $1 AND pb.type = $2
		ORDER BY pp.created_at ASC, pb.display_order ASC, pb.created_at ASC
	`, profileID, blockType)
}

func (s *PostgresStore) GetBlock(ctx context.Context, blockID string) (BlockRow, error) {
	return scanBlockRow(s.db.QueryRowContext(ctx, blockSelect+` WHERE pb.id = $1`, blockID))
}

// CountBlocksByPage returns the number of blocks on each of a profile's pages.
func (s *PostgresStore) CountBlocksByPage(ctx context.Context, profileID string) (map[string]int, error) {
	return s.countBlocks(ctx, `
		SELECT page_id::text, COUNT(*) FROM profile_blocks WHERE profile_id=$1 GROUP BY page_id
	`, profileID)
}

// CountBlocksByType returns the number of blocks of each type for a profile.
func (s *PostgresStore) CountBlocksByType(ctx context.Context, profileID string) (map[string]int, error) {
	return s.countBlocks(ctx, `
		SELECT type, COUNT(*) FROM profile_blocks WHERE profile_id=$1 GROUP BY type
	`, profileID)
}

func (s *PostgresStore) countBlocks(ctx context.Context, query, profileID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("count blocks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan block count: %w", err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block counts: %w", err)
	}
	return counts, nil
}

// InsertBlock writes the placement and its payload in one transaction and
// appends the block to the end of its page. Referenced entities must exist
// and belong to the same profile.
func (s *PostgresStore) InsertBlock(ctx context.Context, block NewBlock) (string, error) {
	var blockID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var pageOwned bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM profile_pages WHERE id=$1 AND profile_id=$2)
		`, block.PageID, block.ProfileID).Scan(&pageOwned); err != nil {
			return fmt.Errorf("check page owner: %w", err)
		}
		if !pageOwned {
			return sql.ErrNoRows
		}
		// serialise appends per page so two inserts never share an order
		if _, err := tx.ExecContext(ctx, `SELECT 1 FROM profile_pages WHERE id=$1 FOR UPDATE`, block.PageID); err != nil {
			return fmt.Errorf("lock page: %w", err)
		}

		if err := checkReference(ctx, tx, block); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO profile_blocks (profile_id, page_id, type, display_order)
			VALUES ($1, $2, $3, (SELECT COALESCE(MAX(display_order), 0) + 1 FROM profile_blocks WHERE page_id = $2))
			RETURNING id
		`, block.ProfileID, block.PageID, block.Type).Scan(&blockID); err != nil {
			return fmt.Errorf("insert block: %w", err)
		}

		return insertPayload(ctx, tx, blockID, block)
	})
	if err != nil {
		return "", err
	}
	return blockID, nil
}

func checkReference(ctx context.Context, tx *sql.Tx, block NewBlock) error {
	var query, refID string
	switch block.Type {
	case "link":
		query, refID = `SELECT EXISTS(SELECT 1 FROM links WHERE id=$1 AND owner_id=$2)`, block.LinkID
	case "rcmd":
		query, refID = `SELECT EXISTS(SELECT 1 FROM rcmds WHERE id=$1 AND owner_id=$2)`, block.RcmdID
	case "collection":
		query, refID = `SELECT EXISTS(SELECT 1 FROM collections WHERE id=$1 AND owner_id=$2)`, block.CollectionID
	default:
		return nil
	}
	if refID == "" {
		return ErrReferenceNotFound
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, query, refID, block.ProfileID).Scan(&exists); err != nil {
		return fmt.Errorf("check %s reference: %w", block.Type, err)
	}
	if !exists {
		return ErrReferenceNotFound
	}
	return nil
}

func insertPayload(ctx context.Context, tx *sql.Tx, blockID string, block NewBlock) error {
	var err error
	switch block.Type {
	case "text":
		if block.Text == nil {
			return ErrPayloadKindMismatch
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO text_blocks (profile_block_id, text) VALUES ($1, $2)`, blockID, *block.Text)
	case "image":
		if block.Image == nil {
			return ErrPayloadKindMismatch
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO image_blocks (profile_block_id, image_url, width, height, caption)
			VALUES ($1, $2, $3, $4, $5)
		`, blockID, block.Image.URL, block.Image.Width, block.Image.Height, block.Image.Caption)
	case "link":
		_, err = tx.ExecContext(ctx, `INSERT INTO link_blocks (profile_block_id, link_id) VALUES ($1, $2)`, blockID, block.LinkID)
	case "rcmd":
		_, err = tx.ExecContext(ctx, `INSERT INTO rcmd_blocks (profile_block_id, rcmd_id) VALUES ($1, $2)`, blockID, block.RcmdID)
	case "collection":
		_, err = tx.ExecContext(ctx, `INSERT INTO collection_blocks (profile_block_id, collection_id) VALUES ($1, $2)`, blockID, block.CollectionID)
	default:
		return ErrUnsupportedBlock
	}
	if err != nil {
		return fmt.Errorf("insert %s payload: %w", block.Type, err)
	}
	return nil
}

// DeleteBlock removes a placement owned by the profile and compacts the rest
// of its page. Owned payload rows cascade with it; shared entities stay.
func (s *PostgresStore) DeleteBlock(ctx context.Context, profileID, blockID string) (string, error) {
	var pageID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			SELECT page_id FROM profile_blocks WHERE id=$1 AND profile_id=$2 FOR UPDATE
		`, blockID, profileID).Scan(&pageID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profile_blocks WHERE id=$1`, blockID); err != nil {
			return fmt.Errorf("delete block: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `SELECT compact_profile_blocks($1)`, pageID); err != nil {
			return fmt.Errorf("compact blocks: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return pageID, nil
}

// UpdateBlockPayload changes only the payload table of an owned block.
// display_order and the placement row are never written.
func (s *PostgresStore) UpdateBlockPayload(ctx context.Context, profileID, blockID string, patch PayloadPatch) (string, error) {
	var pageID, blockType string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			SELECT page_id, type FROM profile_blocks WHERE id=$1 AND profile_id=$2
		`, blockID, profileID).Scan(&pageID, &blockType); err != nil {
			return err
		}
		switch blockType {
		case "text":
			if patch.Text == nil {
				return ErrPayloadKindMismatch
			}
			return execPayload(ctx, tx, `UPDATE text_blocks SET text=$2, updated_at=NOW() WHERE profile_block_id=$1`, blockID, *patch.Text)
		case "image":
			if patch.ImageURL == nil && patch.ImageWidth == nil && patch.ImageHeight == nil && patch.ImageCaption == nil {
				return ErrPayloadKindMismatch
			}
			return execPayload(ctx, tx, `
				UPDATE image_blocks
				SET image_url=COALESCE($2, image_url), width=COALESCE($3, width),
					height=COALESCE($4, height), caption=COALESCE($5, caption), updated_at=NOW()
				WHERE profile_block_id=$1
			`, blockID, patch.ImageURL, patch.ImageWidth, patch.ImageHeight, patch.ImageCaption)
		case "link", "rcmd", "collection":
			ref := NewBlock{ProfileID: profileID, Type: blockType}
			var table, column string
			switch blockType {
			case "link":
				if patch.LinkID == nil {
					return ErrPayloadKindMismatch
				}
				ref.LinkID, table, column = *patch.LinkID, "link_blocks", "link_id"
			case "rcmd":
				if patch.RcmdID == nil {
					return ErrPayloadKindMismatch
				}
				ref.RcmdID, table, column = *patch.RcmdID, "rcmd_blocks", "rcmd_id"
			default:
				if patch.CollectionID == nil {
					return ErrPayloadKindMismatch
				}
				ref.CollectionID, table, column = *patch.CollectionID, "collection_blocks", "collection_id"
			}
			if err := checkReference(ctx, tx, ref); err != nil {
				return err
			}
			return execPayload(ctx, tx,
				fmt.Sprintf(`UPDATE %s SET %s=$2, updated_at=NOW() WHERE profile_block_id=$1`, table, column),
				blockID, firstSet(ref.LinkID, ref.RcmdID, ref.CollectionID))
		default:
			return ErrUnsupportedBlock
		}
	})
	if err != nil {
		return "", err
	}
	return pageID, nil
}

func execPayload(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func firstSet(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// ReorderBlock calls reorder_profile_blocks, which moves the block to
// newOrder (1-based) and renumbers its page densely in a single statement.
func (s *PostgresStore) ReorderBlock(ctx context.Context, profileID, blockID string, newOrder int) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `SELECT reorder_profile_blocks($1, $2, $3)`, profileID, blockID, newOrder).Scan(&ok); err != nil {
		return false, fmt.Errorf("reorder blocks: %w", err)
	}
	return ok, nil
}
