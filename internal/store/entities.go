package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const rcmdColumns = `id, owner_id, title, description, url, image_url, type, created_at`

func scanRcmd(row rowScanner) (Rcmd, error) {
	var item Rcmd
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.URL, &item.ImageURL, &item.Type, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListRcmds(ctx context.Context, ownerID string) ([]Rcmd, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rcmdColumns+` FROM rcmds WHERE owner_id=$1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list rcmds: %w", err)
	}
	defer rows.Close()

	items := make([]Rcmd, 0)
	for rows.Next() {
		item, err := scanRcmd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rcmd: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetRcmd(ctx context.Context, rcmdID string) (Rcmd, error) {
	return scanRcmd(s.db.QueryRowContext(ctx, `SELECT `+rcmdColumns+` FROM rcmds WHERE id=$1`, rcmdID))
}

func (s *PostgresStore) CreateRcmd(ctx context.Context, item Rcmd) (Rcmd, error) {
	if item.Type == "" {
		item.Type = "other"
	}
	created, err := scanRcmd(s.db.QueryRowContext(ctx, `
		INSERT INTO rcmds (owner_id, title, description, url, image_url, type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+rcmdColumns,
		item.OwnerID, item.Title, item.Description, item.URL, item.ImageURL, item.Type,
	))
	if err != nil {
		return Rcmd{}, fmt.Errorf("insert rcmd: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateRcmd(ctx context.Context, item Rcmd) (Rcmd, error) {
	updated, err := scanRcmd(s.db.QueryRowContext(ctx, `
		UPDATE rcmds SET title=$3, description=$4, url=$5, image_url=$6, type=$7, updated_at=NOW()
		WHERE id=$1 AND owner_id=$2
		RETURNING `+rcmdColumns,
		item.ID, item.OwnerID, item.Title, item.Description, item.URL, item.ImageURL, item.Type,
	))
	if err == sql.ErrNoRows {
		return Rcmd{}, err
	}
	if err != nil {
		return Rcmd{}, fmt.Errorf("update rcmd: %w", err)
	}
	return updated, nil
}

// DeleteRcmd removes an owned rcmd. Blocks and collection items that point at
// it cascade; affected pages are compacted afterwards.
func (s *PostgresStore) DeleteRcmd(ctx context.Context, ownerID, rcmdID string) error {
	return s.deleteShared(ctx, `rcmds`, `rcmd_blocks`, `rcmd_id`, ownerID, rcmdID)
}

const linkColumns = `id, owner_id, title, url, description, favicon_url, created_at`

func scanLink(row rowScanner) (Link, error) {
	var item Link
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.URL, &item.Description, &item.FaviconURL, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListLinks(ctx context.Context, ownerID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE owner_id=$1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	items := make([]Link, 0)
	for rows.Next() {
		item, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetLink(ctx context.Context, linkID string) (Link, error) {
	return scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id=$1`, linkID))
}

func (s *PostgresStore) CreateLink(ctx context.Context, item Link) (Link, error) {
	created, err := scanLink(s.db.QueryRowContext(ctx, `
		INSERT INTO links (owner_id, title, url, description, favicon_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+linkColumns,
		item.OwnerID, item.Title, item.URL, item.Description, item.FaviconURL,
	))
	if err != nil {
		return Link{}, fmt.Errorf("insert link: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateLink(ctx context.Context, item Link) (Link, error) {
	updated, err := scanLink(s.db.QueryRowContext(ctx, `
		UPDATE links SET title=$3, url=$4, description=$5, favicon_url=$6, updated_at=NOW()
		WHERE id=$1 AND owner_id=$2
		RETURNING `+linkColumns,
		item.ID, item.OwnerID, item.Title, item.URL, item.Description, item.FaviconURL,
	))
	if err == sql.ErrNoRows {
		return Link{}, err
	}
	if err != nil {
		return Link{}, fmt.Errorf("update link: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteLink(ctx context.Context, ownerID, linkID string) error {
	return s.deleteShared(ctx, `links`, `link_blocks`, `link_id`, ownerID, linkID)
}

const collectionColumns = `id, owner_id, short_id, name, description, is_public, created_at`

func scanCollection(row rowScanner) (Collection, error) {
	var item Collection
	err := row.Scan(&item.ID, &item.OwnerID, &item.ShortID, &item.Name, &item.Description, &item.IsPublic, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListCollections(ctx context.Context, ownerID string, publicOnly bool) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+collectionColumns+` FROM collections
		WHERE owner_id=$1 AND (NOT $2 OR is_public)
		ORDER BY created_at DESC
	`, ownerID, publicOnly)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	items := make([]Collection, 0)
	for rows.Next() {
		item, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCollection(ctx context.Context, collectionID string) (Collection, error) {
	return scanCollection(s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id=$1`, collectionID))
}

func (s *PostgresStore) GetCollectionByShortID(ctx context.Context, ownerID, shortID string) (Collection, error) {
	return scanCollection(s.db.QueryRowContext(ctx, `
		SELECT `+collectionColumns+` FROM collections WHERE owner_id=$1 AND short_id=$2
	`, ownerID, shortID))
}

func (s *PostgresStore) CreateCollection(ctx context.Context, item Collection) (Collection, error) {
	created, err := scanCollection(s.db.QueryRowContext(ctx, `
		INSERT INTO collections (owner_id, short_id, name, description, is_public)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+collectionColumns,
		item.OwnerID, item.ShortID, item.Name, item.Description, item.IsPublic,
	))
	if isUniqueViolation(err) {
		return Collection{}, ErrShortIDTaken
	}
	if err != nil {
		return Collection{}, fmt.Errorf("insert collection: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateCollection(ctx context.Context, item Collection) (Collection, error) {
	updated, err := scanCollection(s.db.QueryRowContext(ctx, `
		UPDATE collections SET name=$3, description=$4, is_public=$5, updated_at=NOW()
		WHERE id=$1 AND owner_id=$2
		RETURNING `+collectionColumns,
		item.ID, item.OwnerID, item.Name, item.Description, item.IsPublic,
	))
	if err == sql.ErrNoRows {
		return Collection{}, err
	}
	if err != nil {
		return Collection{}, fmt.Errorf("update collection: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteCollection(ctx context.Context, ownerID, collectionID string) error {
	return s.deleteShared(ctx, `collections`, `collection_blocks`, `collection_id`, ownerID, collectionID)
}

// deleteShared deletes a shared entity and the placements that reference it,
// then compacts every page that lost a block.
func (s *PostgresStore) deleteShared(ctx context.Context, table, refTable, refColumn, ownerID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			DELETE FROM profile_blocks pb
			USING %s ref
			WHERE ref.profile_block_id = pb.id AND ref.%s = $1 AND pb.profile_id = $2
			RETURNING pb.page_id
		`, refTable, refColumn), id, ownerID)
		if err != nil {
			return fmt.Errorf("delete %s placements: %w", table, err)
		}
		pages := make(map[string]struct{})
		for rows.Next() {
			var pageID string
			if err := rows.Scan(&pageID); err != nil {
				rows.Close()
				return fmt.Errorf("scan page id: %w", err)
			}
			pages[pageID] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND owner_id=$2`, table), id, ownerID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		for pageID := range pages {
			if _, err := tx.ExecContext(ctx, `SELECT compact_profile_blocks($1)`, pageID); err != nil {
				return fmt.Errorf("compact blocks: %w", err)
			}
		}
		return nil
	})
}

// AddCollectionItem appends an rcmd or link to a collection. Both must belong
// to ownerID.
func (s *PostgresStore) AddCollectionItem(ctx context.Context, ownerID, collectionID, itemType, itemID string) (CollectionItem, error) {
	var item CollectionItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var owned bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM collections WHERE id=$1 AND owner_id=$2)
		`, collectionID, ownerID).Scan(&owned); err != nil {
			return fmt.Errorf("check collection owner: %w", err)
		}
		if !owned {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `SELECT 1 FROM collections WHERE id=$1 FOR UPDATE`, collectionID); err != nil {
			return fmt.Errorf("lock collection: %w", err)
		}

		ref := NewBlock{ProfileID: ownerID, Type: itemType}
		var rcmdID, linkID any
		switch itemType {
		case "rcmd":
			ref.RcmdID, rcmdID = itemID, itemID
		case "link":
			ref.LinkID, linkID = itemID, itemID
		default:
			return ErrUnsupportedBlock
		}
		if err := checkReference(ctx, tx, ref); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO collection_items (collection_id, item_type, rcmd_id, link_id, order_index)
			VALUES ($1, $2, $3, $4,
				(SELECT COALESCE(MAX(order_index), -1) + 1 FROM collection_items WHERE collection_id = $1))
			RETURNING id, collection_id, item_type, order_index
		`, collectionID, itemType, rcmdID, linkID).Scan(&item.ID, &item.CollectionID, &item.ItemType, &item.OrderIndex); err != nil {
			return fmt.Errorf("insert collection item: %w", err)
		}
		return nil
	})
	return item, err
}

func (s *PostgresStore) RemoveCollectionItem(ctx context.Context, ownerID, collectionID, itemID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM collection_items ci
		USING collections c
		WHERE ci.id=$1 AND ci.collection_id=$2 AND c.id=ci.collection_id AND c.owner_id=$3
	`, itemID, collectionID, ownerID)
	if err != nil {
		return fmt.Errorf("delete collection item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListCollectionItems loads the items of several collections at once with
// their referenced rcmd or link, keyed by collection id and sorted by
// order_index.
func (s *PostgresStore) ListCollectionItems(ctx context.Context, collectionIDs []string) (map[string][]CollectionItem, error) {
	out := make(map[string][]CollectionItem, len(collectionIDs))
	if len(collectionIDs) == 0 {
		return out, nil
	}
	encoded, err := json.Marshal(collectionIDs)
	if err != nil {
		return nil, fmt.Errorf("encode collection ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.id, ci.collection_id, ci.item_type, ci.order_index,
			r.id, r.owner_id, r.title, r.description, r.url, r.image_url, r.type, r.created_at,
			l.id, l.owner_id, l.title, l.url, l.description, l.favicon_url, l.created_at
		FROM collection_items ci
		LEFT JOIN rcmds r ON r.id = ci.rcmd_id
		LEFT JOIN links l ON l.id = ci.link_id
		WHERE ci.collection_id::text IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY ci.collection_id, ci.order_index ASC, ci.created_at ASC
	`, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("list collection items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item CollectionItem
		var (
			rcmdID, rcmdOwner, rcmdTitle, rcmdDescription, rcmdURL, rcmdImage, rcmdType sql.NullString
			rcmdCreated                                                                 sql.NullTime
			linkID, linkOwner, linkTitle, linkURL, linkDescription, linkFavicon         sql.NullString
			linkCreated                                                                 sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.CollectionID, &item.ItemType, &item.OrderIndex,
			&rcmdID, &rcmdOwner, &rcmdTitle, &rcmdDescription, &rcmdURL, &rcmdImage, &rcmdType, &rcmdCreated,
			&linkID, &linkOwner, &linkTitle, &linkURL, &linkDescription, &linkFavicon, &linkCreated,
		); err != nil {
			return nil, fmt.Errorf("scan collection item: %w", err)
		}
		if rcmdID.Valid {
			item.Rcmd = &Rcmd{ID: rcmdID.String, OwnerID: rcmdOwner.String, Title: rcmdTitle.String,
				Description: rcmdDescription.String, URL: rcmdURL.String, ImageURL: rcmdImage.String,
				Type: rcmdType.String, CreatedAt: rcmdCreated.Time}
		}
		if linkID.Valid {
			item.Link = &Link{ID: linkID.String, OwnerID: linkOwner.String, Title: linkTitle.String,
				URL: linkURL.String, Description: linkDescription.String, FaviconURL: linkFavicon.String,
				CreatedAt: linkCreated.Time}
		}
		out[item.CollectionID] = append(out[item.CollectionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collection items: %w", err)
	}
	return out, nil
}
