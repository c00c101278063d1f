package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrHandleTaken         = errors.New("handle already taken")
	ErrEmailTaken          = errors.New("email already registered")
	ErrShortIDTaken        = errors.New("collection short id already in use")
	ErrReferenceNotFound   = errors.New("referenced entity not found")
	ErrInvalidDefaultPage  = errors.New("default page must be an owned page")
	ErrUnsupportedBlock    = errors.New("unsupported block type")
	ErrPayloadKindMismatch = errors.New("payload does not match block type")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, display_name)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, email, password_hash, display_name, created_at, updated_at
	`, user.Email, user.PasswordHash, user.DisplayName).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, created_at, updated_at
		FROM users WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const profileColumns = `
	id, auth_user_id, handle, first_name, last_name, bio, location,
	array_to_json(interests)::text, array_to_json(tags)::text,
	default_page_id, COALESCE(default_page_type, ''), created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var item Profile
	var interestsRaw, tagsRaw string
	var defaultPageType string
	if err := row.Scan(
		&item.ID,
		&item.AuthUserID,
		&item.Handle,
		&item.FirstName,
		&item.LastName,
		&item.Bio,
		&item.Location,
		&interestsRaw,
		&tagsRaw,
		&item.DefaultPageID,
		&defaultPageType,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Profile{}, err
	}
	_ = json.Unmarshal([]byte(interestsRaw), &item.Interests)
	_ = json.Unmarshal([]byte(tagsRaw), &item.Tags)
	item.DefaultPageType = DefaultPageType(defaultPageType)
	return item, nil
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (auth_user_id, handle, first_name, last_name, bio, location, interests, tags)
		VALUES ($1, LOWER($2), $3, $4, $5, $6,
			ARRAY(SELECT jsonb_array_elements_text($7::jsonb)),
			ARRAY(SELECT jsonb_array_elements_text($8::jsonb)))
		RETURNING `+profileColumns,
		profile.AuthUserID, profile.Handle, profile.FirstName, profile.LastName, profile.Bio, profile.Location,
		encodeStrings(profile.Interests), encodeStrings(profile.Tags),
	)
	created, err := scanProfile(row)
	if isUniqueViolation(err) {
		return Profile{}, ErrHandleTaken
	}
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetProfileByHandle(ctx context.Context, handle string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE handle = LOWER($1)`, strings.TrimSpace(handle))
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, profileID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID)
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByUserID(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE auth_user_id = $1`, userID)
	return scanProfile(row)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, profile Profile) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET first_name=$2, last_name=$3, bio=$4, location=$5,
			interests=ARRAY(SELECT jsonb_array_elements_text($6::jsonb)),
			tags=ARRAY(SELECT jsonb_array_elements_text($7::jsonb)),
			updated_at=NOW()
		WHERE id=$1
		RETURNING `+profileColumns,
		profile.ID, profile.FirstName, profile.LastName, profile.Bio, profile.Location,
		encodeStrings(profile.Interests), encodeStrings(profile.Tags),
	)
	updated, err := scanProfile(row)
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

// SetDefaultPage records what the profile's root URL shows. A custom type
// requires pageID to reference a page owned by the profile. When pageID is
// set it also becomes the only page flagged is_default.
func (s *PostgresStore) SetDefaultPage(ctx context.Context, profileID string, pageType DefaultPageType, pageID *string) error {
	if !pageType.Valid() {
		return fmt.Errorf("invalid default page type %q", pageType)
	}
	if pageType == DefaultPageCustom && pageID == nil {
		return ErrInvalidDefaultPage
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if pageID != nil {
			var owned bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM profile_pages WHERE id=$1 AND profile_id=$2)
			`, *pageID, profileID).Scan(&owned); err != nil {
				return fmt.Errorf("check default page: %w", err)
			}
			if !owned {
				return ErrInvalidDefaultPage
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE profile_pages SET is_default = (id = $2), updated_at = NOW()
				WHERE profile_id = $1 AND is_default <> (id = $2)
			`, profileID, *pageID); err != nil {
				return fmt.Errorf("flag default page: %w", err)
			}
		}
		var typeArg any
		if pageType != DefaultPageNone {
			typeArg = string(pageType)
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE profiles SET default_page_type=$2, default_page_id=$3, updated_at=NOW()
			WHERE id=$1
		`, profileID, typeArg, pageID)
		if err != nil {
			return fmt.Errorf("set default page: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func (s *PostgresStore) ListSocialAccounts(ctx context.Context, profileID string) ([]SocialAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, provider, username, url, created_at
		FROM social_accounts
		WHERE profile_id=$1
		ORDER BY provider ASC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list social accounts: %w", err)
	}
	defer rows.Close()

	items := make([]SocialAccount, 0)
	for rows.Next() {
		var item SocialAccount
		if err := rows.Scan(&item.ID, &item.ProfileID, &item.Provider, &item.Username, &item.URL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan social account: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate social accounts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertSocialAccount(ctx context.Context, account SocialAccount) (SocialAccount, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO social_accounts (profile_id, provider, username, url)
		VALUES ($1, LOWER($2), $3, $4)
		ON CONFLICT (profile_id, provider) DO UPDATE SET username=EXCLUDED.username, url=EXCLUDED.url
		RETURNING id, profile_id, provider, username, url, created_at
	`, account.ProfileID, account.Provider, account.Username, account.URL).Scan(
		&account.ID, &account.ProfileID, &account.Provider, &account.Username, &account.URL, &account.CreatedAt,
	)
	if err != nil {
		return SocialAccount{}, fmt.Errorf("upsert social account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) DeleteSocialAccount(ctx context.Context, profileID, accountID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM social_accounts WHERE id=$1 AND profile_id=$2`, accountID, profileID)
	if err != nil {
		return fmt.Errorf("delete social account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
