package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/geocrypt/internal/common"
	"github.com/dmitrijs2005/geocrypt/internal/dbx"
	"github.com/dmitrijs2005/geocrypt/internal/server/models"
)

// invalidTextRepresentation is what postgres reports for a malformed uuid.
const invalidTextRepresentation = "22P02"

// PostgresRepository implements file record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts file and sets CreatedAt from the database clock.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, owner_id, filename, storage_key, geo_token, size, content_type, tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.OwnerID, file.Filename, file.StorageKey, file.GeoToken,
		file.Size, file.ContentType, file.Tier).Scan(&file.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `
		SELECT id, owner_id, filename, storage_key, geo_token, size, content_type, tier, created_at
		FROM files WHERE id = $1
	`
	f := &models.File{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.OwnerID, &f.Filename, &f.StorageKey, &f.GeoToken,
		&f.Size, &f.ContentType, &f.Tier, &f.CreatedAt)
	if err != nil {
		if isMissing(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

// ListByOwner returns the owner's records, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.File, error) {
	query := `
		SELECT id, owner_id, filename, storage_key, geo_token, size, content_type, tier, created_at
		FROM files WHERE owner_id = $1
		ORDER BY created_at DESC, id
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	result := []*models.File{}
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.StorageKey, &f.GeoToken,
			&f.Size, &f.ContentType, &f.Tier, &f.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, id string) (string, error) {
	query := `DELETE FROM files WHERE id = $1 AND owner_id = $2 RETURNING storage_key`

	var key string
	if err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(&key); err != nil {
		if isMissing(err) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return key, nil
}

func (r *PostgresRepository) StorageKeyInUse(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM files WHERE storage_key = $1)`

	var inUse bool
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&inUse); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return inUse, nil
}

// isMissing treats an id that cannot be a uuid the same as an absent row.
func isMissing(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
