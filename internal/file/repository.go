package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radif/filestore/internal/storage"
)

// MetadataStore is the durable record of every uploaded file.
type MetadataStore interface {
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	FindByUniqueKey(ctx context.Context, key string) (*Record, error)
	FindByDeleted(ctx context.Context, deleted bool) ([]*Record, error)
}

// ErrRecordNotFound is returned by a MetadataStore when no row matches.
var ErrRecordNotFound = errors.New("file record not found")

// ErrDuplicateKey is returned when a unique key already belongs to another record.
var ErrDuplicateKey = errors.New("duplicate unique key")

const recordColumns = `id, name, extension, size, content_type, visibility, tenant_id, module,
	storage_mode, state, location_path, bucket, unique_key, etag,
	deleted, deleted_at, created_at, updated_at`

// Repository handles all file metadata database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a provisional record and fills CreatedAt/UpdatedAt from the database.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO files (id, name, extension, size, content_type, visibility, tenant_id, module,
		                    storage_mode, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		rec.ID, rec.Name, rec.Extension, rec.Size, rec.ContentType, rec.Visibility, rec.TenantID, rec.Module,
		rec.StorageMode, rec.State,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

// Update persists the mutable fields of rec: placement, state and deletion.
func (r *Repository) Update(ctx context.Context, rec *Record) error {
	err := r.db.QueryRow(ctx,
		`UPDATE files
		 SET storage_mode = $2, state = $3, location_path = $4, bucket = $5, unique_key = $6, etag = $7,
		     deleted = $8, deleted_at = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		rec.ID, rec.StorageMode, rec.State, rec.LocationPath, rec.Bucket, rec.UniqueKey, rec.ETag,
		rec.Deleted, rec.DeletedAt,
	).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update file record: %w", err)
	}
	return nil
}

// GetByID fetches a record by its UUID, including soft-deleted ones.
func (r *Repository) GetByID(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get file by id: %w", err)
	}
	return rec, nil
}

// FindByUniqueKey fetches a record by its public unique key.
func (r *Repository) FindByUniqueKey(ctx context.Context, key string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM files WHERE unique_key = $1`, key))
	if err != nil {
		return nil, fmt.Errorf("find file by unique key: %w", err)
	}
	return rec, nil
}

// FindByDeleted lists records by their soft-delete flag, oldest first.
func (r *Repository) FindByDeleted(ctx context.Context, deleted bool) ([]*Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+recordColumns+` FROM files WHERE deleted = $1 ORDER BY created_at`, deleted)
	if err != nil {
		return nil, fmt.Errorf("find files by deleted flag: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var mode, state, visibility string
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Extension, &rec.Size, &rec.ContentType, &visibility, &rec.TenantID, &rec.Module,
		&mode, &state, &rec.LocationPath, &rec.Bucket, &rec.UniqueKey, &rec.ETag,
		&rec.Deleted, &rec.DeletedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Visibility = Visibility(visibility)
	rec.StorageMode = storage.Mode(mode)
	rec.State = State(state)
	return rec, nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
