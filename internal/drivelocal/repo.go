// Package drivelocal is a small, self-hostable stand-in for the part of the
// Drive v3 API the document store uses. Files live in SQLite.
package drivelocal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/readly/internal/migrations"
)

const FolderMimeType = "application/vnd.google-apps.folder"

var ErrNotFound = errors.New("file not found")

// File is one stored file. Folders are files with [FolderMimeType] and no
// content.
type File struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	MimeType  string    `db:"mime_type"`
	ParentID  string    `db:"parent_id"`
	Trashed   bool      `db:"trashed"`
	Content   []byte    `db:"content"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Open connects to the SQLite database at path and migrates it.
func Open(path string) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One writer keeps SQLite from reporting busy under concurrent uploads.
	dbx.SetMaxOpenConns(1)

	if err := migrations.Up(dbx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return dbx, nil
}

type Repo struct {
	db    *sqlx.DB
	clock clock.Clock
}

func NewRepo(db *sqlx.DB, clk clock.Clock) Repo {
	if clk == nil {
		clk = clock.New()
	}
	return Repo{db: db, clock: clk}
}

var metadataColumns = []string{"id", "name", "mime_type", "parent_id", "trashed", "version", "created_at", "updated_at"}

// Search lists the files matching q without their content, oldest first.
func (r Repo) Search(ctx context.Context, q Query) ([]File, error) {
	where := sq.And{}
	if q.Name != nil {
		where = append(where, sq.Eq{"name": *q.Name})
	}
	if q.MimeType != nil {
		where = append(where, sq.Eq{"mime_type": *q.MimeType})
	}
	if q.Parent != nil {
		where = append(where, sq.Eq{"parent_id": *q.Parent})
	}
	if q.Trashed != nil {
		where = append(where, sq.Eq{"trashed": *q.Trashed})
	}

	query, args, err := sq.Select(metadataColumns...).
		From("files").
		Where(where).
		OrderBy("created_at", "rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	files := []File{}
	if err := r.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, fmt.Errorf("error searching files: %s", err)
	}

	return files, nil
}

// File fetches one file, content included.
func (r Repo) File(ctx context.Context, id string) (File, error) {
	const q = `SELECT * FROM files WHERE id = ?;`
	var f File
	err := r.db.GetContext(ctx, &f, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("error fetching file: %s", err)
	}

	return f, nil
}

// Create stores a new file under a fresh ID.
func (r Repo) Create(ctx context.Context, f File) (File, error) {
	const q = `INSERT INTO files (id, name, mime_type, parent_id, trashed, content, version, created_at, updated_at)
VALUES (:id, :name, :mime_type, :parent_id, :trashed, :content, :version, :created_at, :updated_at);`

	now := r.clock.Now().UTC()
	f.ID = uuid.NewString()
	f.Version = 1
	f.Trashed = false
	f.CreatedAt = now
	f.UpdatedAt = now
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}

	if _, err := r.db.NamedExecContext(ctx, q, f); err != nil {
		return File{}, fmt.Errorf("error inserting file: %s", err)
	}

	return f, nil
}

// UpdateContent replaces a file's content and bumps its version.
func (r Repo) UpdateContent(ctx context.Context, id string, content []byte) (File, error) {
	const q = `UPDATE files SET content = ?, version = version + 1, updated_at = ? WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, content, r.clock.Now().UTC(), id)
	if err != nil {
		return File{}, fmt.Errorf("error updating file: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return File{}, ErrNotFound
	}

	return r.File(ctx, id)
}

// Trash flags a file as trashed. Trashed files stay readable by ID but
// drop out of searches asking for trashed=false.
func (r Repo) Trash(ctx context.Context, id string) error {
	const q = `UPDATE files SET trashed = TRUE, updated_at = ? WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, r.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("error trashing file: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}
