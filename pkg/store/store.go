package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/foomo/storysync/pkg/story"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	_ "modernc.org/sqlite"
)

// LocalIDPrefix marks ids assigned on this device before the server knows the story.
const LocalIDPrefix = "local-"

var ErrNotFound = errors.New("story not found")

type (
	// Store is the SQLite backed persistent store of story records.
	Store struct {
		l   *zap.Logger
		db  *sql.DB
		now func() time.Time
	}
	Option func(*Store)
)

const storyColumns = `id, name, description, photo_url, photo_data, lat, lon, created_at, pending`

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// Open creates or opens the database at path and applies the schema migrations.
func Open(ctx context.Context, l *zap.Logger, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}

	inst := &Store{
		l:   l.Named("store"),
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithClock(v func() time.Time) Option {
	return func(o *Store) {
		o.now = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Put validates and upserts a single story. Missing ids and timestamps are filled in.
func (s *Store) Put(ctx context.Context, v story.Story) (story.Story, error) {
	v, err := s.prepare(v)
	if err != nil {
		return story.Story{}, err
	}
	err = s.tx(ctx, "put", func(tx *sql.Tx) error {
		return upsert(ctx, tx, v)
	})
	if err != nil {
		return story.Story{}, err
	}
	return v, nil
}

// PutAll upserts all stories in one transaction. Nothing is written if one of them is invalid.
func (s *Store) PutAll(ctx context.Context, stories []story.Story) error {
	prepared, err := s.prepareAll(stories)
	if err != nil {
		return err
	}
	return s.tx(ctx, "put all", func(tx *sql.Tx) error {
		for _, v := range prepared {
			if err := upsert(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAll clears every synced story and writes the given list in one transaction.
// Pending stories survive until they have been uploaded.
func (s *Store) ReplaceAll(ctx context.Context, stories []story.Story) error {
	prepared, err := s.prepareAll(stories)
	if err != nil {
		return err
	}
	return s.tx(ctx, "replace all", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE pending = 0`); err != nil {
			return err
		}
		for _, v := range prepared {
			if err := upsert(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (story.Story, error) {
	var ret story.Story
	err := s.tx(ctx, "get", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
		v, err := scanStory(row)
		if err != nil {
			return err
		}
		ret = v
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return story.Story{}, ErrNotFound
	}
	return ret, err
}

// GetAll returns every story in insertion order.
func (s *Store) GetAll(ctx context.Context) ([]story.Story, error) {
	return s.list(ctx, "get all", `SELECT `+storyColumns+` FROM stories ORDER BY rowid`)
}

// Pending returns the stories created offline that still wait for upload.
func (s *Store) Pending(ctx context.Context) ([]story.Story, error) {
	return s.list(ctx, "pending", `SELECT `+storyColumns+` FROM stories WHERE pending = 1 ORDER BY rowid`)
}

// Delete removes a story, deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.tx(ctx, "delete", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
		return err
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.tx(ctx, "clear", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM stories`)
		return err
	})
}

// Search matches query case-insensitively against title and description.
// The result is a snapshot, call it again for fresh results.
func (s *Store) Search(ctx context.Context, query string) ([]story.Story, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	needle := fold.String(query)
	ret := make([]story.Story, 0, len(all))
	for _, v := range all {
		if strings.Contains(fold.String(v.Title), needle) || strings.Contains(fold.String(v.Description), needle) {
			ret = append(ret, v)
		}
	}
	return ret, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (s *Store) prepare(v story.Story) (story.Story, error) {
	if err := v.Validate(); err != nil {
		return story.Story{}, err
	}
	if v.ID == "" {
		v.ID = LocalIDPrefix + uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func (s *Store) prepareAll(stories []story.Story) ([]story.Story, error) {
	ret := make([]story.Story, 0, len(stories))
	for _, v := range stories {
		p, err := s.prepare(v)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, nil
}

func (s *Store) list(ctx context.Context, op, query string) ([]story.Story, error) {
	var ret []story.Story
	err := s.tx(ctx, op, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			v, err := scanStory(rows)
			if err != nil {
				return err
			}
			ret = append(ret, v)
		}
		return rows.Err()
	})
	return ret, err
}

// tx runs fn in its own transaction and wraps failures as StorageError.
func (s *Store) tx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.l.Error("failed to begin transaction", zap.String("op", op), zap.Error(err))
		return &story.StorageError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		s.l.Error("transaction failed", zap.String("op", op), zap.Error(err))
		return &story.StorageError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		s.l.Error("failed to commit transaction", zap.String("op", op), zap.Error(err))
		return &story.StorageError{Op: op, Err: err}
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, v story.Story) error {
	var lat, lon sql.NullFloat64
	if v.Location != nil {
		lat = sql.NullFloat64{Float64: v.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: v.Location.Lon, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stories (`+storyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   photo_url = excluded.photo_url,
		   photo_data = excluded.photo_data,
		   lat = excluded.lat,
		   lon = excluded.lon,
		   created_at = excluded.created_at,
		   pending = excluded.pending`,
		v.ID,
		v.Title,
		v.Description,
		v.PhotoURL,
		v.PhotoData,
		lat,
		lon,
		v.CreatedAt.Format(time.RFC3339Nano),
		v.Pending,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (story.Story, error) {
	var (
		v         story.Story
		lat, lon  sql.NullFloat64
		createdAt string
	)
	if err := row.Scan(&v.ID, &v.Title, &v.Description, &v.PhotoURL, &v.PhotoData, &lat, &lon, &createdAt, &v.Pending); err != nil {
		return story.Story{}, err
	}
	if lat.Valid && lon.Valid {
		v.Location = &story.Location{Lat: lat.Float64, Lon: lon.Float64}
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return story.Story{}, errors.Wrapf(err, "invalid created_at for story %s", v.ID)
	}
	v.CreatedAt = t
	return v, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	return nil
}
