package model

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Info describes a stored model without its data.
type Info struct {
	ID         ID        `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	SizeBytes  int64     `json:"sizeBytes"`
}

// Store persists models in the models table of a migrated database.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewStore uses db, which must have been migrated.
func NewStore(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logger.ComponentLogger("model-store")
	}
	return &Store{db: db, log: log}
}

// Save inserts m, replacing a model with the same id.
func (s *Store) Save(ctx context.Context, m Model) error {
	raw, err := m.Marshal()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO models (id, content_hash, specification_hash, seed, language_code, started_at, finished_at, size_bytes, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ContentHash, m.SpecificationHash, m.Seed, m.LanguageCode,
		m.StartedAt.UTC().Format(timeLayout), m.FinishedAt.UTC().Format(timeLayout), len(raw), raw)
	if err != nil {
		return errors.Wrapf(err, "failed to save model %s", m.ID)
	}
	s.log.Debugw("Model saved", logger.FieldModelID, m.ID.String(), logger.FieldSize, len(raw))
	return nil
}

// Get returns the model with id, or an error wrapping ErrNotFound.
func (s *Store) Get(ctx context.Context, id ID) (*Model, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM models WHERE id = ?`, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("model %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model %s", id)
	}
	m, err := Unmarshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "stored model %s is corrupt", id)
	}
	return &m, nil
}

// Has reports whether a model with id is stored.
func (s *Store) Has(ctx context.Context, id ID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM models WHERE id = ?)`, id.String()).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up model %s", id)
	}
	return exists, nil
}

// List describes every stored model, most recently trained first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, size_bytes FROM models ORDER BY finished_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list models")
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var rawID, started, finished string
		var info Info
		if err := rows.Scan(&rawID, &started, &finished, &info.SizeBytes); err != nil {
			return nil, errors.Wrap(err, "failed to scan model row")
		}
		if info.ID, err = ParseID(rawID); err != nil {
			return nil, err
		}
		if info.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, errors.Wrapf(err, "invalid start time of model %s", rawID)
		}
		if info.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, errors.Wrapf(err, "invalid finish time of model %s", rawID)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate models")
	}
	return out, nil
}

// Delete removes the model with id. Deleting a missing model is not an error.
func (s *Store) Delete(ctx context.Context, id ID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id.String()); err != nil {
		return errors.Wrapf(err, "failed to delete model %s", id)
	}
	return nil
}

// Prune keeps the keep most recently trained models and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.Newf("cannot keep %d models", keep)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM models WHERE id NOT IN (SELECT id FROM models ORDER BY finished_at DESC, id LIMIT ?)`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune models")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned models")
	}
	if n > 0 {
		s.log.Infow("Pruned stored models", logger.FieldCount, n, "kept", keep)
	}
	return n, nil
}
