package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/povchingiz/google-meet-recording/internal/model"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore persists sessions in recording_sessions. Row locks taken by
// Update serialize writers of one session without blocking the others.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, meeting_url, meeting_code, duration_minutes, upload_requested, folder_name, requested_by,
       status, recording_file, storage_reference, error_message, created_at, updated_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var out model.Session
	if err := row.Scan(
		&out.ID, &out.MeetingURL, &out.MeetingCode, &out.DurationMinutes, &out.UploadRequested, &out.FolderName, &out.RequestedBy,
		&out.Status, &out.RecordingFile, &out.StorageReference, &out.ErrorMessage, &out.CreatedAt, &out.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *PostgresStore) Create(ctx context.Context, sess *model.Session) (string, error) {
	id := uuid.NewString()
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const q = `
insert into recording_sessions
  (id, meeting_url, meeting_code, duration_minutes, upload_requested, folder_name, requested_by,
   status, recording_file, storage_reference, error_message, created_at, updated_at)
values
  ($1, $2, $3, $4, $5, $6, $7, $8, '', '', '', $9, $9)`
	if _, err := s.db.Exec(ctx, q,
		id, sess.MeetingURL, sess.MeetingCode, sess.DurationMinutes, sess.UploadRequested, sess.FolderName, sess.RequestedBy,
		string(sess.Status), createdAt,
	); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Session, error) {
	q := `select ` + sessionColumns + `
from recording_sessions
where id = $1`
	return scanSession(s.db.QueryRow(ctx, q, id))
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn Mutator) (*model.Session, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `select ` + sessionColumns + `
from recording_sessions
where id = $1
for update`
	curr, err := scanSession(tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	next, err := mutate(curr, fn)
	if err != nil {
		return nil, err
	}

	const updateQ = `
update recording_sessions
set status = $2,
    recording_file = $3,
    storage_reference = $4,
    error_message = $5,
    updated_at = $6
where id = $1`
	tag, err := tx.Exec(ctx, updateQ, id, string(next.Status), next.RecordingFile, next.StorageReference, next.ErrorMessage, next.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Session, error) {
	q := `select ` + sessionColumns + `
from recording_sessions
order by seq asc`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `delete from recording_sessions where id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
