package store

import (
	"context"
	"errors"

	"github.com/povchingiz/google-meet-recording/internal/model"
)

var ErrNotFound = errors.New("not found")

// Mutator edits a private copy of a session. Returning an error aborts the
// update and leaves the stored record untouched.
type Mutator func(*model.Session) error

// Store is the session registry. Implementations must serialize updates to
// the same session and hand out copies from Get and List.
type Store interface {
	Create(ctx context.Context, sess *model.Session) (string, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, id string, fn Mutator) (*model.Session, error)
	List(ctx context.Context) ([]*model.Session, error)
	Delete(ctx context.Context, id string) error
}

// mutate runs fn against a copy of curr and restores the fields that are
// fixed at creation, so a mutator can only touch lifecycle state.
func mutate(curr *model.Session, fn Mutator) (*model.Session, error) {
	next := curr.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = curr.ID
	next.MeetingURL = curr.MeetingURL
	next.MeetingCode = curr.MeetingCode
	next.DurationMinutes = curr.DurationMinutes
	next.UploadRequested = curr.UploadRequested
	next.FolderName = curr.FolderName
	next.RequestedBy = curr.RequestedBy
	next.CreatedAt = curr.CreatedAt
	return next, nil
}
