package store

import (
	"context"
	"errors"

	"github.com/ircarchive/ircview/pkg/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ArtifactStore is the catalog of saved session artifacts. It indexes the
// markdown files written by finished sessions; the files themselves stay on
// disk.
type ArtifactStore interface {
	// SaveArtifact records a, replacing any earlier artifact with the same
	// slug. CreatedAt is set by the store when zero.
	SaveArtifact(ctx context.Context, a *domain.Artifact) error

	// GetArtifact retrieves an artifact by slug.
	// Returns ErrNotFound if the slug is unknown.
	GetArtifact(ctx context.Context, slug string) (*domain.Artifact, error)

	// ListArtifacts returns artifacts ordered by creation time descending.
	// If limit > 0, returns at most that many.
	ListArtifacts(ctx context.Context, limit int) ([]domain.Artifact, error)
}
