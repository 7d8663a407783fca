package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

var (
	// ErrRevisionConflict is returned by UpdateComposite when the stored
	// revision moved on since the composite was read.
	ErrRevisionConflict = errors.New("composite was modified concurrently")
	// ErrDuplicateIdentifier is returned when a composite with the same
	// identifier already exists in the scope.
	ErrDuplicateIdentifier = errors.New("composite identifier already exists in scope")
)

// CompositeSLO is a composite SLO definition under construction or saved.
type CompositeSLO struct {
	ID                uuid.UUID              `json:"id"`
	Identifier        string                 `json:"identifier"`
	Name              string                 `json:"name"`
	Description       string                 `json:"description,omitempty"`
	AccountID         string                 `json:"account_id"`
	OrgIdentifier     string                 `json:"org_identifier,omitempty"`
	ProjectIdentifier string                 `json:"project_identifier,omitempty"`
	Selections        weighting.SelectionSet `json:"selections"`
	Revision          int                    `json:"revision"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Scope returns the scope the composite's selections are stamped with.
func (c *CompositeSLO) Scope() weighting.Scope {
	return weighting.Scope{
		AccountID:         c.AccountID,
		OrgIdentifier:     c.OrgIdentifier,
		ProjectIdentifier: c.ProjectIdentifier,
	}
}

type CompositeFilter struct {
	AccountID         string
	OrgIdentifier     string
	ProjectIdentifier string
	Limit             int
	Offset            int
}

// CompositeEvent records one engine operation applied to a composite.
type CompositeEvent struct {
	ID          uuid.UUID              `json:"id"`
	CompositeID uuid.UUID              `json:"composite_id"`
	Event       string                 `json:"event"`
	Actor       string                 `json:"actor,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

type CompositeStats struct {
	TotalComposites int `json:"total_composites"`
	TotalSelections int `json:"total_selections"`
	StaleSelections int `json:"stale_selections"`
}

type Store interface {
	CreateComposite(ctx context.Context, c *CompositeSLO) error
	GetComposite(ctx context.Context, id uuid.UUID) (*CompositeSLO, error)
	ListComposites(ctx context.Context, filter CompositeFilter) ([]*CompositeSLO, error)
	UpdateComposite(ctx context.Context, c *CompositeSLO) error
	DeleteComposite(ctx context.Context, id uuid.UUID) error

	CreateCompositeEvent(ctx context.Context, e *CompositeEvent) error
	GetCompositeEvents(ctx context.Context, compositeID uuid.UUID) ([]*CompositeEvent, error)

	GetStats(ctx context.Context) (*CompositeStats, error)

	Close() error
}
