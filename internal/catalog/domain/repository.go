package domain

import "context"

// Repository stores plan versions. Stored versions are never updated.
type Repository interface {
	// Insert stores a new version. It returns ErrPlanVersionExists when the
	// (id, version) pair is taken.
	Insert(ctx context.Context, plan *Plan) error

	// Find returns the exact version or ErrPlanNotFound.
	Find(ctx context.Context, ref PlanRef) (*Plan, error)

	// Versions returns every version of id, oldest first.
	Versions(ctx context.Context, id string) ([]*Plan, error)

	// ListLatest returns the newest version of every plan.
	ListLatest(ctx context.Context) ([]*Plan, error)
}
