package recipient

import (
	"context"
)

// Repository defines the operations for retrieving actors by role.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Actor, error)
	// ListActiveByWetmill returns active actors of one kind attached to a wetmill, in store order.
	ListActiveByWetmill(ctx context.Context, kind Kind, wetmillID int64) ([]*Actor, error)
	// ExistsForConnection reports whether an active actor of kind owns the connection.
	ExistsForConnection(ctx context.Context, kind Kind, connectionID int64) (bool, error)
}
