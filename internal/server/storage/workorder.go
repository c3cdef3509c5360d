package storage

import (
	"context"

	"github.com/fieldops/worksync/internal/models"
)

// WorkOrderStorage defines the interface for work-order persistence.
// The mutation path reads the current row, merges the incoming change
// against it, and writes the result back.
type WorkOrderStorage interface {
	// SaveWorkOrder creates or fully replaces a work order row.
	SaveWorkOrder(ctx context.Context, order *models.WorkOrder) error

	// GetWorkOrder retrieves a work order by ID.
	// Returns ErrWorkOrderNotFound if it doesn't exist.
	GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error)

	// GetProjectWorkOrders retrieves all work orders for a project,
	// most recently updated first. Returns empty slice if none found.
	GetProjectWorkOrders(ctx context.Context, projectID string) ([]*models.WorkOrder, error)

	// DeleteWorkOrder removes a work order by ID.
	// Returns ErrWorkOrderNotFound if it doesn't exist.
	DeleteWorkOrder(ctx context.Context, id string) error
}
