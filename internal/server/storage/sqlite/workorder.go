package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldops/worksync/internal/models"
	"github.com/fieldops/worksync/internal/server/storage"
)

// SaveWorkOrder creates or fully replaces a work order row.
// The mutation path resolves conflicts before writing, so the row
// handed in here is already authoritative.
func (s *Storage) SaveWorkOrder(ctx context.Context, order *models.WorkOrder) error {
	query := `
		INSERT INTO work_orders (
			id, organization_id, project_id, updated_by,
			status, progress, status_modified, progress_updated,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			project_id = excluded.project_id,
			updated_by = excluded.updated_by,
			status = excluded.status,
			progress = excluded.progress,
			status_modified = excluded.status_modified,
			progress_updated = excluded.progress_updated,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		order.ID,
		order.OrganizationID,
		order.ProjectID,
		order.UpdatedBy,
		string(order.Status),
		order.Progress,
		order.StatusModified,
		order.ProgressUpdated,
		order.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save work order: %w", err)
	}

	return nil
}

// GetWorkOrder retrieves a single work order by ID
// Returns ErrWorkOrderNotFound if it doesn't exist
func (s *Storage) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	query := `
		SELECT id, organization_id, project_id, updated_by,
		       status, progress, status_modified, progress_updated,
		       updated_at
		FROM work_orders
		WHERE id = ?
	`

	order, err := scanWorkOrder(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrWorkOrderNotFound
		}
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}

	return order, nil
}

// GetProjectWorkOrders retrieves all work orders for a project,
// most recently updated first. Returns empty slice if none found.
func (s *Storage) GetProjectWorkOrders(ctx context.Context, projectID string) ([]*models.WorkOrder, error) {
	query := `
		SELECT id, organization_id, project_id, updated_by,
		       status, progress, status_modified, progress_updated,
		       updated_at
		FROM work_orders
		WHERE project_id = ?
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var orders []*models.WorkOrder
	for rows.Next() {
		order, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return orders, nil
}

// DeleteWorkOrder removes a work order by ID
// Returns ErrWorkOrderNotFound if it doesn't exist
func (s *Storage) DeleteWorkOrder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM work_orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete work order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrWorkOrderNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (*models.WorkOrder, error) {
	order := &models.WorkOrder{}
	var status string
	var updatedAt int64

	err := row.Scan(
		&order.ID,
		&order.OrganizationID,
		&order.ProjectID,
		&order.UpdatedBy,
		&status,
		&order.Progress,
		&order.StatusModified,
		&order.ProgressUpdated,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = models.Status(status)
	order.UpdatedAt = time.Unix(updatedAt, 0)

	return order, nil
}
