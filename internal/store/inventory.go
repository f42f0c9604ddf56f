package store

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// ListAvailableUnits locks up to limit available units of an item, oldest ingress first
func (q queries) ListAvailableUnits(ctx context.Context, catalogItemID int64, limit int) ([]models.SerializedUnit, error) {
	units := []models.SerializedUnit{}
	err := q.selectAll(ctx, &units,
		`SELECT * FROM serialized_units
		WHERE catalog_item_id = $1 AND status = $2
		ORDER BY ingress_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		catalogItemID, models.UnitStatusAvailable, limit)
	return units, err
}

// MarkUnitSold marks a unit sold for an order if it is still available
func (q queries) MarkUnitSold(ctx context.Context, unitID, orderID int64, soldAt time.Time) (bool, error) {
	n, err := q.exec(ctx,
		`UPDATE serialized_units
		SET status = $1, sold_at = $2, order_id = $3
		WHERE id = $4 AND status = $5`,
		models.UnitStatusSold, soldAt, orderID, unitID, models.UnitStatusAvailable)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
