package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// AllocationReport lists the units consumed by an order and any lines that
// could not be fully served from stock.
type AllocationReport struct {
	OrderID    int64                   `json:"order_id"`
	UnitIDs    []int64                 `json:"unit_ids"`
	Shortfalls []models.ShortfallEntry `json:"shortfalls,omitempty"`
}

// Complete reports whether every order line was fully allocated
func (r *AllocationReport) Complete() bool {
	return len(r.Shortfalls) == 0
}

// InventoryAllocator assigns serialized units to a completed order
type InventoryAllocator struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewInventoryAllocator creates a new inventory allocator
func NewInventoryAllocator() *InventoryAllocator {
	return &InventoryAllocator{
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Allocate marks the oldest available units of each line's item as sold.
// It must run inside the transaction that completed the order. A shortfall
// is reported, never returned as an error: the payment already succeeded.
func (a *InventoryAllocator) Allocate(ctx context.Context, q store.Queries, order *models.Order) (*AllocationReport, error) {
	ctx, span := util.StartSpan(ctx, "InventoryAllocator.Allocate")
	defer span.End()

	lines, err := q.ListOrderLines(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order lines: %w", err)
	}

	report := &AllocationReport{OrderID: order.ID, UnitIDs: []int64{}}
	soldAt := a.now()

	for _, line := range lines {
		allocated, err := a.allocateLine(ctx, q, order.ID, line, soldAt, report)
		if err != nil {
			return nil, err
		}

		if allocated < line.Quantity {
			report.Shortfalls = append(report.Shortfalls, models.ShortfallEntry{
				OrderLineID:   line.ID,
				CatalogItemID: line.CatalogItemID,
				Requested:     line.Quantity,
				Allocated:     allocated,
			})
			util.InventoryShortfallTotal.WithLabelValues(strconv.FormatInt(line.CatalogItemID, 10)).Add(float64(line.Quantity - allocated))
			a.logger.Warn("Insufficient stock for order line",
				zap.Int64("order_id", order.ID),
				zap.Int64("order_line_id", line.ID),
				zap.Int64("catalog_item_id", line.CatalogItemID),
				zap.Int("requested", line.Quantity),
				zap.Int("allocated", allocated))
		}
	}

	util.InventoryUnitsAllocatedTotal.Add(float64(len(report.UnitIDs)))
	a.logger.Info("Inventory allocated",
		zap.Int64("order_id", order.ID),
		zap.Int("units", len(report.UnitIDs)),
		zap.Int("shortfalls", len(report.Shortfalls)))

	return report, nil
}

func (a *InventoryAllocator) allocateLine(
	ctx context.Context,
	q store.Queries,
	orderID int64,
	line models.OrderLine,
	soldAt time.Time,
	report *AllocationReport,
) (int, error) {
	allocated := 0
	for allocated < line.Quantity {
		units, err := q.ListAvailableUnits(ctx, line.CatalogItemID, line.Quantity-allocated)
		if err != nil {
			return allocated, fmt.Errorf("failed to list available units: %w", err)
		}
		if len(units) == 0 {
			break
		}

		progressed := false
		for _, u := range units {
			ok, err := q.MarkUnitSold(ctx, u.ID, orderID, soldAt)
			if err != nil {
				return allocated, fmt.Errorf("failed to mark unit %d sold: %w", u.ID, err)
			}
			if !ok {
				continue
			}
			report.UnitIDs = append(report.UnitIDs, u.ID)
			allocated++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return allocated, nil
}
