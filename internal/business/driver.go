package business

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/entity-dao/internal/dao"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// DriverService answers driver lookups.
type DriverService struct {
	drivers *dao.DAO
	logger  *slog.Logger
}

// NewDriverService wraps a DAO bound to DriverSchema.
func NewDriverService(drivers *dao.DAO, logger *slog.Logger) (*DriverService, error) {
	if drivers == nil || drivers.Schema() != DriverSchema {
		return nil, fmt.Errorf("driver service needs a DAO bound to the driver schema")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DriverService{drivers: drivers, logger: logger.With(slog.String("component", "driver_service"))}, nil
}

// ListInRectangle returns the drivers located inside the rectangle spanned by
// topLeft and bottomRight. Corners accept anything schema.ToGeoPoint reads.
func (s *DriverService) ListInRectangle(ctx context.Context, topLeft, bottomRight any, onlyActive bool) ([]*schema.Entity, error) {
	tl, err := schema.ToGeoPoint(topLeft)
	if err != nil {
		return nil, fmt.Errorf("top left corner: %w", err)
	}
	br, err := schema.ToGeoPoint(bottomRight)
	if err != nil {
		return nil, fmt.Errorf("bottom right corner: %w", err)
	}
	if tl.Lat < br.Lat || tl.Lon > br.Lon {
		return nil, fmt.Errorf("top left corner %v is not above and left of bottom right corner %v", tl, br)
	}

	var out []*schema.Entity
	for e, err := range s.drivers.SearchInBoundingBox(ctx, "location", tl, br) {
		if err != nil {
			return nil, err
		}
		if onlyActive {
			if active, _ := e.Get("active").(bool); !active {
				continue
			}
		}
		out = append(out, e)
	}
	s.logger.DebugContext(ctx, "listed drivers in rectangle",
		slog.Int("count", len(out)),
		slog.Bool("only_active", onlyActive))
	return out, nil
}
