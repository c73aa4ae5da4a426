package business

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/dispatch"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// Notifier delivers a ride request to the drivers found near its origin.
type Notifier interface {
	Notify(ctx context.Context, request *schema.Entity, drivers []*schema.Entity) error
}

// FindAndNotifyDrivers returns the handler of TaskFindAndNotifyDrivers. It
// looks for active drivers within radius degrees of the request origin and
// passes them to notifier. A request with no driver nearby is not an error.
func (s *DriverService) FindAndNotifyDrivers(radius float64, notifier Notifier) dispatch.Handler {
	return func(ctx context.Context, msg *core.Message) error {
		req, err := RideRequestSchema.Deserialize(msg.Body)
		if err != nil {
			return fmt.Errorf("decode ride request: %w", err)
		}
		origin, err := schema.ToGeoPoint(req.Get("origin"))
		if err != nil {
			return fmt.Errorf("ride request %v origin: %w", req.PK(), err)
		}

		topLeft := schema.GeoPoint{Lat: min(origin.Lat+radius, 90), Lon: max(origin.Lon-radius, -180)}
		bottomRight := schema.GeoPoint{Lat: max(origin.Lat-radius, -90), Lon: min(origin.Lon+radius, 180)}
		drivers, err := s.ListInRectangle(ctx, topLeft, bottomRight, true)
		if err != nil {
			return err
		}
		if len(drivers) == 0 {
			s.logger.InfoContext(ctx, "no driver near ride request", slog.Any("id", req.PK()))
			return nil
		}
		return notifier.Notify(ctx, req, drivers)
	}
}
