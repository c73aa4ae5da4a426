// Package business holds the ride-hailing services built on the DAO: drivers
// searched by location and ride requests with at most one active request per
// user.
package business

import (
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// Ride request states.
const (
	StatusActive    = "active"
	StatusCanceled  = "canceled"
	StatusCompleted = "completed"
)

// TaskFindAndNotifyDrivers is the dispatch topic of a new ride request.
const TaskFindAndNotifyDrivers = "find_and_notify_drivers"

// DriverSchema describes a driver and their last known position.
var DriverSchema = schema.MustNew("driver",
	schema.UUID("id").PrimaryKey(),
	schema.String("name").MaxLen(128),
	schema.String("car_plate").MaxLen(16).Nullable(),
	schema.Geo("location").Indexed().Nullable(),
	schema.Bool("active").Indexed(),
	schema.DateTime("updated_at").Nullable(),
)

// RideRequestSchema describes a user's request for a ride.
var RideRequestSchema = schema.MustNew("ride_request",
	schema.UUID("id").PrimaryKey(),
	schema.UUID("requester_id").Indexed(),
	schema.String("status").Options(StatusActive, StatusCanceled, StatusCompleted).Indexed(),
	schema.Geo("origin"),
	schema.DateTime("created_at"),
)

// Schemas returns every business schema in install order.
func Schemas() []*schema.Schema {
	return []*schema.Schema{DriverSchema, RideRequestSchema}
}
