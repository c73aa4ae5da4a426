package business

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/dao"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// ErrUserHasActiveRequest is returned when a user asks for a second ride
// while one is still active.
var ErrUserHasActiveRequest = errors.New("user already has an active ride request")

// RideRequestService manages ride requests and hands new ones to the
// driver-matching workers.
type RideRequestService struct {
	requests   *dao.DAO
	dispatcher core.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewRideRequestService wraps a DAO bound to RideRequestSchema.
func NewRideRequestService(requests *dao.DAO, dispatcher core.Dispatcher, logger *slog.Logger) (*RideRequestService, error) {
	if requests == nil || requests.Schema() != RideRequestSchema {
		return nil, fmt.Errorf("ride request service needs a DAO bound to the ride request schema")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("ride request service needs a dispatcher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RideRequestService{
		requests:   requests,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "ride_request_service")),
		now:        time.Now,
	}, nil
}

// ListActivePerUser returns the active requests of requesterID.
func (s *RideRequestService) ListActivePerUser(ctx context.Context, requesterID any) ([]*schema.Entity, error) {
	var out []*schema.Entity
	fields := []string{"requester_id", "status"}
	values := []any{requesterID, StatusActive}
	for e, err := range s.requests.SearchByFieldValue(ctx, fields, values) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CancelActiveRequests marks every active request of requesterID as canceled
// and returns how many were changed.
func (s *RideRequestService) CancelActiveRequests(ctx context.Context, requesterID any) (int, error) {
	// Collect first so the writes do not run under an open cursor.
	active, err := s.ListActivePerUser(ctx, requesterID)
	if err != nil {
		return 0, err
	}
	canceled := 0
	for _, req := range active {
		req.Set("status", StatusCanceled)
		saved, err := s.requests.Save(ctx, req)
		if err != nil {
			return canceled, fmt.Errorf("cancel ride request %v: %w", req.PK(), err)
		}
		if saved != nil {
			canceled++
		}
	}
	if canceled > 0 {
		s.logger.InfoContext(ctx, "canceled active ride requests",
			slog.Any("requester_id", requesterID),
			slog.Int("count", canceled))
	}
	return canceled, nil
}

// CreateRequest stores req as a new active request and dispatches
// TaskFindAndNotifyDrivers for it. A missing id or created_at is filled in.
// If the dispatch fails, the requester's active requests are canceled and
// the dispatch error is returned.
func (s *RideRequestService) CreateRequest(ctx context.Context, req *schema.Entity) (*schema.Entity, error) {
	if req == nil || req.Schema() != RideRequestSchema {
		return nil, core.NewSchemaError(RideRequestSchema.Table(), "", "expected a ride request entity")
	}
	requesterID := req.Get("requester_id")
	if requesterID == nil {
		return nil, core.NewValidationError(core.NullNotAllowed, "requester_id", "value is required")
	}
	if req.PK() == nil {
		req.Set("id", schema.NewID())
	}
	if req.Get("status") == nil {
		req.Set("status", StatusActive)
	}
	if req.Get("created_at") == nil {
		req.Set("created_at", s.now().UTC())
	}

	active, err := s.ListActivePerUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, ErrUserHasActiveRequest
	}

	created, err := s.requests.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("ride request %v was not stored", req.PK())
	}

	body, err := RideRequestSchema.Serialize(created)
	if err != nil {
		return nil, err
	}
	key, err := RideRequestSchema.SerializeValue("requester_id", requesterID)
	if err != nil {
		return nil, err
	}
	msg := &core.Message{
		Topic: TaskFindAndNotifyDrivers,
		Key:   fmt.Sprint(key),
		Body:  body,
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "dispatch failed, canceling ride request",
			slog.Any("id", created.PK()),
			slog.Any("error", err))
		dispatchErr := fmt.Errorf("dispatch %s: %w", TaskFindAndNotifyDrivers, err)
		if _, cerr := s.CancelActiveRequests(ctx, requesterID); cerr != nil {
			return nil, errors.Join(dispatchErr, cerr)
		}
		return nil, dispatchErr
	}
	s.logger.InfoContext(ctx, "created ride request", slog.Any("id", created.PK()))
	return created, nil
}
