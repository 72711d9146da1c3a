package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subscriber hands out event feeds. events.Bus implements it.
type Subscriber interface {
	Subscribe() <-chan events.Event
	Unsubscribe(<-chan events.Event)
}

type MaintenanceService struct {
	service *service.Service
	events  Subscriber
	logger  *zap.Logger
	done    <-chan struct{}
}

var _ MaintenanceServer = (*MaintenanceService)(nil)

// NewMaintenanceService serves svc. Watch streams end when done is closed.
func NewMaintenanceService(svc *service.Service, subscriber Subscriber, done <-chan struct{}, logger *zap.Logger) *MaintenanceService {
	return &MaintenanceService{
		service: svc,
		events:  subscriber,
		logger:  logger,
		done:    done,
	}
}

func (s *MaintenanceService) GetMachine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuid.Parse(stringField(req, "id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "id must be a UUID")
	}

	record, err := s.service.Get(ctx, id)
	if err != nil {
		return nil, s.grpcError(err)
	}
	return toStruct(record)
}

func (s *MaintenanceService) ListMachines(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	listing, err := s.service.List(ctx, service.Filter{
		Search: stringField(req, "search"),
		Sector: stringField(req, "sector"),
		Status: maintenance.Status(stringField(req, "status")),
	})
	if err != nil {
		return nil, s.grpcError(err)
	}
	return toStruct(listing)
}

func (s *MaintenanceService) WatchEvents(req *structpb.Struct, stream EventStream) error {
	wanted := make(map[events.Type]bool)
	if list := req.GetFields()["types"].GetListValue(); list != nil {
		for _, v := range list.GetValues() {
			wanted[events.Type(v.GetStringValue())] = true
		}
	}

	feed := s.events.Subscribe()
	defer s.events.Unsubscribe(feed)

	s.logger.Info("gRPC event watcher connected", zap.Int("filtered_types", len(wanted)))

	for {
		select {
		case event, ok := <-feed:
			if !ok {
				return nil
			}
			if len(wanted) > 0 && !wanted[event.Type] {
				continue
			}

			msg, err := toStruct(event)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-s.done:
			return nil

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *MaintenanceService) grpcError(err error) error {
	var conflict *maintenance.ConflictError
	switch {
	case errors.Is(err, maintenance.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &conflict), errors.Is(err, maintenance.ErrDateConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, maintenance.ErrSchedulingExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, maintenance.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, maintenance.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.Error("Unhandled gRPC error", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}
