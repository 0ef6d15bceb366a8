package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type WardService struct {
	engine   *ward.Engine
	streamer *EventStreamer
	logger   *zap.Logger
}

func NewWardService(engine *ward.Engine, streamer *EventStreamer, logger *zap.Logger) *WardService {
	return &WardService{
		engine:   engine,
		streamer: streamer,
		logger:   logger,
	}
}

// GetBedStatus takes {"bed": "<uuid or number>"}.
func (s *WardService) GetBedStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	bedID, err := s.resolveBed(req)
	if err != nil {
		return nil, err
	}

	st, err := s.engine.Coordinator.Status(ctx, bedID)
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]any{"bed": st.Bed}
	if st.Turnover != nil {
		out["turnover"] = map[string]any{
			"turnover_id":       st.Turnover.TurnoverID,
			"status":            st.Turnover.Status,
			"started_at":        st.Turnover.StartedAt,
			"expected_duration": st.Turnover.ExpectedDuration.Seconds(),
			"remaining":         st.Turnover.Remaining.Seconds(),
			"percentage":        st.Turnover.Percentage,
		}
	}
	return toStruct(out)
}

// GetQueue takes {"queue_type": "admission"}.
func (s *WardService) GetQueue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	queueType := stringField(req, "queue_type")
	if queueType == "" {
		queueType = s.engine.Routing.DefaultQueueType
	}

	entries := s.engine.Queues.List(queueType)
	return toStruct(map[string]any{
		"queue_type": queueType,
		"entries":    entries,
		"count":      len(entries),
	})
}

// GetTurnoverHistory takes {"bed": "...", "patient_id": "..."}; patient_id
// is optional.
func (s *WardService) GetTurnoverHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	bedID, err := s.resolveBed(req)
	if err != nil {
		return nil, err
	}

	var records []turnover.Record
	if patientID := stringField(req, "patient_id"); patientID != "" {
		records, err = s.engine.Ledger.HistoryForPatient(ctx, bedID, patientID)
	} else {
		records, err = s.engine.Ledger.History(ctx, bedID)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	return toStruct(map[string]any{
		"bed_id":    bedID,
		"turnovers": records,
		"count":     len(records),
	})
}

// StreamWardEvents streams events until the client goes away. Optional
// filters: {"bed_ids": [...], "kinds": [...]}.
func (s *WardService) StreamWardEvents(req *structpb.Struct, stream WardService_StreamWardEventsServer) error {
	bedFilter := listField(req, "bed_ids")
	kindFilter := listField(req, "kinds")

	eventCh := s.streamer.Subscribe()
	defer s.streamer.Unsubscribe(eventCh)

	for {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			if len(kindFilter) > 0 && !kindFilter[string(ev.Kind)] {
				continue
			}
			if len(bedFilter) > 0 && ev.BedID != "" && !bedFilter[ev.BedID] {
				continue
			}

			msg, err := toStruct(ev)
			if err != nil {
				s.logger.Error("Failed to encode ward event", zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *WardService) resolveBed(req *structpb.Struct) (uuid.UUID, error) {
	ref := stringField(req, "bed")
	if ref == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "bed is required")
	}
	id, err := s.engine.Beds.Resolve(ref)
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	return id, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, turnover.ErrUnknownType):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrBedUnavailable),
		errors.Is(err, types.ErrDuplicateEntry):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts through JSON so the payload matches the REST bodies.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	return out, nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func listField(s *structpb.Struct, key string) map[string]bool {
	if s == nil {
		return nil
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	set := make(map[string]bool)
	for _, item := range v.GetListValue().GetValues() {
		if str := item.GetStringValue(); str != "" {
			set[str] = true
		}
	}
	return set
}
