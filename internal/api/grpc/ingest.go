package grpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/metrics"
	"github.com/uuidvault/uuidvault/internal/queue"
	"github.com/uuidvault/uuidvault/internal/reporting"
	"github.com/uuidvault/uuidvault/pkg/types"
)

// IngestServer implements IngestServiceServer on top of a queue producer.
type IngestServer struct {
	producer queue.Producer
	apiKey   []byte
	reporter reporting.Reporter
}

var _ IngestServiceServer = (*IngestServer)(nil)

// NewIngestServer creates a gRPC ingest server. A nil reporter discards failures.
func NewIngestServer(producer queue.Producer, apiKey string, reporter reporting.Reporter) *IngestServer {
	if reporter == nil {
		reporter = reporting.NopReporter{}
	}
	return &IngestServer{
		producer: producer,
		apiKey:   []byte(apiKey),
		reporter: reporter,
	}
}

// Submit validates one record and enqueues its canonical JSON form.
func (s *IngestServer) Submit(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if !s.authorized(md) {
		metrics.Ingest("grpc", metrics.OutcomeForbidden)
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}

	if req == nil {
		metrics.Ingest("grpc", metrics.OutcomeInvalid)
		return nil, status.Error(codes.InvalidArgument, "invalid record: empty request")
	}
	if err := checkExactIntegers(req); err != nil {
		metrics.Ingest("grpc", metrics.OutcomeInvalid)
		return nil, status.Errorf(codes.InvalidArgument, "invalid record: %v", err)
	}
	record, err := types.FromCandidate(req.AsMap())
	if err != nil {
		metrics.Ingest("grpc", metrics.OutcomeInvalid)
		return nil, status.Errorf(codes.InvalidArgument, "invalid record: %v", err)
	}

	body, err := json.Marshal(record)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}

	if err := s.producer.Send(ctx, body); err != nil {
		requestID := requestIDFrom(md)
		metrics.Ingest("grpc", metrics.OutcomeEnqueueFailed)
		qerr := vaulterrors.NewQueueError(vaulterrors.CodeEnqueueFailed, "grpc: enqueue record", err)
		log.Printf("grpc: request %s: %v", requestID, qerr)
		s.reporter.Capture(ctx, qerr, reporting.Event{
			Component: "ingest",
			Trigger:   "grpc",
			RunID:     requestID,
		})
		return nil, status.Error(codes.Internal, "failed to enqueue record")
	}
	metrics.Ingest("grpc", metrics.OutcomeAccepted)
	return &emptypb.Empty{}, nil
}

// maxExactInteger is the largest magnitude a structpb number value carries
// without rounding. Struct numbers are float64 on the wire.
const maxExactInteger = 1<<53 - 1

// checkExactIntegers rejects integer fields that may have been rounded in
// transit, so a caller never has a different ts or id_type stored than sent.
func checkExactIntegers(req *structpb.Struct) error {
	for _, field := range []string{types.FieldTS, types.FieldIDType} {
		v, ok := req.GetFields()[field]
		if !ok {
			continue
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if ok && math.Abs(n.NumberValue) > maxExactInteger {
			return &types.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("magnitude exceeds %d; use the HTTP endpoint for larger values", int64(maxExactInteger)),
			}
		}
	}
	return nil
}

func (s *IngestServer) authorized(md metadata.MD) bool {
	if len(s.apiKey) == 0 {
		return false
	}
	keys := md.Get(APIKeyMetadata)
	return len(keys) == 1 && subtle.ConstantTimeCompare([]byte(keys[0]), s.apiKey) == 1
}

// requestIDFrom returns the caller's x-request-id or a fresh one.
func requestIDFrom(md metadata.MD) string {
	if ids := md.Get("x-request-id"); len(ids) > 0 {
		return ids[0]
	}
	return uuid.New().String()
}
