package nbi

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rb-admission/internal/admission"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/internal/nbi/types"
	"github.com/signalsfoundry/rb-admission/kb"
	"github.com/signalsfoundry/rb-admission/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "rb.admission.v1.AdmissionService"

const (
	methodAdmit            = "/" + ServiceName + "/Admit"
	methodRelease          = "/" + ServiceName + "/Release"
	methodGetAccessPoint   = "/" + ServiceName + "/GetAccessPoint"
	methodListAccessPoints = "/" + ServiceName + "/ListAccessPoints"
	methodListJournal      = "/" + ServiceName + "/ListJournal"
)

// AdmissionServiceServer is the server API of the admission service.
type AdmissionServiceServer interface {
	Admit(context.Context, *types.AdmitRequest) (*types.AdmitResponse, error)
	Release(context.Context, *types.ReleaseRequest) (*types.ReleaseResponse, error)
	GetAccessPoint(context.Context, *types.GetAccessPointRequest) (*types.AccessPoint, error)
	ListAccessPoints(context.Context, *types.ListAccessPointsRequest) (*types.ListAccessPointsResponse, error)
	ListJournal(context.Context, *types.ListJournalRequest) (*types.ListJournalResponse, error)
}

// AdmissionService implements AdmissionServiceServer over a pool registry
// and an admission controller.
type AdmissionService struct {
	registry   *kb.KnowledgeBase
	controller *admission.Controller
	log        logging.Logger
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(registry *kb.KnowledgeBase, controller *admission.Controller, log logging.Logger) *AdmissionService {
	return &AdmissionService{
		registry:   registry,
		controller: controller,
		log:        logging.OrNoop(log),
	}
}

// Admit selects an access point and reserves capacity. Denials are
// returned as a normal response; only malformed requests fail the RPC.
func (s *AdmissionService) Admit(ctx context.Context, in *types.AdmitRequest) (*types.AdmitResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := logging.FromContext(ctx, s.log).With(
		logging.String("entity_type", "reservation"),
		logging.String("operation", "admit"),
	)
	if err := ValidateAdmitRequest(in); err != nil {
		reqLog.Debug(ctx, "Admit validation failed", logging.String("reason", err.Error()))
		return nil, ToStatusError(err)
	}
	d, _ := types.DurationFromSeconds(in.DurationSeconds)

	ctx, span := StartChildSpan(ctx, "reservation/admit", "station", in.StationID,
		attribute.Float64("bandwidth_mbps", in.BandwidthMbps),
		attribute.Int("candidates", len(in.Candidates)),
	)
	defer span.End()

	var (
		out *admission.Outcome
		err error
	)
	if len(in.Candidates) == 0 {
		out, err = s.controller.AdmitStation(ctx, in.StationID, in.BandwidthMbps, d)
	} else {
		out, err = s.controller.Admit(ctx, admission.Request{
			StationID:     in.StationID,
			BandwidthMbps: in.BandwidthMbps,
			Duration:      d,
			Candidates:    types.CandidatesToModel(in.Candidates),
		})
	}
	if err != nil {
		span.RecordError(err)
		reqLog.Warn(ctx, "Admit failed", logging.Err(err))
		return nil, ToStatusError(err)
	}

	span.SetAttributes(
		attribute.Bool("admitted", out.Admitted),
		attribute.Int("attempts", len(out.Attempts)),
	)
	if out.Admitted {
		span.SetAttributes(attribute.String("access_point", out.AccessPointID))
	}
	return types.AdmitResponseFromOutcome(out), nil
}

// Release frees a lease. Releasing a lease that is already gone returns
// Released false.
func (s *AdmissionService) Release(ctx context.Context, in *types.ReleaseRequest) (*types.ReleaseResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := ValidateReleaseRequest(in); err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "reservation/release", "station", in.StationID,
		attribute.String("access_point", in.AccessPointID))
	defer span.End()

	released, err := s.controller.Release(ctx, in.AccessPointID, in.StationID)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	logging.FromContext(ctx, s.log).Info(ctx, "release handled",
		logging.String("access_point", in.AccessPointID),
		logging.String("station", in.StationID),
		logging.Bool("released", released),
	)
	return &types.ReleaseResponse{Released: released}, nil
}

// GetAccessPoint returns one pool snapshot.
func (s *AdmissionService) GetAccessPoint(ctx context.Context, in *types.GetAccessPointRequest) (*types.AccessPoint, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if in == nil || in.AccessPointID == "" {
		return nil, status.Error(codes.InvalidArgument, "access_point_id is required")
	}
	pool := s.registry.Pool(in.AccessPointID)
	if pool == nil {
		return nil, ToStatusError(fmt.Errorf("%w: access point %q", ErrNotFound, in.AccessPointID))
	}
	ap := types.AccessPointFromSnapshot(pool.Snapshot())
	return &ap, nil
}

// ListAccessPoints returns every pool snapshot ordered by ID.
func (s *AdmissionService) ListAccessPoints(ctx context.Context, _ *types.ListAccessPointsRequest) (*types.ListAccessPointsResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	pools := s.registry.ListPools()
	resp := &types.ListAccessPointsResponse{AccessPoints: make([]types.AccessPoint, 0, len(pools))}
	for _, p := range pools {
		resp.AccessPoints = append(resp.AccessPoints, types.AccessPointFromSnapshot(p.Snapshot()))
	}
	return resp, nil
}

// ListJournal returns journal entries after AfterSeq, optionally filtered
// by event kind.
func (s *AdmissionService) ListJournal(ctx context.Context, in *types.ListJournalRequest) (*types.ListJournalResponse, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if in == nil || in.AccessPointID == "" {
		return nil, status.Error(codes.InvalidArgument, "access_point_id is required")
	}
	var kind model.EventKind
	if in.Event != "" {
		k, err := model.ParseEventKind(in.Event)
		if err != nil {
			return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidEntity, err))
		}
		kind = k
	}
	pool := s.registry.Pool(in.AccessPointID)
	if pool == nil {
		return nil, ToStatusError(fmt.Errorf("%w: access point %q", ErrNotFound, in.AccessPointID))
	}

	entries := pool.Journal().Since(in.AfterSeq)
	resp := &types.ListJournalResponse{Entries: make([]types.JournalEntry, 0, len(entries))}
	for _, e := range entries {
		if kind != model.EventUnknown && e.Event != kind {
			continue
		}
		resp.Entries = append(resp.Entries, types.JournalEntryFromModel(e))
	}
	return resp, nil
}

// ensureReady verifies the service has been constructed correctly.
func (s *AdmissionService) ensureReady() error {
	if s == nil || s.registry == nil || s.controller == nil {
		return status.Error(codes.FailedPrecondition, "admission service is not configured")
	}
	return nil
}

// RegisterAdmissionServiceServer registers srv on s.
func RegisterAdmissionServiceServer(s grpc.ServiceRegistrar, srv AdmissionServiceServer) {
	s.RegisterService(&AdmissionService_ServiceDesc, srv)
}

// AdmissionService_ServiceDesc describes the admission service for grpc.Server.
var AdmissionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdmissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Admit", Handler: admitHandler},
		{MethodName: "Release", Handler: releaseHandler},
		{MethodName: "GetAccessPoint", Handler: getAccessPointHandler},
		{MethodName: "ListAccessPoints", Handler: listAccessPointsHandler},
		{MethodName: "ListJournal", Handler: listJournalHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rb/admission/v1/admission.json",
}

func admitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.AdmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).Admit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAdmit}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).Admit(ctx, req.(*types.AdmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func releaseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.ReleaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).Release(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRelease}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).Release(ctx, req.(*types.ReleaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getAccessPointHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.GetAccessPointRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).GetAccessPoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAccessPoint}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).GetAccessPoint(ctx, req.(*types.GetAccessPointRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listAccessPointsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.ListAccessPointsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).ListAccessPoints(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListAccessPoints}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).ListAccessPoints(ctx, req.(*types.ListAccessPointsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listJournalHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.ListJournalRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).ListJournal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListJournal}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).ListJournal(ctx, req.(*types.ListJournalRequest))
	}
	return interceptor(ctx, in, info, handler)
}
