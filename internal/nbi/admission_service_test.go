package nbi

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rb-admission/internal/admission"
	"github.com/signalsfoundry/rb-admission/internal/fabric"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/internal/nbi/types"
	"github.com/signalsfoundry/rb-admission/kb"
	"github.com/signalsfoundry/rb-admission/model"
)

type admissionTestEnv struct {
	ctx      context.Context
	registry *kb.KnowledgeBase
	fab      *fabric.Fabric
	client   AdmissionClient
}

func newAdmissionTestEnv(t *testing.T) *admissionTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	registry := kb.NewKnowledgeBase()
	for _, id := range []string{"ap-a", "ap-b"} {
		if _, err := registry.AddFromSpec(model.AccessPointSpec{ID: id, TotalUnits: 52}, 52); err != nil {
			cancel()
			t.Fatalf("AddFromSpec(%s): %v", id, err)
		}
	}
	fab := fabric.New()
	scanner := fabric.NewStaticScanner([]model.StationSpec{
		{ID: "sta-2", Signals: []model.SignalSample{{AccessPointID: "ap-b", SignalDBm: -65}}},
	})
	controller := admission.NewController(registry,
		admission.WithPath(fab),
		admission.WithScanner(scanner),
	)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		cancel()
		t.Fatalf("net.Listen: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
	))
	RegisterAdmissionServiceServer(grpcServer, NewAdmissionService(registry, controller, logging.Noop()))

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	)
	if err != nil {
		cancel()
		t.Fatalf("grpc.NewClient: %v", err)
	}

	t.Cleanup(func() {
		grpcServer.GracefulStop()
		_ = conn.Close()
		cancel()
	})

	return &admissionTestEnv{
		ctx:      ctx,
		registry: registry,
		fab:      fab,
		client:   NewAdmissionClient(conn),
	}
}

func TestAdmissionServiceEndToEnd(t *testing.T) {
	env := newAdmissionTestEnv(t)
	ctx := logging.ContextWithRequestID(env.ctx, "req-e2e")

	resp, err := env.client.Admit(ctx, &types.AdmitRequest{
		StationID:       "sta-1",
		BandwidthMbps:   20,
		DurationSeconds: 30,
		Candidates: []types.Candidate{
			{AccessPointID: "ap-b", SignalDBm: -85},
			{AccessPointID: "ap-a", SignalDBm: -55},
		},
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !resp.Admitted || resp.AccessPointID != "ap-a" {
		t.Fatalf("expected admission on strongest candidate ap-a, got %#v", resp)
	}
	// -55 dBm is class 12 at 1.2 Mbps per unit: ceil(20/1.2) = 17.
	if resp.Units != 17 || resp.QualityClass != 12 {
		t.Fatalf("units/class = %d/%d, want 17/12", resp.Units, resp.QualityClass)
	}
	if resp.Reservation == nil || resp.Reservation.DurationSeconds != 30 || resp.Reservation.PathHandle == "" {
		t.Fatalf("unexpected reservation %#v", resp.Reservation)
	}
	if len(resp.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(resp.Attempts))
	}
	if got := env.fab.ProvisionedUnits("ap-a"); got != 17 {
		t.Fatalf("fabric provisioned %d units on ap-a, want 17", got)
	}

	ap, err := env.client.GetAccessPoint(ctx, &types.GetAccessPointRequest{AccessPointID: "ap-a"})
	if err != nil {
		t.Fatalf("GetAccessPoint: %v", err)
	}
	if ap.AvailableUnits != 35 || ap.ReservedUnits != 17 || ap.TotalUnits != 52 {
		t.Fatalf("unexpected access point %#v", ap)
	}

	// Scanned admission.
	scanned, err := env.client.Admit(ctx, &types.AdmitRequest{StationID: "sta-2", BandwidthMbps: 10, DurationSeconds: 5})
	if err != nil {
		t.Fatalf("Admit(scanned): %v", err)
	}
	if !scanned.Admitted || scanned.AccessPointID != "ap-b" || scanned.Units != 10 {
		t.Fatalf("unexpected scanned admission %#v", scanned)
	}

	list, err := env.client.ListAccessPoints(ctx, &types.ListAccessPointsRequest{})
	if err != nil {
		t.Fatalf("ListAccessPoints: %v", err)
	}
	if len(list.AccessPoints) != 2 || list.AccessPoints[0].ID != "ap-a" || list.AccessPoints[1].AvailableUnits != 42 {
		t.Fatalf("unexpected list %#v", list.AccessPoints)
	}

	rel, err := env.client.Release(ctx, &types.ReleaseRequest{AccessPointID: "ap-a", StationID: "sta-1"})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !rel.Released {
		t.Fatalf("first release should report released")
	}
	rel, err = env.client.Release(ctx, &types.ReleaseRequest{AccessPointID: "ap-a", StationID: "sta-1"})
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if rel.Released {
		t.Fatalf("second release should be a no-op")
	}
	if got := env.fab.ProvisionedUnits("ap-a"); got != 0 {
		t.Fatalf("fabric still provisions %d units on ap-a", got)
	}

	journal, err := env.client.ListJournal(ctx, &types.ListJournalRequest{AccessPointID: "ap-a"})
	if err != nil {
		t.Fatalf("ListJournal: %v", err)
	}
	if len(journal.Entries) != 2 || journal.Entries[0].Event != "ADMITTED" || journal.Entries[1].Event != "RELEASED" {
		t.Fatalf("unexpected journal %#v", journal.Entries)
	}
	if journal.Entries[1].RemainingUnits != 52 {
		t.Fatalf("remaining after release = %d, want 52", journal.Entries[1].RemainingUnits)
	}

	admitted, err := env.client.ListJournal(ctx, &types.ListJournalRequest{AccessPointID: "ap-a", Event: "ADMITTED"})
	if err != nil {
		t.Fatalf("ListJournal(ADMITTED): %v", err)
	}
	if len(admitted.Entries) != 1 {
		t.Fatalf("filtered journal = %d entries, want 1", len(admitted.Entries))
	}
	after, err := env.client.ListJournal(ctx, &types.ListJournalRequest{AccessPointID: "ap-a", AfterSeq: journal.Entries[0].Seq})
	if err != nil {
		t.Fatalf("ListJournal(after): %v", err)
	}
	if len(after.Entries) != 1 || after.Entries[0].Event != "RELEASED" {
		t.Fatalf("paged journal %#v", after.Entries)
	}
}

func TestAdmissionServiceDenialIsNotAnError(t *testing.T) {
	env := newAdmissionTestEnv(t)

	// -95 dBm is class 3, which has no capacity entry and falls back to
	// 1 Mbps per unit: 100 units exceed both pools.
	resp, err := env.client.Admit(env.ctx, &types.AdmitRequest{
		StationID:       "sta-3",
		BandwidthMbps:   100,
		DurationSeconds: 10,
		Candidates: []types.Candidate{
			{AccessPointID: "ap-a", SignalDBm: -95},
			{AccessPointID: "ap-b", SignalDBm: -95},
		},
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if resp.Admitted {
		t.Fatalf("expected denial, got %#v", resp)
	}
	if len(resp.Attempts) != 2 || !strings.Contains(resp.Reason, "no capacity") {
		t.Fatalf("unexpected denial %#v", resp)
	}
	for _, id := range []string{"ap-a", "ap-b"} {
		if avail := env.registry.Pool(id).AvailableUnits(); avail != 52 {
			t.Fatalf("%s available = %d after denial, want 52", id, avail)
		}
	}
}

func TestAdmissionServiceErrorCodes(t *testing.T) {
	env := newAdmissionTestEnv(t)

	cases := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{
			name: "zero bandwidth",
			call: func() error {
				_, err := env.client.Admit(env.ctx, &types.AdmitRequest{StationID: "s", DurationSeconds: 1})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "duplicate candidates",
			call: func() error {
				_, err := env.client.Admit(env.ctx, &types.AdmitRequest{
					StationID: "s", BandwidthMbps: 1, DurationSeconds: 1,
					Candidates: []types.Candidate{{AccessPointID: "ap-a", SignalDBm: -50}, {AccessPointID: "ap-a", SignalDBm: -60}},
				})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "release on unknown access point",
			call: func() error {
				_, err := env.client.Release(env.ctx, &types.ReleaseRequest{AccessPointID: "ap-x", StationID: "s"})
				return err
			},
			code: codes.NotFound,
		},
		{
			name: "get unknown access point",
			call: func() error {
				_, err := env.client.GetAccessPoint(env.ctx, &types.GetAccessPointRequest{AccessPointID: "ap-x"})
				return err
			},
			code: codes.NotFound,
		},
		{
			name: "journal with bad event",
			call: func() error {
				_, err := env.client.ListJournal(env.ctx, &types.ListJournalRequest{AccessPointID: "ap-a", Event: "BOGUS"})
				return err
			},
			code: codes.InvalidArgument,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code := status.Code(tc.call()); code != tc.code {
				t.Fatalf("code = %v, want %v", code, tc.code)
			}
		})
	}
}

func TestAdmissionServiceNotConfigured(t *testing.T) {
	var svc *AdmissionService
	if _, err := svc.ListAccessPoints(context.Background(), nil); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("nil service err = %v, want FailedPrecondition", err)
	}
}
