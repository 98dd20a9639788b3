package nbi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/signalsfoundry/rb-admission/internal/nbi/types"
)

// AdmissionClient is the client API of the admission service.
type AdmissionClient interface {
	Admit(ctx context.Context, in *types.AdmitRequest, opts ...grpc.CallOption) (*types.AdmitResponse, error)
	Release(ctx context.Context, in *types.ReleaseRequest, opts ...grpc.CallOption) (*types.ReleaseResponse, error)
	GetAccessPoint(ctx context.Context, in *types.GetAccessPointRequest, opts ...grpc.CallOption) (*types.AccessPoint, error)
	ListAccessPoints(ctx context.Context, in *types.ListAccessPointsRequest, opts ...grpc.CallOption) (*types.ListAccessPointsResponse, error)
	ListJournal(ctx context.Context, in *types.ListJournalRequest, opts ...grpc.CallOption) (*types.ListJournalResponse, error)
}

type admissionClient struct {
	cc grpc.ClientConnInterface
}

// NewAdmissionClient wraps cc. Every call uses the JSON codec.
func NewAdmissionClient(cc grpc.ClientConnInterface) AdmissionClient {
	return &admissionClient{cc: cc}
}

func (c *admissionClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *admissionClient) Admit(ctx context.Context, in *types.AdmitRequest, opts ...grpc.CallOption) (*types.AdmitResponse, error) {
	out := new(types.AdmitResponse)
	if err := c.invoke(ctx, methodAdmit, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *admissionClient) Release(ctx context.Context, in *types.ReleaseRequest, opts ...grpc.CallOption) (*types.ReleaseResponse, error) {
	out := new(types.ReleaseResponse)
	if err := c.invoke(ctx, methodRelease, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *admissionClient) GetAccessPoint(ctx context.Context, in *types.GetAccessPointRequest, opts ...grpc.CallOption) (*types.AccessPoint, error) {
	out := new(types.AccessPoint)
	if err := c.invoke(ctx, methodGetAccessPoint, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *admissionClient) ListAccessPoints(ctx context.Context, in *types.ListAccessPointsRequest, opts ...grpc.CallOption) (*types.ListAccessPointsResponse, error) {
	out := new(types.ListAccessPointsResponse)
	if err := c.invoke(ctx, methodListAccessPoints, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *admissionClient) ListJournal(ctx context.Context, in *types.ListJournalRequest, opts ...grpc.CallOption) (*types.ListJournalResponse, error) {
	out := new(types.ListJournalResponse)
	if err := c.invoke(ctx, methodListJournal, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
