package core

import "context"

// PathHandle is an opaque reference to an attached capacity path.
type PathHandle string

// PathAttacher establishes the external capacity path for a new lease. It
// may block; callers bound it through ctx.
type PathAttacher interface {
	Attach(ctx context.Context, stationID, accessPointID string, units int) (PathHandle, error)
}

// PathDetacher tears down a previously attached capacity path.
type PathDetacher interface {
	Detach(ctx context.Context, handle PathHandle) error
}

// CapacityPath is the full attach/detach primitive.
type CapacityPath interface {
	PathAttacher
	PathDetacher
}

// AttachFunc adapts a function to PathAttacher.
type AttachFunc func(ctx context.Context, stationID, accessPointID string, units int) (PathHandle, error)

func (f AttachFunc) Attach(ctx context.Context, stationID, accessPointID string, units int) (PathHandle, error) {
	return f(ctx, stationID, accessPointID, units)
}

// DetachFunc adapts a function to PathDetacher.
type DetachFunc func(ctx context.Context, handle PathHandle) error

func (f DetachFunc) Detach(ctx context.Context, handle PathHandle) error {
	return f(ctx, handle)
}
