package core

import "errors"

var (
	// ErrInvalidRequest rejects malformed input before any pool is touched.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientCapacity is a pool denial: fewer units are free than asked.
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	// ErrNoCapacityAvailable means every candidate access point denied.
	ErrNoCapacityAvailable = errors.New("no capacity available")
	// ErrCapacityPathFailure wraps a failed attach or detach.
	ErrCapacityPathFailure = errors.New("capacity path failure")
	// ErrReservationExists denies a second lease for the same station on one access point.
	ErrReservationExists = errors.New("station already holds a reservation")
	// ErrUnknownAccessPoint indicates the access point is not registered.
	ErrUnknownAccessPoint = errors.New("unknown access point")
	// ErrAccessPointExists indicates a duplicate registration.
	ErrAccessPointExists = errors.New("access point already exists")
)
