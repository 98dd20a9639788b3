package nbi

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/rb-admission/internal/nbi/types"
)

var (
	ErrInvalidAdmit   = errors.New("invalid admit request")
	ErrInvalidRelease = errors.New("invalid release request")
)

// ValidateAdmitRequest performs structural validation before any pool is
// consulted. Duplicate candidates and signal checks are left to the
// controller, which reports them as invalid input too.
func ValidateAdmitRequest(in *types.AdmitRequest) error {
	if in == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidAdmit)
	}
	if strings.TrimSpace(in.StationID) == "" {
		return fmt.Errorf("%w: station_id is required", ErrInvalidAdmit)
	}
	if math.IsNaN(in.BandwidthMbps) || math.IsInf(in.BandwidthMbps, 0) || in.BandwidthMbps <= 0 {
		return fmt.Errorf("%w: bandwidth_mbps must be positive", ErrInvalidAdmit)
	}
	if _, err := types.DurationFromSeconds(in.DurationSeconds); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdmit, err)
	}
	for i, c := range in.Candidates {
		if strings.TrimSpace(c.AccessPointID) == "" {
			return fmt.Errorf("%w: candidates[%d].access_point_id is required", ErrInvalidAdmit, i)
		}
	}
	return nil
}

// ValidateReleaseRequest checks the release identifiers.
func ValidateReleaseRequest(in *types.ReleaseRequest) error {
	if in == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidRelease)
	}
	if strings.TrimSpace(in.AccessPointID) == "" {
		return fmt.Errorf("%w: access_point_id is required", ErrInvalidRelease)
	}
	if strings.TrimSpace(in.StationID) == "" {
		return fmt.Errorf("%w: station_id is required", ErrInvalidRelease)
	}
	return nil
}
