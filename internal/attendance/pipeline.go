package attendance

import (
	"fmt"
	"math"

	"campus/internal/geo"
)

// Sample is a submitted location reading.
type Sample struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	HasPhoto       bool
}

// Verdict is the outcome of a full gate pass: the computed geofence distance
// plus the suspicion flag set when a soft gate was satisfied only via photo.
type Verdict struct {
	DistanceMeters float64
	Suspicious     bool
	Reason         string
}

// Pipeline runs the ordered validation gates against a submission:
// reported accuracy, geofence distance, then the allowed time window.
// The first two are soft gates a photo can override; the time window is hard.
type Pipeline struct {
	// MaxAccuracyMeters is the worst reported GPS accuracy accepted without
	// photo evidence.
	MaxAccuracyMeters float64
	// ExtremeDistanceMeters is the margin beyond the geofence radius past
	// which a first submission is auto-rejected even with a photo.
	ExtremeDistanceMeters float64
}

// NewPipeline returns a pipeline with the default policy thresholds.
func NewPipeline() Pipeline {
	return Pipeline{MaxAccuracyMeters: 100, ExtremeDistanceMeters: 2000}
}

// Evaluate runs the gates in order. nowClock is the current local time as a
// zero-padded HH:MM string. A returned *GateError means no record may be
// created or mutated for this submission.
func (p Pipeline) Evaluate(s Sample, loc Location, nowClock string) (Verdict, error) {
	v := Verdict{
		DistanceMeters: geo.DistanceMeters(s.Latitude, s.Longitude, loc.Latitude, loc.Longitude),
	}

	// Gate 1: reported accuracy.
	if s.AccuracyMeters > p.MaxAccuracyMeters {
		if !s.HasPhoto {
			return Verdict{}, &GateError{
				Kind:          KindAccuracyTooLow,
				Message:       fmt.Sprintf("GPS accuracy too low (%dm). Submit a photo to verify.", roundMeters(s.AccuracyMeters)),
				RequiresPhoto: true,
			}
		}
		v.Suspicious = true
		v.Reason = fmt.Sprintf("Low Accuracy (%dm). Photo Verified.", roundMeters(s.AccuracyMeters))
	}

	// Gate 2: geofence. Skipped when gate 1 already flagged the attempt.
	if !v.Suspicious && v.DistanceMeters > loc.RadiusMeters {
		if !s.HasPhoto {
			return Verdict{}, &GateError{
				Kind:          KindLocationMismatch,
				Message:       fmt.Sprintf("You are %dm from %s. Submit a photo to verify.", roundMeters(v.DistanceMeters), loc.CompanyName),
				RequiresPhoto: true,
			}
		}
		v.Suspicious = true
		v.Reason = fmt.Sprintf("Location Mismatch (%dm away). Photo Verified.", roundMeters(v.DistanceMeters))
	}

	// Gate 3: time window. No photo override. Lexicographic HH:MM comparison;
	// windows crossing midnight are not supported.
	if nowClock < loc.AllowedStartTime || nowClock > loc.AllowedEndTime {
		return Verdict{}, &GateError{
			Kind:    KindOutsideTimeWindow,
			Message: fmt.Sprintf("Attendance allowed only between %s and %s.", loc.AllowedStartTime, loc.AllowedEndTime),
		}
	}

	return v, nil
}

// Extreme reports whether a distance is far enough past the geofence to
// auto-reject a first submission outright.
func (p Pipeline) Extreme(distanceMeters float64, loc Location) bool {
	return distanceMeters > loc.RadiusMeters+p.ExtremeDistanceMeters
}

// ExtremeReason is the suspicious-reason text for an auto-rejected record.
func (p Pipeline) ExtremeReason(distanceMeters float64) string {
	return fmt.Sprintf("Extreme Distance: %dm", roundMeters(distanceMeters))
}

func roundMeters(m float64) int {
	return int(math.Round(m))
}
