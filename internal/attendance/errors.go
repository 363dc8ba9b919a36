package attendance

import "errors"

// GateKind identifies which gate or lifecycle rule blocked a submission.
type GateKind string

const (
	KindValidation        GateKind = "validation"
	KindAccuracyTooLow    GateKind = "accuracy_too_low"
	KindLocationMismatch  GateKind = "location_mismatch"
	KindOutsideTimeWindow GateKind = "outside_time_window"
	KindAlreadyCompleted  GateKind = "already_completed"
	KindDayRejected       GateKind = "day_rejected"
)

// GateError is returned when a submission is blocked before any record is
// created or mutated. RequiresPhoto tells the caller a resubmission with
// photo evidence can pass the failed gate.
type GateError struct {
	Kind          GateKind
	Message       string
	RequiresPhoto bool
}

func (e *GateError) Error() string { return e.Message }

// AsGateError unwraps err into a *GateError if it is one.
func AsGateError(err error) (*GateError, bool) {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ErrLocationNotFound is returned when the referenced internship location
// does not exist or is inactive.
var ErrLocationNotFound = errors.New("internship location not found")

// ErrDuplicateRecord is returned by the store when an insert loses the race
// against another submission for the same student, internship and date.
var ErrDuplicateRecord = errors.New("attendance record already exists for this day")

// ErrRecordCompleted is returned by the store when a check-out update finds
// the record already completed.
var ErrRecordCompleted = errors.New("attendance record already completed")
