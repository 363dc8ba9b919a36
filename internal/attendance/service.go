package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the service needs. Implemented by
// *Repository; faked in tests.
type Store interface {
	LocationByID(ctx context.Context, id string) (*Location, error)
	CurrentAssignment(ctx context.Context, studentID string, today time.Time) (*Assignment, error)
	DayRecord(ctx context.Context, studentID, internshipID string, date time.Time) (*Record, error)
	// CreateRecord inserts the day's record, returning ErrDuplicateRecord if
	// a concurrent submission created one first.
	CreateRecord(ctx context.Context, rec Record) (Record, error)
	// CompleteRecord sets the check-out fields, returning ErrRecordCompleted
	// if the record was already checked out.
	CompleteRecord(ctx context.Context, id string, out time.Time, stamp LocationStamp) (Record, error)
}

// Service owns the per-day attendance lifecycle: first accepted submission is
// a check-in, second is a check-out, further ones are rejected.
type Service struct {
	store    Store
	pipeline Pipeline
	clock    Clock
}

// NewService wires the state machine to its store, gate policy and clock.
func NewService(store Store, pipeline Pipeline, clock Clock) *Service {
	if clock == nil {
		clock = NewClock()
	}
	return &Service{store: store, pipeline: pipeline, clock: clock}
}

// Mark processes one attendance submission for a student. The sample has
// already been bound and field-validated by the transport layer; ip and
// photoURL travel into the stored location stamp.
func (s *Service) Mark(ctx context.Context, studentID, internshipID string, sample Sample, ip, photoURL string) (MarkResult, error) {
	loc, err := s.store.LocationByID(ctx, internshipID)
	if err != nil {
		return MarkResult{}, err
	}
	if loc == nil {
		return MarkResult{}, ErrLocationNotFound
	}

	now := s.clock.Now()
	verdict, err := s.pipeline.Evaluate(sample, *loc, clockTime(now))
	if err != nil {
		if ge, ok := AsGateError(err); ok {
			gateFailures.WithLabelValues(string(ge.Kind)).Inc()
		}
		return MarkResult{}, err
	}

	stamp := LocationStamp{
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		AccuracyMeters: sample.AccuracyMeters,
		DistanceMeters: verdict.DistanceMeters,
		IP:             ip,
		PhotoURL:       photoURL,
	}

	// One retry: if the insert loses the create race, re-read the day and run
	// the lifecycle step against the winner's record.
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.store.DayRecord(ctx, studentID, internshipID, dayOf(now))
		if err != nil {
			return MarkResult{}, err
		}

		switch {
		case rec == nil:
			res, err := s.checkIn(ctx, studentID, internshipID, now, stamp, verdict, *loc)
			if errors.Is(err, ErrDuplicateRecord) {
				continue
			}
			return res, err

		case rec.Status == StatusRejected:
			// Rejected is terminal for the day.
			gateFailures.WithLabelValues(string(KindDayRejected)).Inc()
			return MarkResult{}, &GateError{
				Kind:    KindDayRejected,
				Message: "Today's attendance was rejected and cannot be resubmitted.",
			}

		case rec.CheckOutTime == nil:
			updated, err := s.store.CompleteRecord(ctx, rec.ID, now, stamp)
			if errors.Is(err, ErrRecordCompleted) {
				continue
			}
			if err != nil {
				return MarkResult{}, err
			}
			markOutcomes.WithLabelValues(string(ResultCheckOut)).Inc()
			logrus.WithFields(logrus.Fields{
				"student":    studentID,
				"internship": internshipID,
				"distance_m": roundMeters(verdict.DistanceMeters),
			}).Info("attendance check-out")
			return MarkResult{Type: ResultCheckOut, Record: updated}, nil

		default:
			gateFailures.WithLabelValues(string(KindAlreadyCompleted)).Inc()
			return MarkResult{}, &GateError{
				Kind:    KindAlreadyCompleted,
				Message: "Attendance already completed for today.",
			}
		}
	}
	return MarkResult{}, ErrDuplicateRecord
}

func (s *Service) checkIn(ctx context.Context, studentID, internshipID string, now time.Time, stamp LocationStamp, verdict Verdict, loc Location) (MarkResult, error) {
	rec := Record{
		StudentID:    studentID,
		InternshipID: internshipID,
		Date:         dayOf(now),
		CheckInTime:  &now,
		CheckIn:      &stamp,
		Status:       StatusPresent,
		Suspicious:   verdict.Suspicious,
	}
	if verdict.Reason != "" {
		reason := verdict.Reason
		rec.SuspiciousReason = &reason
	}

	resultType := ResultCheckIn
	if s.pipeline.Extreme(verdict.DistanceMeters, loc) {
		reason := s.pipeline.ExtremeReason(verdict.DistanceMeters)
		rec.Status = StatusRejected
		rec.Suspicious = true
		rec.SuspiciousReason = &reason
		resultType = ResultRejected
	}

	created, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return MarkResult{}, err
	}

	markOutcomes.WithLabelValues(string(resultType)).Inc()
	if created.Suspicious {
		suspiciousMarks.Inc()
	}
	logrus.WithFields(logrus.Fields{
		"student":    studentID,
		"internship": internshipID,
		"distance_m": roundMeters(verdict.DistanceMeters),
		"suspicious": created.Suspicious,
		"result":     resultType,
	}).Info("attendance check-in")
	return MarkResult{Type: resultType, Record: created}, nil
}

// TodayStatus projects today's lifecycle for the student's current
// assignment. No assignment or no record yet both read as NOT_STARTED.
func (s *Service) TodayStatus(ctx context.Context, studentID string) (DayStatus, *Record, error) {
	today := dayOf(s.clock.Now())
	asg, err := s.store.CurrentAssignment(ctx, studentID, today)
	if err != nil {
		return DayUnknown, nil, err
	}
	if asg == nil {
		return DayNotStarted, nil, nil
	}
	rec, err := s.store.DayRecord(ctx, studentID, asg.InternshipID, today)
	if err != nil {
		return DayUnknown, nil, err
	}
	switch {
	case rec == nil:
		return DayNotStarted, nil, nil
	case rec.CheckInTime != nil && rec.CheckOutTime == nil:
		return DayCheckedIn, rec, nil
	case rec.CheckInTime != nil && rec.CheckOutTime != nil:
		return DayCompleted, rec, nil
	default:
		return DayUnknown, rec, nil
	}
}

// CurrentAssignment resolves the student's effective assignment for today,
// or nil when none exists.
func (s *Service) CurrentAssignment(ctx context.Context, studentID string) (*Assignment, error) {
	return s.store.CurrentAssignment(ctx, studentID, dayOf(s.clock.Now()))
}
