package attendance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeStore keeps records in memory, keyed like the unique index.
type fakeStore struct {
	loc     *Location
	asg     *Assignment
	records map[string]*Record

	// raceOnCreate makes the next CreateRecord lose to a simulated
	// concurrent writer that inserts its own record first.
	raceOnCreate bool
}

func newFakeStore(loc *Location, asg *Assignment) *fakeStore {
	return &fakeStore{loc: loc, asg: asg, records: make(map[string]*Record)}
}

func dayKey(studentID, internshipID string, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", studentID, internshipID, date.Format("2006-01-02"))
}

func (f *fakeStore) LocationByID(_ context.Context, id string) (*Location, error) {
	if f.loc != nil && f.loc.ID == id {
		return f.loc, nil
	}
	return nil, nil
}

func (f *fakeStore) CurrentAssignment(_ context.Context, studentID string, today time.Time) (*Assignment, error) {
	if f.asg != nil && f.asg.StudentID == studentID && !f.asg.EndDate.Before(today) {
		return f.asg, nil
	}
	return nil, nil
}

func (f *fakeStore) DayRecord(_ context.Context, studentID, internshipID string, date time.Time) (*Record, error) {
	if rec, ok := f.records[dayKey(studentID, internshipID, date)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateRecord(_ context.Context, rec Record) (Record, error) {
	key := dayKey(rec.StudentID, rec.InternshipID, rec.Date)
	if f.raceOnCreate {
		f.raceOnCreate = false
		winner := rec
		winner.ID = "winner"
		f.records[key] = &winner
		return Record{}, ErrDuplicateRecord
	}
	if _, ok := f.records[key]; ok {
		return Record{}, ErrDuplicateRecord
	}
	rec.ID = fmt.Sprintf("rec-%d", len(f.records)+1)
	rec.CreatedAt = time.Now()
	f.records[key] = &rec
	return rec, nil
}

func (f *fakeStore) CompleteRecord(_ context.Context, id string, out time.Time, stamp LocationStamp) (Record, error) {
	for _, rec := range f.records {
		if rec.ID != id {
			continue
		}
		if rec.CheckOutTime != nil {
			return Record{}, ErrRecordCompleted
		}
		rec.CheckOutTime = &out
		rec.CheckOut = &stamp
		return *rec, nil
	}
	return Record{}, ErrRecordCompleted
}

func testService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	loc := testSite
	asg := &Assignment{
		ID:           "asg-1",
		StudentID:    "stu-1",
		InternshipID: loc.ID,
		StartDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	store := newFakeStore(&loc, asg)
	clock := fixedClock{t: time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)}
	return NewService(store, NewPipeline(), clock), store
}

func TestMarkLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store := testService(t)

	res, err := svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "10.0.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, ResultCheckIn, res.Type)
	assert.Equal(t, StatusPresent, res.Record.Status)
	assert.False(t, res.Record.Suspicious)
	require.NotNil(t, res.Record.CheckInTime)
	assert.Nil(t, res.Record.CheckOutTime)
	assert.Equal(t, "10.0.0.1", res.Record.CheckIn.IP)

	res, err = svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "10.0.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, ResultCheckOut, res.Type)
	assert.Equal(t, StatusPresent, res.Record.Status)
	require.NotNil(t, res.Record.CheckOutTime)

	_, err = svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "10.0.0.1", "")
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, KindAlreadyCompleted, ge.Kind)

	assert.Len(t, store.records, 1)
}

func TestMarkGateFailuresTouchNoRecord(t *testing.T) {
	ctx := context.Background()
	svc, store := testService(t)

	lowAcc := onSite(false)
	lowAcc.AccuracyMeters = 250
	_, err := svc.Mark(ctx, "stu-1", "loc-1", lowAcc, "", "")
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, KindAccuracyTooLow, ge.Kind)
	assert.True(t, ge.RequiresPhoto)

	_, err = svc.Mark(ctx, "stu-1", "loc-1", offSite(0.01, false), "", "")
	ge, ok = AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, KindLocationMismatch, ge.Kind)
	assert.True(t, ge.RequiresPhoto)

	assert.Empty(t, store.records)
}

func TestMarkPhotoOverrides(t *testing.T) {
	ctx := context.Background()

	t.Run("low accuracy with photo checks in flagged", func(t *testing.T) {
		svc, _ := testService(t)
		s := onSite(true)
		s.AccuracyMeters = 250
		res, err := svc.Mark(ctx, "stu-1", "loc-1", s, "", "https://cdn/photo.jpg")
		require.NoError(t, err)
		assert.Equal(t, ResultCheckIn, res.Type)
		assert.True(t, res.Record.Suspicious)
		require.NotNil(t, res.Record.SuspiciousReason)
		assert.Contains(t, *res.Record.SuspiciousReason, "250m")
		assert.Equal(t, "https://cdn/photo.jpg", res.Record.CheckIn.PhotoURL)
	})

	t.Run("moderate distance with photo checks in flagged", func(t *testing.T) {
		svc, _ := testService(t)
		res, err := svc.Mark(ctx, "stu-1", "loc-1", offSite(0.01, true), "", "https://cdn/photo.jpg")
		require.NoError(t, err)
		assert.Equal(t, ResultCheckIn, res.Type)
		assert.Equal(t, StatusPresent, res.Record.Status)
		assert.True(t, res.Record.Suspicious)
		assert.Contains(t, *res.Record.SuspiciousReason, "Location Mismatch")
	})
}

func TestMarkExtremeDistanceRejects(t *testing.T) {
	ctx := context.Background()
	svc, store := testService(t)

	// ~5.5km north of the site, photo attached.
	res, err := svc.Mark(ctx, "stu-1", "loc-1", offSite(0.05, true), "", "https://cdn/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, res.Type)
	assert.Equal(t, StatusRejected, res.Record.Status)
	assert.True(t, res.Record.Suspicious)
	require.NotNil(t, res.Record.SuspiciousReason)
	assert.Contains(t, *res.Record.SuspiciousReason, "Extreme Distance")

	// Rejected is terminal for the day.
	_, err = svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "", "")
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, KindDayRejected, ge.Kind)
	assert.Len(t, store.records, 1)
}

func TestMarkOutsideTimeWindow(t *testing.T) {
	ctx := context.Background()
	loc := testSite
	store := newFakeStore(&loc, nil)
	clock := fixedClock{t: time.Date(2025, 3, 10, 6, 45, 0, 0, time.UTC)}
	svc := NewService(store, NewPipeline(), clock)

	_, err := svc.Mark(ctx, "stu-1", "loc-1", offSite(0.01, true), "", "https://cdn/photo.jpg")
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, KindOutsideTimeWindow, ge.Kind)
	assert.False(t, ge.RequiresPhoto)
	assert.Empty(t, store.records)
}

func TestMarkUnknownLocation(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	_, err := svc.Mark(ctx, "stu-1", "loc-missing", onSite(false), "", "")
	assert.ErrorIs(t, err, ErrLocationNotFound)
}

func TestMarkCreateRaceFallsThroughToCheckOut(t *testing.T) {
	ctx := context.Background()
	svc, store := testService(t)
	store.raceOnCreate = true

	// The losing insert re-reads the winner's record and checks out against it.
	res, err := svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "", "")
	require.NoError(t, err)
	assert.Equal(t, ResultCheckOut, res.Type)
	assert.Len(t, store.records, 1)
}

func TestTodayStatusProjection(t *testing.T) {
	ctx := context.Background()
	svc, _ := testService(t)

	status, rec, err := svc.TodayStatus(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, DayNotStarted, status)
	assert.Nil(t, rec)

	_, err = svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "", "")
	require.NoError(t, err)
	status, rec, err = svc.TodayStatus(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, DayCheckedIn, status)
	require.NotNil(t, rec)

	_, err = svc.Mark(ctx, "stu-1", "loc-1", onSite(false), "", "")
	require.NoError(t, err)
	status, rec, err = svc.TodayStatus(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, DayCompleted, status)
	require.NotNil(t, rec)
}

func TestTodayStatusWithoutAssignment(t *testing.T) {
	ctx := context.Background()
	loc := testSite
	store := newFakeStore(&loc, nil)
	svc := NewService(store, NewPipeline(), fixedClock{t: time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)})

	status, rec, err := svc.TodayStatus(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, DayNotStarted, status)
	assert.Nil(t, rec)
}

func TestCurrentAssignment(t *testing.T) {
	ctx := context.Background()
	svc, store := testService(t)

	asg, err := svc.CurrentAssignment(ctx, "stu-1")
	require.NoError(t, err)
	require.NotNil(t, asg)
	assert.Equal(t, "loc-1", asg.InternshipID)

	store.asg = nil
	asg, err = svc.CurrentAssignment(ctx, "stu-1")
	require.NoError(t, err)
	assert.Nil(t, asg)
}
