package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LocationByID returns an active internship location, or nil when absent.
func (r *Repository) LocationByID(ctx context.Context, id string) (*Location, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, company_name, address, latitude, longitude, radius_meters,
		       allowed_start_time, allowed_end_time, active
		FROM internship_locations
		WHERE id = $1 AND active = TRUE
	`, id)
	var loc Location
	if err := row.Scan(&loc.ID, &loc.CompanyName, &loc.Address, &loc.Latitude, &loc.Longitude,
		&loc.RadiusMeters, &loc.AllowedStartTime, &loc.AllowedEndTime, &loc.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &loc, nil
}

// CurrentAssignment returns the student's effective assignment: the one with
// the latest start date whose end date has not passed. No lower bound is
// applied to start_date, matching the administrative tooling's rule.
func (r *Repository) CurrentAssignment(ctx context.Context, studentID string, today time.Time) (*Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, internship_id, start_date, end_date, allowed_days
		FROM internship_assignments
		WHERE student_id = $1 AND end_date >= $2
		ORDER BY start_date DESC
		LIMIT 1
	`, studentID, today)
	var (
		asg  Assignment
		days string
	)
	if err := row.Scan(&asg.ID, &asg.StudentID, &asg.InternshipID, &asg.StartDate, &asg.EndDate, &days); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if days != "" {
		asg.AllowedDays = strings.Split(days, ",")
	}
	return &asg, nil
}

const recordColumns = `
	id, student_id, internship_id, attendance_date,
	check_in_time, check_in_lat, check_in_lon, check_in_accuracy_m, check_in_distance_m, check_in_ip, check_in_photo_url,
	check_out_time, check_out_lat, check_out_lon, check_out_accuracy_m, check_out_distance_m, check_out_ip, check_out_photo_url,
	status, is_suspicious, suspicious_reason, notified_at, created_at`

// DayRecord returns the single record for (student, internship, date), or nil.
func (r *Repository) DayRecord(ctx context.Context, studentID, internshipID string, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND internship_id = $2 AND attendance_date = $3
	`, studentID, internshipID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// RecordByID returns one record by primary key.
func (r *Repository) RecordByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// CreateRecord inserts the day's record. The unique index on
// (student_id, internship_id, attendance_date) closes the create race: a
// losing insert reports ErrDuplicateRecord instead of writing a second row.
func (r *Repository) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var in LocationStamp
	if rec.CheckIn != nil {
		in = *rec.CheckIn
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (
			id, student_id, internship_id, attendance_date,
			check_in_time, check_in_lat, check_in_lon, check_in_accuracy_m, check_in_distance_m, check_in_ip, check_in_photo_url,
			status, is_suspicious, suspicious_reason
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (student_id, internship_id, attendance_date) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.InternshipID, rec.Date,
		rec.CheckInTime, in.Latitude, in.Longitude, in.AccuracyMeters, in.DistanceMeters,
		nullIfEmpty(in.IP), nullIfEmpty(in.PhotoURL),
		rec.Status, rec.Suspicious, rec.SuspiciousReason)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// CompleteRecord writes the check-out half of a record. The check_out_time
// guard makes concurrent check-outs lose cleanly instead of overwriting.
func (r *Repository) CompleteRecord(ctx context.Context, id string, out time.Time, stamp LocationStamp) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET check_out_time = $2, check_out_lat = $3, check_out_lon = $4,
		    check_out_accuracy_m = $5, check_out_distance_m = $6,
		    check_out_ip = $7, check_out_photo_url = $8
		WHERE id = $1 AND check_out_time IS NULL
		RETURNING `+recordColumns+`
	`, id, out, stamp.Latitude, stamp.Longitude, stamp.AccuracyMeters, stamp.DistanceMeters,
		nullIfEmpty(stamp.IP), nullIfEmpty(stamp.PhotoURL))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrRecordCompleted
		}
		return Record{}, err
	}
	return *rec, nil
}

// ListRecords returns a student's records, newest first.
func (r *Repository) ListRecords(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY attendance_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// MarkNotified stamps a flagged record once the notification worker has
// handled it.
func (r *Repository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET notified_at = $2 WHERE id = $1
	`, id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec             Record
		inLat, inLon    sql.NullFloat64
		inAcc, inDist   sql.NullFloat64
		inIP, inPhoto   sql.NullString
		outLat, outLon  sql.NullFloat64
		outAcc, outDist sql.NullFloat64
		outIP, outPhoto sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.StudentID, &rec.InternshipID, &rec.Date,
		&rec.CheckInTime, &inLat, &inLon, &inAcc, &inDist, &inIP, &inPhoto,
		&rec.CheckOutTime, &outLat, &outLon, &outAcc, &outDist, &outIP, &outPhoto,
		&rec.Status, &rec.Suspicious, &rec.SuspiciousReason, &rec.NotifiedAt, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if rec.CheckInTime != nil {
		rec.CheckIn = &LocationStamp{
			Latitude:       inLat.Float64,
			Longitude:      inLon.Float64,
			AccuracyMeters: inAcc.Float64,
			DistanceMeters: inDist.Float64,
			IP:             inIP.String,
			PhotoURL:       inPhoto.String,
		}
	}
	if rec.CheckOutTime != nil {
		rec.CheckOut = &LocationStamp{
			Latitude:       outLat.Float64,
			Longitude:      outLon.Float64,
			AccuracyMeters: outAcc.Float64,
			DistanceMeters: outDist.Float64,
			IP:             outIP.String,
			PhotoURL:       outPhoto.String,
		}
	}
	return &rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
