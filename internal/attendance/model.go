package attendance

import "time"

// Status is the persisted outcome of a day's attendance record.
type Status string

const (
	StatusPresent  Status = "present"
	StatusRejected Status = "rejected"
)

// ResultType tags a successful mark outcome.
type ResultType string

const (
	ResultCheckIn  ResultType = "CHECK_IN"
	ResultCheckOut ResultType = "CHECK_OUT"
	ResultRejected ResultType = "REJECTED"
)

// DayStatus is the client-facing projection of today's lifecycle.
type DayStatus string

const (
	DayNotStarted DayStatus = "NOT_STARTED"
	DayCheckedIn  DayStatus = "CHECKED_IN"
	DayCompleted  DayStatus = "COMPLETED"
	DayUnknown    DayStatus = "UNKNOWN"
)

// Location is an internship site with its geofence and allowed time window.
// Owned by administrative tooling; read-only here.
type Location struct {
	ID           string  `json:"id"`
	CompanyName  string  `json:"company_name"`
	Address      string  `json:"address"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	// Local time-of-day bounds as zero-padded HH:MM strings.
	AllowedStartTime string `json:"allowed_start_time"`
	AllowedEndTime   string `json:"allowed_end_time"`
	Active           bool   `json:"active"`
}

// Assignment links a student to an internship location for a date range.
type Assignment struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	InternshipID string    `json:"internship_id"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	AllowedDays  []string  `json:"allowed_days"`
}

// LocationStamp captures where and how precisely a submission was made.
type LocationStamp struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters"`
	DistanceMeters float64 `json:"distance_meters"`
	IP             string  `json:"ip,omitempty"`
	PhotoURL       string  `json:"photo_url,omitempty"`
}

// Record is the per (student, internship, date) attendance row. At most one
// exists per key; the unique index in the schema enforces it.
type Record struct {
	ID               string         `json:"id"`
	StudentID        string         `json:"student_id"`
	InternshipID     string         `json:"internship_id"`
	Date             time.Time      `json:"attendance_date"`
	CheckInTime      *time.Time     `json:"check_in_time,omitempty"`
	CheckIn          *LocationStamp `json:"check_in_location,omitempty"`
	CheckOutTime     *time.Time     `json:"check_out_time,omitempty"`
	CheckOut         *LocationStamp `json:"check_out_location,omitempty"`
	Status           Status         `json:"status"`
	Suspicious       bool           `json:"is_suspicious"`
	SuspiciousReason *string        `json:"suspicious_reason,omitempty"`
	NotifiedAt       *time.Time     `json:"notified_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// MarkResult is the tagged outcome of a successful mark submission.
type MarkResult struct {
	Type   ResultType `json:"type"`
	Record Record     `json:"record"`
}
