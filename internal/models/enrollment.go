package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// PaymentStatus mirrors the external payment collaborator. It is read-only
// for this service and never derived locally.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusWaived  PaymentStatus = "WAIVED"
)

// Enrollment captures one (user, course) registration. Progress is a derived
// cache recomputed from the completed-lesson set; it is never accepted from
// client input.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"user_id"`
	CourseID      string           `db:"course_id" json:"course_id"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	Progress      int              `db:"progress" json:"progress"`
	PaymentStatus PaymentStatus    `db:"payment_status" json:"payment_status"`
	EnrolledAt    time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with user and course info.
type EnrollmentDetail struct {
	Enrollment
	UserName    string `db:"user_name" json:"user_name"`
	UserEmail   string `db:"user_email" json:"user_email"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// CompletedLesson marks one (module index, topic) pair done for an
// enrollment. The tuple is unique per enrollment.
type CompletedLesson struct {
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	ModuleIndex  int       `db:"module_index" json:"module_index"`
	Topic        string    `db:"topic" json:"topic"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
}

// ProgressReport is the derived completion state for one enrollment.
type ProgressReport struct {
	PerModulePercent map[int]int `json:"per_module_percent"`
	OverallPercent   int         `json:"overall_percent"`
	CompletedTopics  int         `json:"completed_topics"`
	TotalTopics      int         `json:"total_topics"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID    string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
