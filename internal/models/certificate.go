package models

import "time"

// CertificateStatus enumerates the certificate lifecycle states.
type CertificateStatus string

const (
	CertificateStatusRequested CertificateStatus = "REQUESTED"
	CertificateStatusIssued    CertificateStatus = "ISSUED"
	CertificateStatusRejected  CertificateStatus = "REJECTED"
	CertificateStatusRevoked   CertificateStatus = "REVOKED"
)

// CertificateStatusNone labels the absence of any certificate record in
// lifecycle events; it is never stored on a certificate row.
const CertificateStatusNone CertificateStatus = "NONE"

// Terminal reports whether the status admits no further student-initiated
// transitions.
func (s CertificateStatus) Terminal() bool {
	return s == CertificateStatusIssued || s == CertificateStatusRevoked
}

// Certificate is one certificate request record. A rejected certificate is
// superseded by a fresh row on reapplication; prior rows are retained as
// history and never mutated back to REQUESTED.
type Certificate struct {
	ID               string            `db:"id" json:"id"`
	EnrollmentID     string            `db:"enrollment_id" json:"enrollment_id"`
	Status           CertificateStatus `db:"status" json:"status"`
	SerialNumber     *string           `db:"serial_number" json:"serial_number,omitempty"`
	FileRef          *string           `db:"file_ref" json:"file_ref,omitempty"`
	RequestedAt      time.Time         `db:"requested_at" json:"requested_at"`
	IssuedAt         *time.Time        `db:"issued_at" json:"issued_at,omitempty"`
	RejectedAt       *time.Time        `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason  *string           `db:"rejection_reason" json:"rejection_reason,omitempty"`
	RevokedAt        *time.Time        `db:"revoked_at" json:"revoked_at,omitempty"`
	RevocationReason *string           `db:"revocation_reason" json:"revocation_reason,omitempty"`
}

// Active reports whether this record blocks a new request for the enrollment.
func (c *Certificate) Active() bool {
	return c.Status == CertificateStatusRequested || c.Status == CertificateStatusIssued
}

// CertificateEvent is one append-only lifecycle transition entry.
type CertificateEvent struct {
	ID            string            `db:"id" json:"id"`
	CertificateID string            `db:"certificate_id" json:"certificate_id"`
	EnrollmentID  string            `db:"enrollment_id" json:"enrollment_id"`
	ActorID       string            `db:"actor_id" json:"actor_id"`
	FromStatus    CertificateStatus `db:"from_status" json:"from_status"`
	ToStatus      CertificateStatus `db:"to_status" json:"to_status"`
	Detail        string            `db:"detail" json:"detail,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// CertificateDetail enriches a certificate with enrollment context for
// operator review queues.
type CertificateDetail struct {
	Certificate
	UserName    string `db:"user_name" json:"user_name"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// CertificateFilter provides filters for listing certificates.
type CertificateFilter struct {
	EnrollmentID string
	Status       CertificateStatus
	Page         int
	PageSize     int
}
