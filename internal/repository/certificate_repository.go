package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codetribe/bootcamp-api/internal/models"
)

// CertificateRepository handles persistence of certificate requests and
// their append-only lifecycle events.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// FindByID returns a certificate by its ID.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	const query = `SELECT id, enrollment_id, status, serial_number, file_ref, requested_at, issued_at,
        rejected_at, rejection_reason, revoked_at, revocation_reason FROM certificates WHERE id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindDetailByID returns a certificate with enrollment context.
func (r *CertificateRepository) FindDetailByID(ctx context.Context, id string) (*models.CertificateDetail, error) {
	const query = `SELECT ct.id, ct.enrollment_id, ct.status, ct.serial_number, ct.file_ref, ct.requested_at,
        ct.issued_at, ct.rejected_at, ct.rejection_reason, ct.revoked_at, ct.revocation_reason,
        u.full_name AS user_name, c.title AS course_title
        FROM certificates ct
        LEFT JOIN enrollments e ON e.id = ct.enrollment_id
        LEFT JOIN users u ON u.id = e.user_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE ct.id = $1`
	var detail models.CertificateDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByEnrollment returns the REQUESTED or ISSUED certificate for an
// enrollment when one exists.
func (r *CertificateRepository) FindActiveByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	const query = `SELECT id, enrollment_id, status, serial_number, file_ref, requested_at, issued_at,
        rejected_at, rejection_reason, revoked_at, revocation_reason FROM certificates
        WHERE enrollment_id = $1 AND status IN ($2, $3) LIMIT 1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, enrollmentID, models.CertificateStatusRequested, models.CertificateStatusIssued); err != nil {
		return nil, err
	}
	return &cert, nil
}

// ListByEnrollment returns all certificate records for an enrollment, newest
// first. Superseded rejected requests are part of this history.
func (r *CertificateRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Certificate, error) {
	const query = `SELECT id, enrollment_id, status, serial_number, file_ref, requested_at, issued_at,
        rejected_at, rejection_reason, revoked_at, revocation_reason FROM certificates
        WHERE enrollment_id = $1 ORDER BY requested_at DESC`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment certificates: %w", err)
	}
	return certs, nil
}

// List returns certificates for operator review queues.
func (r *CertificateRepository) List(ctx context.Context, filter models.CertificateFilter) ([]models.CertificateDetail, int, error) {
	base := `FROM certificates ct
LEFT JOIN enrollments e ON e.id = ct.enrollment_id
LEFT JOIN users u ON u.id = e.user_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("ct.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("ct.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ct.id, ct.enrollment_id, ct.status, ct.serial_number, ct.file_ref, ct.requested_at,
        ct.issued_at, ct.rejected_at, ct.rejection_reason, ct.revoked_at, ct.revocation_reason,
        u.full_name AS user_name, c.title AS course_title
        %s ORDER BY ct.requested_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var certs []models.CertificateDetail
	if err := r.db.SelectContext(ctx, &certs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list certificates: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}
	return certs, total, nil
}

// CreateRequest inserts a new REQUESTED certificate only when the enrollment
// holds no blocking record: REQUESTED and ISSUED are the active states, and
// REVOKED ends the lifecycle for good. The guard is a conditional write, not
// read-then-write, so concurrent duplicate requests cannot both create
// records. It reports whether the row was created.
func (r *CertificateRepository) CreateRequest(ctx context.Context, cert *models.Certificate) (bool, error) {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.RequestedAt.IsZero() {
		cert.RequestedAt = time.Now().UTC()
	}
	cert.Status = models.CertificateStatusRequested

	const query = `INSERT INTO certificates (id, enrollment_id, status, requested_at)
        SELECT $1, $2, $3, $4
        WHERE NOT EXISTS (
            SELECT 1 FROM certificates WHERE enrollment_id = $2 AND status IN ($5, $6, $7)
        )`
	res, err := r.db.ExecContext(ctx, query,
		cert.ID, cert.EnrollmentID, cert.Status, cert.RequestedAt,
		models.CertificateStatusRequested, models.CertificateStatusIssued, models.CertificateStatusRevoked,
	)
	if err != nil {
		return false, fmt.Errorf("create certificate request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create certificate request result: %w", err)
	}
	return affected > 0, nil
}

// MarkIssued transitions REQUESTED -> ISSUED with the artifact reference and
// serial. The status predicate makes the write conditional so a concurrent
// decision cannot issue twice.
func (r *CertificateRepository) MarkIssued(ctx context.Context, id, serialNumber, fileRef string, issuedAt time.Time) (bool, error) {
	const query = `UPDATE certificates SET status = $2, serial_number = $3, file_ref = $4, issued_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, models.CertificateStatusIssued, serialNumber, fileRef, issuedAt, models.CertificateStatusRequested)
	if err != nil {
		return false, fmt.Errorf("issue certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("issue certificate result: %w", err)
	}
	return affected > 0, nil
}

// MarkRejected transitions REQUESTED -> REJECTED with a reason.
func (r *CertificateRepository) MarkRejected(ctx context.Context, id, reason string, rejectedAt time.Time) (bool, error) {
	const query = `UPDATE certificates SET status = $2, rejection_reason = $3, rejected_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.CertificateStatusRejected, reason, rejectedAt, models.CertificateStatusRequested)
	if err != nil {
		return false, fmt.Errorf("reject certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject certificate result: %w", err)
	}
	return affected > 0, nil
}

// MarkRevoked transitions ISSUED -> REVOKED, the operator-only path.
func (r *CertificateRepository) MarkRevoked(ctx context.Context, id, reason string, revokedAt time.Time) (bool, error) {
	const query = `UPDATE certificates SET status = $2, revocation_reason = $3, revoked_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.CertificateStatusRevoked, reason, revokedAt, models.CertificateStatusIssued)
	if err != nil {
		return false, fmt.Errorf("revoke certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke certificate result: %w", err)
	}
	return affected > 0, nil
}

// AppendEvent records one lifecycle transition in the append-only log.
func (r *CertificateRepository) AppendEvent(ctx context.Context, event *models.CertificateEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificate_events (id, certificate_id, enrollment_id, actor_id, from_status, to_status, detail, created_at)
        VALUES (:id, :certificate_id, :enrollment_id, :actor_id, :from_status, :to_status, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("append certificate event: %w", err)
	}
	return nil
}

// ListEvents returns the transition history for an enrollment, oldest first.
func (r *CertificateRepository) ListEvents(ctx context.Context, enrollmentID string) ([]models.CertificateEvent, error) {
	const query = `SELECT id, certificate_id, enrollment_id, actor_id, from_status, to_status, detail, created_at
        FROM certificate_events WHERE enrollment_id = $1 ORDER BY created_at ASC`
	var events []models.CertificateEvent
	if err := r.db.SelectContext(ctx, &events, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list certificate events: %w", err)
	}
	return events, nil
}

// CountByEnrollment counts certificate rows referencing an enrollment.
func (r *CertificateRepository) CountByEnrollment(ctx context.Context, enrollmentID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM certificates WHERE enrollment_id = $1`, enrollmentID); err != nil {
		return 0, fmt.Errorf("count enrollment certificates: %w", err)
	}
	return count, nil
}

// CountByStatus counts certificates per status, optionally scoped to a user.
func (r *CertificateRepository) CountByStatus(ctx context.Context, userID string, status models.CertificateStatus) (int, error) {
	query := `SELECT COUNT(*) FROM certificates ct
        LEFT JOIN enrollments e ON e.id = ct.enrollment_id WHERE ct.status = $1`
	args := []interface{}{status}
	if userID != "" {
		query += " AND e.user_id = $2"
		args = append(args, userID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return count, nil
}
