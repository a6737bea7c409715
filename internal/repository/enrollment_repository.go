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

// EnrollmentRepository handles persistence of enrollments and their
// completed-lesson sets.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.user_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("e.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"progress":     "e.progress",
		"user_name":    "u.full_name",
		"course_title": "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.user_id, e.course_id, e.status, e.progress, e.payment_status, e.enrolled_at, e.updated_at,
        u.full_name AS user_name, u.email AS user_email, c.title AS course_title
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, user_id, course_id, status, progress, payment_status, enrolled_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.user_id, e.course_id, e.status, e.progress, e.payment_status, e.enrolled_at, e.updated_at,
        u.full_name AS user_name, u.email AS user_email, c.title AS course_title
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.user_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActive checks if a non-cancelled enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, courseID, models.EnrollmentStatusCancelled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}
	if enrollment.PaymentStatus == "" {
		enrollment.PaymentStatus = models.PaymentStatusPending
	}
	const query = `INSERT INTO enrollments (id, user_id, course_id, status, progress, payment_status, enrolled_at, updated_at)
        VALUES (:id, :user_id, :course_id, :status, :progress, :payment_status, :enrolled_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpsertCompletedLesson records a (module index, topic) completion. The
// insert is keyed on the tuple uniqueness constraint so concurrent duplicate
// calls converge on a single row; it reports whether a new row was written.
func (r *EnrollmentRepository) UpsertCompletedLesson(ctx context.Context, lesson *models.CompletedLesson) (bool, error) {
	if lesson.CompletedAt.IsZero() {
		lesson.CompletedAt = time.Now().UTC()
	}
	const query = `INSERT INTO completed_lessons (enrollment_id, module_index, topic, completed_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (enrollment_id, module_index, topic) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, lesson.EnrollmentID, lesson.ModuleIndex, lesson.Topic, lesson.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("upsert completed lesson: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert completed lesson result: %w", err)
	}
	return affected > 0, nil
}

// ListCompletedLessons returns the persisted completed-lesson set.
func (r *EnrollmentRepository) ListCompletedLessons(ctx context.Context, enrollmentID string) ([]models.CompletedLesson, error) {
	const query = `SELECT enrollment_id, module_index, topic, completed_at FROM completed_lessons
        WHERE enrollment_id = $1 ORDER BY module_index ASC, topic ASC`
	var lessons []models.CompletedLesson
	if err := r.db.SelectContext(ctx, &lessons, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list completed lessons: %w", err)
	}
	return lessons, nil
}

// UpdateProgress persists the derived progress cache and status.
func (r *EnrollmentRepository) UpdateProgress(ctx context.Context, id string, progress int, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET progress = $2, status = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, progress, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment progress: %w", err)
	}
	return nil
}

// UpdateStatus updates the enrollment status.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// CountByStatus counts enrollments per status, optionally scoped to a user.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context, userID string, status models.EnrollmentStatus) (int, error) {
	query := "SELECT COUNT(*) FROM enrollments WHERE status = $1"
	args := []interface{}{status}
	if userID != "" {
		query += " AND user_id = $2"
		args = append(args, userID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}
