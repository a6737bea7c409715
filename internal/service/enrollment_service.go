package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
	"github.com/codetribe/bootcamp-api/pkg/export"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActive(ctx context.Context, userID, courseID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpsertCompletedLesson(ctx context.Context, lesson *models.CompletedLesson) (bool, error)
	ListCompletedLessons(ctx context.Context, enrollmentID string) ([]models.CompletedLesson, error)
	UpdateProgress(ctx context.Context, id string, progress int, status models.EnrollmentStatus) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
}

// curriculumProvider supplies the current curriculum snapshot for a course.
// CourseService satisfies it, so lesson completion shares its cache.
type curriculumProvider interface {
	Curriculum(ctx context.Context, courseID string) (*models.CourseDetail, error)
}

// certificateReader reports whether certificate records reference an
// enrollment. CertificateRepository satisfies it.
type certificateReader interface {
	CountByEnrollment(ctx context.Context, enrollmentID string) (int, error)
}

// EnrollRequest registers a user onto a course.
type EnrollRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// CompleteLessonRequest marks one curriculum topic done.
type CompleteLessonRequest struct {
	ModuleIndex int    `json:"module_index" validate:"min=0"`
	Topic       string `json:"topic" validate:"required"`
}

// EnrollmentService orchestrates enrollment registration and lesson
// completion. Progress stored on the enrollment row is a cache: after every
// completion it is re-derived from the persisted completed-lesson set, never
// incremented in place.
type EnrollmentService struct {
	repo         enrollmentRepository
	curriculum   curriculumProvider
	certificates certificateReader
	exporter     *export.CSVExporter
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, curriculum curriculumProvider, certificates certificateReader, exporter *export.CSVExporter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporter == nil {
		exporter = export.NewCSVExporter()
	}
	return &EnrollmentService{
		repo:         repo,
		curriculum:   curriculum,
		certificates: certificates,
		exporter:     exporter,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Enroll registers the user on a course. A user holds at most one active
// enrollment per course; cancelled enrollments do not block re-enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, userID string, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	detail, err := s.curriculum.Curriculum(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !detail.Published {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course is not open for enrollment")
	}

	active, err := s.repo.ExistsActive(ctx, userID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if active {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
	}

	enrollment := &models.Enrollment{
		UserID:   userID,
		CourseID: req.CourseID,
		Status:   models.EnrollmentStatusEnrolled,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.metrics.RecordEnrollmentCreated()
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("user_id", userID),
		zap.String("course_id", req.CourseID),
	)
	return enrollment, nil
}

// CompleteLesson records a topic completion and re-derives progress. The
// operation is idempotent: completing the same topic twice converges on one
// record and the same percentage. At 100% the enrollment transitions to
// COMPLETED; crossing the threshold never happens on replayed duplicates
// because the derived percentage is unchanged.
func (s *EnrollmentService) CompleteLesson(ctx context.Context, actor models.Actor, enrollmentID string, req CompleteLessonRequest) (*models.ProgressReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}

	enrollment, err := s.ownedEnrollment(ctx, actor, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is cancelled")
	}

	detail, err := s.curriculum.Curriculum(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTopic(detail.Modules, req.ModuleIndex, req.Topic); err != nil {
		return nil, err
	}

	inserted, err := s.repo.UpsertCompletedLesson(ctx, &models.CompletedLesson{
		EnrollmentID: enrollmentID,
		ModuleIndex:  req.ModuleIndex,
		Topic:        req.Topic,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record lesson")
	}
	if inserted {
		s.metrics.RecordLessonCompleted()
	}

	report, err := s.refreshProgress(ctx, enrollment, detail.Modules)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Progress re-derives the current progress report for an enrollment from the
// persisted completed-lesson set and the live curriculum.
func (s *EnrollmentService) Progress(ctx context.Context, actor models.Actor, enrollmentID string) (*models.ProgressReport, error) {
	enrollment, err := s.ownedEnrollment(ctx, actor, enrollmentID)
	if err != nil {
		return nil, err
	}
	detail, err := s.curriculum.Curriculum(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	lessons, err := s.repo.ListCompletedLessons(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed lessons")
	}
	report := ComputeProgress(detail.Modules, lessons)
	return &report, nil
}

// Get returns one enrollment with context, subject to ownership rules.
func (s *EnrollmentService) Get(ctx context.Context, actor models.Actor, enrollmentID string) (*models.EnrollmentDetail, error) {
	if _, err := s.ownedEnrollment(ctx, actor, enrollmentID); err != nil {
		return nil, err
	}
	detail, err := s.repo.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// List returns enrollments. Students are always scoped to their own records;
// operator roles may list across users.
func (s *EnrollmentService) List(ctx context.Context, actor models.Actor, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if actor.Role == models.RoleUser {
		filter.UserID = actor.UserID
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Cancel marks an enrollment CANCELLED. Completed-lesson history is kept.
// An enrollment with any certificate record, pending or decided, can not be
// cancelled: the certificate trail must stay attached to a live enrollment.
func (s *EnrollmentService) Cancel(ctx context.Context, actor models.Actor, enrollmentID string) error {
	enrollment, err := s.ownedEnrollment(ctx, actor, enrollmentID)
	if err != nil {
		return err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil
	}
	certCount, err := s.certificates.CountByEnrollment(ctx, enrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check certificates")
	}
	if certCount > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "enrollment has certificate records and can not be cancelled")
	}
	if err := s.repo.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusCancelled); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	s.logger.Info("enrollment cancelled",
		zap.String("enrollment_id", enrollmentID),
		zap.String("actor_id", actor.UserID),
	)
	return nil
}

// ExportRoster renders a CSV roster of enrollments for operator roles.
func (s *EnrollmentService) ExportRoster(ctx context.Context, actor models.Actor, filter models.EnrollmentFilter) ([]byte, error) {
	if actor.Role == models.RoleUser {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "roster export requires an operator role")
	}
	filter.Page = 1
	if filter.PageSize <= 0 {
		filter.PageSize = 100
	}
	enrollments, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	dataset := export.Dataset{
		Headers: []string{"Enrollment ID", "Student", "Email", "Course", "Status", "Progress", "Payment", "Enrolled At"},
	}
	for _, e := range enrollments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Enrollment ID": e.ID,
			"Student":       e.UserName,
			"Email":         e.UserEmail,
			"Course":        e.CourseTitle,
			"Status":        string(e.Status),
			"Progress":      strconv.Itoa(e.Progress) + "%",
			"Payment":       string(e.PaymentStatus),
			"Enrolled At":   e.EnrolledAt.Format("2006-01-02 15:04"),
		})
	}
	data, err := s.exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return data, nil
}

// refreshProgress re-derives progress from the persisted lesson set and
// writes the cache back onto the enrollment row. The enrollment flips to
// COMPLETED exactly when the derived overall percentage reaches 100.
func (s *EnrollmentService) refreshProgress(ctx context.Context, enrollment *models.Enrollment, modules []models.CourseModule) (*models.ProgressReport, error) {
	lessons, err := s.repo.ListCompletedLessons(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed lessons")
	}
	report := ComputeProgress(modules, lessons)

	status := enrollment.Status
	if report.CompletedTopics >= report.TotalTopics && report.TotalTopics > 0 {
		status = models.EnrollmentStatusCompleted
	} else if status == models.EnrollmentStatusCompleted {
		// Curriculum grew after completion; the enrollment is active again.
		status = models.EnrollmentStatusEnrolled
	}
	if err := s.repo.UpdateProgress(ctx, enrollment.ID, report.OverallPercent, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update progress")
	}
	enrollment.Progress = report.OverallPercent
	enrollment.Status = status
	return &report, nil
}

// ownedEnrollment loads the enrollment and enforces that students only touch
// their own records. Operator roles pass through.
func (s *EnrollmentService) ownedEnrollment(ctx context.Context, actor models.Actor, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.Role == models.RoleUser && enrollment.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("enrollment %s does not belong to the caller", enrollmentID))
	}
	return enrollment, nil
}
