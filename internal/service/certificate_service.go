package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
	"github.com/codetribe/bootcamp-api/pkg/export"
	"github.com/codetribe/bootcamp-api/pkg/storage"
)

type certificateRepository interface {
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindDetailByID(ctx context.Context, id string) (*models.CertificateDetail, error)
	FindActiveByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Certificate, error)
	List(ctx context.Context, filter models.CertificateFilter) ([]models.CertificateDetail, int, error)
	CreateRequest(ctx context.Context, cert *models.Certificate) (bool, error)
	MarkIssued(ctx context.Context, id, serialNumber, fileRef string, issuedAt time.Time) (bool, error)
	MarkRejected(ctx context.Context, id, reason string, rejectedAt time.Time) (bool, error)
	MarkRevoked(ctx context.Context, id, reason string, revokedAt time.Time) (bool, error)
	AppendEvent(ctx context.Context, event *models.CertificateEvent) error
	ListEvents(ctx context.Context, enrollmentID string) ([]models.CertificateEvent, error)
}

type certificateEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ListCompletedLessons(ctx context.Context, enrollmentID string) ([]models.CompletedLesson, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// DecideRequest is an operator verdict on a pending certificate request.
// Reason must be present for rejections but may be empty.
type DecideRequest struct {
	Decision string  `json:"decision" validate:"required,oneof=issue reject"`
	Reason   *string `json:"reason"`
}

// RevokeRequest withdraws an issued certificate.
type RevokeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CertificateHistory bundles all certificate records and lifecycle events for
// one enrollment.
type CertificateHistory struct {
	Current      *models.Certificate       `json:"current,omitempty"`
	Certificates []models.Certificate      `json:"certificates"`
	Events       []models.CertificateEvent `json:"events"`
}

// SignedDownload carries a signed certificate download token.
type SignedDownload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CertificateService drives the certificate lifecycle. Requests are gated on
// freshly derived 100% progress, decisions are operator-only, and every
// transition lands in the append-only event log.
type CertificateService struct {
	repo         certificateRepository
	enrollments  certificateEnrollmentReader
	curriculum   curriculumProvider
	audit        auditRecorder
	renderer     *export.CertificatePDFRenderer
	store        *storage.LocalStorage
	signer       *storage.SignedURLSigner
	serialPrefix string
	issuerName   string
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewCertificateService constructs CertificateService.
func NewCertificateService(
	repo certificateRepository,
	enrollments certificateEnrollmentReader,
	curriculum curriculumProvider,
	audit auditRecorder,
	renderer *export.CertificatePDFRenderer,
	store *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	serialPrefix string,
	issuerName string,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *CertificateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewCertificatePDFRenderer()
	}
	if serialPrefix == "" {
		serialPrefix = "BC"
	}
	return &CertificateService{
		repo:         repo,
		enrollments:  enrollments,
		curriculum:   curriculum,
		audit:        audit,
		renderer:     renderer,
		store:        store,
		signer:       signer,
		serialPrefix: serialPrefix,
		issuerName:   issuerName,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Apply submits a certificate request for an enrollment. Eligibility is
// recomputed from the persisted lesson set and the live curriculum at request
// time; the cached progress column is never trusted for this gate. When a
// REQUESTED record already exists the call is idempotent and returns it.
func (s *CertificateService) Apply(ctx context.Context, actor models.Actor, enrollmentID string) (*models.Certificate, error) {
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
	lessons, err := s.enrollments.ListCompletedLessons(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed lessons")
	}
	report := ComputeProgress(detail.Modules, lessons)
	if report.TotalTopics == 0 || report.CompletedTopics < report.TotalTopics {
		return nil, appErrors.Clone(appErrors.ErrNotEligible,
			fmt.Sprintf("progress is %d%%, certificate requires every topic complete", report.OverallPercent))
	}

	// The from-state of the request event comes from the newest record:
	// rejection permits a fresh request, revocation ends the lifecycle for
	// this enrollment.
	from := models.CertificateStatusNone
	history, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate history")
	}
	if len(history) > 0 {
		switch history[0].Status {
		case models.CertificateStatusRevoked:
			return nil, appErrors.Clone(appErrors.ErrTerminalState, "certificate was revoked, reapplication is not allowed")
		case models.CertificateStatusRejected:
			from = models.CertificateStatusRejected
		}
	}

	cert := &models.Certificate{EnrollmentID: enrollmentID}
	created, err := s.repo.CreateRequest(ctx, cert)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create certificate request")
	}
	if !created {
		existing, err := s.repo.FindActiveByEnrollment(ctx, enrollmentID)
		if err != nil {
			if err == sql.ErrNoRows {
				// A concurrent revoke landed between the history read and the
				// insert; the blocking row is REVOKED, not active.
				return nil, appErrors.Clone(appErrors.ErrTerminalState, "certificate was revoked, reapplication is not allowed")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
		}
		if existing.Status == models.CertificateStatusIssued {
			return nil, appErrors.Clone(appErrors.ErrTerminalState, "certificate already issued")
		}
		return existing, nil
	}

	s.appendEvent(ctx, cert, actor.UserID, from, models.CertificateStatusRequested, "")
	s.metrics.RecordCertificateDecision("requested")
	s.logger.Info("certificate requested",
		zap.String("certificate_id", cert.ID),
		zap.String("enrollment_id", enrollmentID),
	)
	return cert, nil
}

// Decide issues or rejects a pending request. Only administrators decide;
// any other role is refused and the attempt is written to the audit log.
func (s *CertificateService) Decide(ctx context.Context, actor models.Actor, certificateID string, req DecideRequest) (*models.Certificate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	if actor.Role != models.RoleAdmin {
		s.recordForbidden(ctx, actor, certificateID, "certificate decision")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "certificate decisions require the admin role")
	}

	detail, err := s.repo.FindDetailByID(ctx, certificateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if detail.Status != models.CertificateStatusRequested {
		return nil, appErrors.Clone(appErrors.ErrTerminalState,
			fmt.Sprintf("certificate is %s, only REQUESTED certificates can be decided", detail.Status))
	}

	switch req.Decision {
	case "issue":
		return s.issue(ctx, actor, detail)
	case "reject":
		if req.Reason == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required when rejecting")
		}
		return s.reject(ctx, actor, detail, *req.Reason)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be issue or reject")
	}
}

// Revoke withdraws an ISSUED certificate. Students cannot trigger this path.
func (s *CertificateService) Revoke(ctx context.Context, actor models.Actor, certificateID string, req RevokeRequest) (*models.Certificate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revocation payload")
	}
	if actor.Role != models.RoleAdmin {
		s.recordForbidden(ctx, actor, certificateID, "certificate revocation")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "certificate revocation requires the admin role")
	}

	cert, err := s.repo.FindByID(ctx, certificateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}

	now := time.Now().UTC()
	ok, err := s.repo.MarkRevoked(ctx, certificateID, req.Reason, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke certificate")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrTerminalState,
			fmt.Sprintf("certificate is %s, only ISSUED certificates can be revoked", cert.Status))
	}

	cert.Status = models.CertificateStatusRevoked
	cert.RevokedAt = &now
	cert.RevocationReason = &req.Reason
	s.appendEvent(ctx, cert, actor.UserID, models.CertificateStatusIssued, models.CertificateStatusRevoked, req.Reason)
	s.recordAudit(ctx, actor, models.AuditActionCertificateRevoke, certificateID, map[string]string{"reason": req.Reason})
	s.metrics.RecordCertificateDecision("revoked")
	s.logger.Info("certificate revoked",
		zap.String("certificate_id", certificateID),
		zap.String("actor_id", actor.UserID),
	)
	return cert, nil
}

// Status returns the effective certificate state for an enrollment: the
// active record when one exists, otherwise the most recent one, otherwise
// NONE.
func (s *CertificateService) Status(ctx context.Context, actor models.Actor, enrollmentID string) (models.CertificateStatus, *models.Certificate, error) {
	if _, err := s.ownedEnrollment(ctx, actor, enrollmentID); err != nil {
		return "", nil, err
	}
	certs, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificates")
	}
	for i := range certs {
		if certs[i].Active() {
			return certs[i].Status, &certs[i], nil
		}
	}
	if len(certs) > 0 {
		return certs[0].Status, &certs[0], nil
	}
	return models.CertificateStatusNone, nil, nil
}

// History returns every certificate record and lifecycle event for an
// enrollment. Superseded rejected requests remain visible.
func (s *CertificateService) History(ctx context.Context, actor models.Actor, enrollmentID string) (*CertificateHistory, error) {
	if _, err := s.ownedEnrollment(ctx, actor, enrollmentID); err != nil {
		return nil, err
	}
	certs, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificates")
	}
	events, err := s.repo.ListEvents(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate events")
	}
	history := &CertificateHistory{Certificates: certs, Events: events}
	for i := range certs {
		if certs[i].Active() {
			history.Current = &certs[i]
			break
		}
	}
	return history, nil
}

// List returns the operator review queue.
func (s *CertificateService) List(ctx context.Context, actor models.Actor, filter models.CertificateFilter) ([]models.CertificateDetail, *models.Pagination, error) {
	if actor.Role == models.RoleUser {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "certificate queue requires an operator role")
	}
	certs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return certs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// DownloadURL returns a signed, expiring token for an issued certificate.
func (s *CertificateService) DownloadURL(ctx context.Context, actor models.Actor, certificateID string) (*SignedDownload, error) {
	cert, err := s.repo.FindByID(ctx, certificateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if _, err := s.ownedEnrollment(ctx, actor, cert.EnrollmentID); err != nil {
		return nil, err
	}
	if cert.Status != models.CertificateStatusIssued || cert.FileRef == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "certificate has no downloadable artifact")
	}
	token, expiresAt, err := s.signer.Generate(cert.ID, *cert.FileRef)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &SignedDownload{Token: token, ExpiresAt: expiresAt}, nil
}

// Download validates a signed token and opens the artifact. A certificate
// revoked after the token was minted no longer resolves.
func (s *CertificateService) Download(ctx context.Context, token string) (*os.File, *models.Certificate, error) {
	certificateID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	cert, err := s.repo.FindByID(ctx, certificateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if cert.Status != models.CertificateStatusIssued || cert.FileRef == nil || *cert.FileRef != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "certificate is no longer downloadable")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open certificate file")
	}
	return file, cert, nil
}

func (s *CertificateService) issue(ctx context.Context, actor models.Actor, detail *models.CertificateDetail) (*models.Certificate, error) {
	enrollment, err := s.enrollments.FindDetailByID(ctx, detail.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	now := time.Now().UTC()
	serial := s.newSerial(now)
	pdf, err := s.renderer.Render(export.CertificateDocument{
		SerialNumber: serial,
		StudentName:  enrollment.UserName,
		CourseTitle:  enrollment.CourseTitle,
		IssuedAt:     now,
		IssuerName:   s.issuerName,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	fileRef := fmt.Sprintf("%s/%s.pdf", detail.EnrollmentID, detail.ID)
	if _, err := s.store.Save(fileRef, pdf); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate")
	}

	ok, err := s.repo.MarkIssued(ctx, detail.ID, serial, fileRef, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue certificate")
	}
	if !ok {
		// A concurrent decision won; discard the orphaned artifact.
		if err := s.store.Delete(fileRef); err != nil {
			s.logger.Warn("failed to remove orphaned certificate file", zap.String("file_ref", fileRef), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrTerminalState, "certificate was already decided")
	}

	cert := &detail.Certificate
	cert.Status = models.CertificateStatusIssued
	cert.SerialNumber = &serial
	cert.FileRef = &fileRef
	cert.IssuedAt = &now
	s.appendEvent(ctx, cert, actor.UserID, models.CertificateStatusRequested, models.CertificateStatusIssued, serial)
	s.recordAudit(ctx, actor, models.AuditActionCertificateDecision, cert.ID, map[string]string{"decision": "issue", "serial_number": serial})
	s.metrics.RecordCertificateDecision("issued")
	s.logger.Info("certificate issued",
		zap.String("certificate_id", cert.ID),
		zap.String("serial_number", serial),
		zap.String("actor_id", actor.UserID),
	)
	return cert, nil
}

func (s *CertificateService) reject(ctx context.Context, actor models.Actor, detail *models.CertificateDetail, reason string) (*models.Certificate, error) {
	now := time.Now().UTC()
	ok, err := s.repo.MarkRejected(ctx, detail.ID, reason, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject certificate")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, "certificate was already decided")
	}

	cert := &detail.Certificate
	cert.Status = models.CertificateStatusRejected
	cert.RejectedAt = &now
	cert.RejectionReason = &reason
	s.appendEvent(ctx, cert, actor.UserID, models.CertificateStatusRequested, models.CertificateStatusRejected, reason)
	s.recordAudit(ctx, actor, models.AuditActionCertificateDecision, cert.ID, map[string]string{"decision": "reject", "reason": reason})
	s.metrics.RecordCertificateDecision("rejected")
	s.logger.Info("certificate rejected",
		zap.String("certificate_id", cert.ID),
		zap.String("actor_id", actor.UserID),
	)
	return cert, nil
}

func (s *CertificateService) newSerial(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("%s-%s-%s", s.serialPrefix, now.Format("2006"), suffix)
}

// appendEvent writes the lifecycle log entry. A log write failure never rolls
// back the transition itself; it is reported and the state change stands.
func (s *CertificateService) appendEvent(ctx context.Context, cert *models.Certificate, actorID string, from, to models.CertificateStatus, detail string) {
	event := &models.CertificateEvent{
		CertificateID: cert.ID,
		EnrollmentID:  cert.EnrollmentID,
		ActorID:       actorID,
		FromStatus:    from,
		ToStatus:      to,
		Detail:        detail,
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		s.logger.Error("failed to append certificate event",
			zap.String("certificate_id", cert.ID),
			zap.String("to_status", string(to)),
			zap.Error(err),
		)
	}
}

func (s *CertificateService) recordAudit(ctx context.Context, actor models.Actor, action, resourceID string, values map[string]string) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	userID := actor.UserID
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "certificate",
		ResourceID: &resourceID,
		NewValues:  payload,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *CertificateService) recordForbidden(ctx context.Context, actor models.Actor, resourceID, attempted string) {
	s.recordAudit(ctx, actor, models.AuditActionForbidden, resourceID, map[string]string{"attempted": attempted})
	s.logger.Warn("forbidden certificate operation",
		zap.String("actor_id", actor.UserID),
		zap.String("role", string(actor.Role)),
		zap.String("certificate_id", resourceID),
	)
}

func (s *CertificateService) ownedEnrollment(ctx context.Context, actor models.Actor, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.Role == models.RoleUser && enrollment.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to the caller")
	}
	return enrollment, nil
}
