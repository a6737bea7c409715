package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
	"github.com/codetribe/bootcamp-api/pkg/storage"
)

type mockCertificateRepo struct {
	certs  map[string]models.Certificate
	events []models.CertificateEvent
}

func newMockCertificateRepo() *mockCertificateRepo {
	return &mockCertificateRepo{certs: make(map[string]models.Certificate)}
}

func (m *mockCertificateRepo) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	if c, ok := m.certs[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) FindDetailByID(ctx context.Context, id string) (*models.CertificateDetail, error) {
	if c, ok := m.certs[id]; ok {
		return &models.CertificateDetail{Certificate: c, UserName: "Test Student", CourseTitle: "Go Bootcamp"}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) FindActiveByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	for _, c := range m.certs {
		if c.EnrollmentID == enrollmentID && c.Active() {
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, c := range m.certs {
		if c.EnrollmentID == enrollmentID {
			out = append(out, c)
		}
	}
	// Newest first, matching the repository ordering.
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *mockCertificateRepo) List(ctx context.Context, filter models.CertificateFilter) ([]models.CertificateDetail, int, error) {
	var out []models.CertificateDetail
	for _, c := range m.certs {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, models.CertificateDetail{Certificate: c})
	}
	return out, len(out), nil
}

func (m *mockCertificateRepo) CreateRequest(ctx context.Context, cert *models.Certificate) (bool, error) {
	for _, c := range m.certs {
		if c.EnrollmentID == cert.EnrollmentID && (c.Active() || c.Status == models.CertificateStatusRevoked) {
			return false, nil
		}
	}
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	cert.Status = models.CertificateStatusRequested
	cert.RequestedAt = time.Now().UTC()
	m.certs[cert.ID] = *cert
	return true, nil
}

func (m *mockCertificateRepo) MarkIssued(ctx context.Context, id, serialNumber, fileRef string, issuedAt time.Time) (bool, error) {
	c, ok := m.certs[id]
	if !ok || c.Status != models.CertificateStatusRequested {
		return false, nil
	}
	c.Status = models.CertificateStatusIssued
	c.SerialNumber = &serialNumber
	c.FileRef = &fileRef
	c.IssuedAt = &issuedAt
	m.certs[id] = c
	return true, nil
}

func (m *mockCertificateRepo) MarkRejected(ctx context.Context, id, reason string, rejectedAt time.Time) (bool, error) {
	c, ok := m.certs[id]
	if !ok || c.Status != models.CertificateStatusRequested {
		return false, nil
	}
	c.Status = models.CertificateStatusRejected
	c.RejectionReason = &reason
	c.RejectedAt = &rejectedAt
	m.certs[id] = c
	return true, nil
}

func (m *mockCertificateRepo) MarkRevoked(ctx context.Context, id, reason string, revokedAt time.Time) (bool, error) {
	c, ok := m.certs[id]
	if !ok || c.Status != models.CertificateStatusIssued {
		return false, nil
	}
	c.Status = models.CertificateStatusRevoked
	c.RevocationReason = &reason
	c.RevokedAt = &revokedAt
	m.certs[id] = c
	return true, nil
}

func (m *mockCertificateRepo) AppendEvent(ctx context.Context, event *models.CertificateEvent) error {
	event.CreatedAt = time.Now().UTC()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockCertificateRepo) ListEvents(ctx context.Context, enrollmentID string) ([]models.CertificateEvent, error) {
	var out []models.CertificateEvent
	for _, e := range m.events {
		if e.EnrollmentID == enrollmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockAudit struct {
	logs []models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func adminActor() models.Actor {
	return models.Actor{UserID: "adm-1", Role: models.RoleAdmin, IsAuthenticated: true}
}

func completeAllLessons(repo *mockEnrollmentRepo, enrollmentID string) {
	repo.lessons[enrollmentID] = []models.CompletedLesson{
		{EnrollmentID: enrollmentID, ModuleIndex: 0, Topic: "syntax"},
		{EnrollmentID: enrollmentID, ModuleIndex: 0, Topic: "types"},
		{EnrollmentID: enrollmentID, ModuleIndex: 1, Topic: "goroutines"},
		{EnrollmentID: enrollmentID, ModuleIndex: 1, Topic: "channels"},
	}
}

func newCertificateService(t *testing.T, certRepo *mockCertificateRepo, enrRepo *mockEnrollmentRepo, audit *mockAudit) *CertificateService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewCertificateService(
		certRepo, enrRepo, &mockCurriculum{detail: courseDetailFixture()}, audit,
		nil, store, signer, "BC", "Bootcamp Academy", nil, nil, nil,
	)
}

func TestApplyRequiresFullProgress(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	enrRepo.lessons["enr-1"] = []models.CompletedLesson{
		{EnrollmentID: "enr-1", ModuleIndex: 0, Topic: "syntax"},
		{EnrollmentID: "enr-1", ModuleIndex: 0, Topic: "types"},
		{EnrollmentID: "enr-1", ModuleIndex: 1, Topic: "goroutines"},
	}
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	_, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotEligible))
	assert.Empty(t, certRepo.certs)
}

func TestApplyCreatesRequestAtFullProgress(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusRequested, cert.Status)

	require.Len(t, certRepo.events, 1)
	assert.Equal(t, models.CertificateStatusNone, certRepo.events[0].FromStatus)
	assert.Equal(t, models.CertificateStatusRequested, certRepo.events[0].ToStatus)
}

func TestApplyIsIdempotentWhilePending(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	first, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	second, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, certRepo.certs, 1)
	assert.Len(t, certRepo.events, 1, "replayed request must not append events")
}

func TestApplyAfterIssueIsTerminal(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	audit := &mockAudit{}
	svc := newCertificateService(t, certRepo, enrRepo, audit)

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "issue"})
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), studentActor(), "enr-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTerminalState))
}

func TestDecideIssueRendersArtifact(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	audit := &mockAudit{}
	svc := newCertificateService(t, certRepo, enrRepo, audit)

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)

	issued, err := svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "issue"})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusIssued, issued.Status)
	require.NotNil(t, issued.SerialNumber)
	assert.Contains(t, *issued.SerialNumber, "BC-")
	require.NotNil(t, issued.FileRef)

	file, _, err := svc.Download(context.Background(), mustToken(t, svc, issued.ID))
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionCertificateDecision, audit.logs[0].Action)
}

func mustToken(t *testing.T, svc *CertificateService, certificateID string) string {
	t.Helper()
	signed, err := svc.DownloadURL(context.Background(), adminActor(), certificateID)
	require.NoError(t, err)
	return signed.Token
}

func TestDecideRejectRequiresReasonField(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "reject"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	// An empty reason is allowed as long as the field is present.
	empty := ""
	rejected, err := svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "reject", Reason: &empty})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusRejected, rejected.Status)
}

func TestReapplyAfterRejectionRetainsHistory(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	first, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	reason := "incomplete capstone"
	_, err = svc.Decide(context.Background(), adminActor(), first.ID, DecideRequest{Decision: "reject", Reason: &reason})
	require.NoError(t, err)

	second, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "reapplication creates a fresh record")
	assert.Equal(t, models.CertificateStatusRequested, second.Status)

	history, err := svc.History(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	assert.Len(t, history.Certificates, 2)
	require.NotNil(t, history.Current)
	assert.Equal(t, second.ID, history.Current.ID)

	// NONE->REQUESTED, REQUESTED->REJECTED, REJECTED->REQUESTED.
	require.Len(t, history.Events, 3)
	assert.Equal(t, models.CertificateStatusRejected, history.Events[2].FromStatus)
}

func TestDecideForbiddenForNonAdmins(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	audit := &mockAudit{}
	svc := newCertificateService(t, certRepo, enrRepo, audit)

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)

	tpo := models.Actor{UserID: "tpo-1", Role: models.RoleTPO, IsAuthenticated: true}
	_, err = svc.Decide(context.Background(), tpo, cert.ID, DecideRequest{Decision: "issue"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionForbidden, audit.logs[0].Action)
	assert.Equal(t, models.CertificateStatusRequested, certRepo.certs[cert.ID].Status, "state must not change")
}

func TestDecideAlreadyDecidedConflicts(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	_, err = svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "issue"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "issue"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTerminalState))
}

func TestRevokeIssuedCertificate(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	issued, err := svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "issue"})
	require.NoError(t, err)

	revoked, err := svc.Revoke(context.Background(), adminActor(), issued.ID, RevokeRequest{Reason: "plagiarised capstone"})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusRevoked, revoked.Status)

	// A revoked certificate no longer resolves for download.
	_, _, err = svc.Download(context.Background(), mustTokenFromIssued(t, svc, issued))
	require.Error(t, err)

	// Revocation is final; a second revoke has nothing to act on.
	_, err = svc.Revoke(context.Background(), adminActor(), issued.ID, RevokeRequest{Reason: "again"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTerminalState))
}

func TestApplyAfterRevocationIsTerminal(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	completeAllLessons(enrRepo, "enr-1")
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	cert, err := svc.Apply(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	issued, err := svc.Decide(context.Background(), adminActor(), cert.ID, DecideRequest{Decision: "issue"})
	require.NoError(t, err)
	_, err = svc.Revoke(context.Background(), adminActor(), issued.ID, RevokeRequest{Reason: "credential fraud"})
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), studentActor(), "enr-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTerminalState))
	assert.Len(t, certRepo.certs, 1, "revocation must not allow a fresh request")

	// No REQUESTED event may follow the revocation.
	events, err := certRepo.ListEvents(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusRevoked, events[len(events)-1].ToStatus)
}

func mustTokenFromIssued(t *testing.T, svc *CertificateService, issued *models.Certificate) string {
	t.Helper()
	require.NotNil(t, issued.FileRef)
	token, _, err := storage.NewSignedURLSigner("test-secret", time.Hour).Generate(issued.ID, *issued.FileRef)
	require.NoError(t, err)
	return token
}

func TestStatusReportsNoneWithoutRecords(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	status, cert, err := svc.Status(context.Background(), studentActor(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusNone, status)
	assert.Nil(t, cert)
}

func TestHistoryOwnershipEnforced(t *testing.T) {
	certRepo := newMockCertificateRepo()
	enrRepo := newMockEnrollmentRepo()
	newEnrollmentFixture(enrRepo)
	svc := newCertificateService(t, certRepo, enrRepo, &mockAudit{})

	intruder := models.Actor{UserID: "user-2", Role: models.RoleUser, IsAuthenticated: true}
	_, err := svc.History(context.Background(), intruder, "enr-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}
