package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/codetribe/bootcamp-api/internal/models"
)

func TestCreateRequestGuardsActiveCertificates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	cert := &models.Certificate{EnrollmentID: "enr-1"}

	mock.ExpectExec("INSERT INTO certificates").
		WithArgs(sqlmock.AnyArg(), "enr-1", models.CertificateStatusRequested, sqlmock.AnyArg(),
			models.CertificateStatusRequested, models.CertificateStatusIssued, models.CertificateStatusRevoked).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.CreateRequest(context.Background(), cert)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, cert.ID)
	require.Equal(t, models.CertificateStatusRequested, cert.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequestSkippedWhenActiveExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	// The WHERE NOT EXISTS guard suppresses the insert entirely.
	mock.ExpectExec("INSERT INTO certificates").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateRequest(context.Background(), &models.Certificate{EnrollmentID: "enr-1"})
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkIssuedRequiresRequestedStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	issuedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE certificates SET status").
		WithArgs("cert-1", models.CertificateStatusIssued, "BC-2026-ABCDEF1234", "enr-1/cert-1.pdf", issuedAt, models.CertificateStatusRequested).
		WillReturnResult(sqlmock.NewResult(0, 1))

	issued, err := repo.MarkIssued(context.Background(), "cert-1", "BC-2026-ABCDEF1234", "enr-1/cert-1.pdf", issuedAt)
	require.NoError(t, err)
	require.True(t, issued)

	// A concurrent decision already moved the row out of REQUESTED.
	mock.ExpectExec("UPDATE certificates SET status").
		WithArgs("cert-1", models.CertificateStatusIssued, "BC-2026-ABCDEF1234", "enr-1/cert-1.pdf", issuedAt, models.CertificateStatusRequested).
		WillReturnResult(sqlmock.NewResult(0, 0))

	issued, err = repo.MarkIssued(context.Background(), "cert-1", "BC-2026-ABCDEF1234", "enr-1/cert-1.pdf", issuedAt)
	require.NoError(t, err)
	require.False(t, issued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRejectedRequiresRequestedStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	rejectedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE certificates SET status").
		WithArgs("cert-1", models.CertificateStatusRejected, "payment pending", rejectedAt, models.CertificateStatusRequested).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rejected, err := repo.MarkRejected(context.Background(), "cert-1", "payment pending", rejectedAt)
	require.NoError(t, err)
	require.True(t, rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRevokedRequiresIssuedStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	revokedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE certificates SET status").
		WithArgs("cert-1", models.CertificateStatusRevoked, "fraud", revokedAt, models.CertificateStatusIssued).
		WillReturnResult(sqlmock.NewResult(0, 0))

	revoked, err := repo.MarkRevoked(context.Background(), "cert-1", "fraud", revokedAt)
	require.NoError(t, err)
	require.False(t, revoked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryListEvents(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	rows := sqlmock.NewRows([]string{"id", "certificate_id", "enrollment_id", "actor_id", "from_status", "to_status", "detail", "created_at"}).
		AddRow("evt-1", "cert-1", "enr-1", "user-1", models.CertificateStatusNone, models.CertificateStatusRequested, "", time.Now()).
		AddRow("evt-2", "cert-1", "enr-1", "admin-1", models.CertificateStatusRequested, models.CertificateStatusIssued, "", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM certificate_events WHERE enrollment_id = $1 ORDER BY created_at ASC")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	events, err := repo.ListEvents(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.CertificateStatusIssued, events[1].ToStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryCountByEnrollment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM certificates WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountByEnrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryAppendEvent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectExec("INSERT INTO certificate_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.CertificateEvent{
		CertificateID: "cert-1",
		EnrollmentID:  "enr-1",
		ActorID:       "user-1",
		FromStatus:    models.CertificateStatusNone,
		ToStatus:      models.CertificateStatusRequested,
	}
	require.NoError(t, repo.AppendEvent(context.Background(), event))
	require.NotEmpty(t, event.ID)
	require.False(t, event.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
