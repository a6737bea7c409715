package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
)

type mockEnrollmentCounter struct {
	scoped   map[string]int
	platform map[models.EnrollmentStatus]int
}

func (m *mockEnrollmentCounter) CountByStatus(ctx context.Context, userID string, status models.EnrollmentStatus) (int, error) {
	if userID != "" {
		return m.scoped[userID+"|"+string(status)], nil
	}
	return m.platform[status], nil
}

type mockCertificateCounter struct {
	platform map[models.CertificateStatus]int
}

func (m *mockCertificateCounter) CountByStatus(ctx context.Context, userID string, status models.CertificateStatus) (int, error) {
	return m.platform[status], nil
}

func TestSummaryScopesStudentsToOwnCounts(t *testing.T) {
	enrollments := &mockEnrollmentCounter{
		scoped: map[string]int{
			"user-1|ENROLLED":  2,
			"user-1|COMPLETED": 1,
		},
		platform: map[models.EnrollmentStatus]int{models.EnrollmentStatusEnrolled: 50},
	}
	certificates := &mockCertificateCounter{platform: map[models.CertificateStatus]int{}}
	svc := NewDashboardService(enrollments, certificates, NewCacheService(nil, nil, 0, nil, false), 0, true, nil)

	summary, err := svc.Summary(context.Background(), studentActor())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ActiveEnrollments)
	assert.Equal(t, 1, summary.CompletedEnrollments)
	assert.Equal(t, models.RoleUser, summary.Role)
}

func TestSummaryPlatformWideForOperators(t *testing.T) {
	enrollments := &mockEnrollmentCounter{
		platform: map[models.EnrollmentStatus]int{
			models.EnrollmentStatusEnrolled:  50,
			models.EnrollmentStatusCompleted: 12,
		},
	}
	certificates := &mockCertificateCounter{
		platform: map[models.CertificateStatus]int{
			models.CertificateStatusIssued:    8,
			models.CertificateStatusRequested: 3,
		},
	}
	svc := NewDashboardService(enrollments, certificates, NewCacheService(nil, nil, 0, nil, false), 0, true, nil)

	summary, err := svc.Summary(context.Background(), adminActor())
	require.NoError(t, err)
	assert.Equal(t, 50, summary.ActiveEnrollments)
	assert.Equal(t, 8, summary.CertificatesIssued)
	assert.Equal(t, 3, summary.CertificatesPending)
}

func TestSummaryDisabled(t *testing.T) {
	svc := NewDashboardService(&mockEnrollmentCounter{}, &mockCertificateCounter{}, NewCacheService(nil, nil, 0, nil, false), 0, false, nil)

	_, err := svc.Summary(context.Background(), studentActor())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
