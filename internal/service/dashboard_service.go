package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
)

const dashboardCachePrefix = "dashboard:summary:"

type enrollmentCounter interface {
	CountByStatus(ctx context.Context, userID string, status models.EnrollmentStatus) (int, error)
}

type certificateCounter interface {
	CountByStatus(ctx context.Context, userID string, status models.CertificateStatus) (int, error)
}

// DashboardService aggregates counts for role-appropriate dashboards.
// Students see their own numbers; operator roles see platform-wide totals.
type DashboardService struct {
	enrollments  enrollmentCounter
	certificates certificateCounter
	cache        *CacheService
	cacheTTL     time.Duration
	enabled      bool
	logger       *zap.Logger
}

// NewDashboardService constructs DashboardService.
func NewDashboardService(enrollments enrollmentCounter, certificates certificateCounter, cache *CacheService, cacheTTL time.Duration, enabled bool, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		enrollments:  enrollments,
		certificates: certificates,
		cache:        cache,
		cacheTTL:     cacheTTL,
		enabled:      enabled,
		logger:       logger,
	}
}

// Summary returns the dashboard counts for the actor.
func (s *DashboardService) Summary(ctx context.Context, actor models.Actor) (*models.DashboardSummary, error) {
	if !s.enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "dashboard is disabled")
	}

	scopeUserID := ""
	if actor.Role == models.RoleUser {
		scopeUserID = actor.UserID
	}
	key := fmt.Sprintf("%s%s:%s", dashboardCachePrefix, actor.Role, scopeUserID)

	var cached models.DashboardSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	summary := &models.DashboardSummary{Role: actor.Role}
	var err error
	if summary.ActiveEnrollments, err = s.enrollments.CountByStatus(ctx, scopeUserID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if summary.CompletedEnrollments, err = s.enrollments.CountByStatus(ctx, scopeUserID, models.EnrollmentStatusCompleted); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if summary.CertificatesIssued, err = s.certificates.CountByStatus(ctx, scopeUserID, models.CertificateStatusIssued); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count certificates")
	}
	if summary.CertificatesPending, err = s.certificates.CountByStatus(ctx, scopeUserID, models.CertificateStatusRequested); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count certificates")
	}

	if err := s.cache.Set(ctx, key, summary, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache dashboard summary", zap.Error(err))
	}
	return summary, nil
}
