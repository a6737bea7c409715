package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
)

const (
	courseCachePrefix  = "catalog:course:"
	courseCachePattern = "catalog:course:*"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	Create(ctx context.Context, course *models.Course, modules []models.CourseModule) error
	Update(ctx context.Context, course *models.Course) error
	ReplaceModules(ctx context.Context, courseID string, modules []models.CourseModule) error
}

// ModulePayload describes one curriculum module in create/update requests.
type ModulePayload struct {
	Title  string   `json:"title" validate:"required"`
	Topics []string `json:"topics" validate:"required,min=1,dive,required"`
}

// CreateCourseRequest describes course creation.
type CreateCourseRequest struct {
	Title       string          `json:"title" validate:"required"`
	Slug        string          `json:"slug" validate:"required"`
	Description string          `json:"description"`
	Published   bool            `json:"published"`
	Modules     []ModulePayload `json:"modules" validate:"dive"`
}

// UpdateCourseRequest describes course attribute updates.
type UpdateCourseRequest struct {
	Title       string `json:"title" validate:"required"`
	Slug        string `json:"slug" validate:"required"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
}

// UpdateCurriculumRequest replaces the full module list of a course.
type UpdateCurriculumRequest struct {
	Modules []ModulePayload `json:"modules" validate:"required,dive"`
}

// CourseService manages the course catalog and its curricula. Curriculum
// reads are cached; any curriculum edit invalidates the cache so progress
// and eligibility checks always see the current snapshot.
type CourseService struct {
	repo      courseRepository
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return courses, pagination, nil
}

// Curriculum returns a course with its ordered modules, served from cache
// when possible.
func (s *CourseService) Curriculum(ctx context.Context, courseID string) (*models.CourseDetail, error) {
	key := courseCachePrefix + courseID
	var cached models.CourseDetail
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	detail, err := s.repo.FindDetailByID(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if err := s.cache.Set(ctx, key, detail, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache curriculum", zap.String("course_id", courseID), zap.Error(err))
	}
	return detail, nil
}

// Create registers a new course with its curriculum.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	modules, err := buildModules(req.Modules)
	if err != nil {
		return nil, err
	}

	course := &models.Course{
		Title:       req.Title,
		Slug:        req.Slug,
		Description: req.Description,
		Published:   req.Published,
	}
	if err := s.repo.Create(ctx, course, modules); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return s.reload(ctx, course.ID)
}

// Update rewrites course attributes.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	course.Title = req.Title
	course.Slug = req.Slug
	course.Description = req.Description
	course.Published = req.Published
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return s.reload(ctx, id)
}

// UpdateCurriculum replaces the module list of a course. Students who
// already completed lessons keep those records; progress and certificate
// eligibility are re-derived against the new snapshot on their next
// operation.
func (s *CourseService) UpdateCurriculum(ctx context.Context, id string, req UpdateCurriculumRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid curriculum payload")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	modules, err := buildModules(req.Modules)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceModules(ctx, id, modules); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update curriculum")
	}
	return s.reload(ctx, id)
}

func (s *CourseService) reload(ctx context.Context, id string) (*models.CourseDetail, error) {
	if err := s.cache.Invalidate(ctx, courseCachePattern); err != nil {
		s.logger.Warn("failed to invalidate curriculum cache", zap.Error(err))
	}
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course detail")
	}
	return detail, nil
}

// buildModules converts payloads into ordered modules, rejecting duplicate
// topics within a module.
func buildModules(payloads []ModulePayload) ([]models.CourseModule, error) {
	modules := make([]models.CourseModule, 0, len(payloads))
	for i, payload := range payloads {
		seen := make(map[string]struct{}, len(payload.Topics))
		for _, topic := range payload.Topics {
			if _, dup := seen[topic]; dup {
				return nil, appErrors.Clone(appErrors.ErrValidation,
					fmt.Sprintf("duplicate topic %q in module %d", topic, i))
			}
			seen[topic] = struct{}{}
		}
		modules = append(modules, models.CourseModule{
			ModuleIndex: i,
			Title:       payload.Title,
			Topics:      payload.Topics,
		})
	}
	return modules, nil
}
