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

// CourseRepository handles persistence of courses and their curricula.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses c"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(c.title ILIKE $%d OR c.slug ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("c.published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"title":      "c.title",
		"created_at": "c.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
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

	query := fmt.Sprintf(`SELECT c.id, c.title, c.slug, c.description, c.published, c.created_at, c.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, slug, description, published, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindDetailByID returns a course with its ordered curriculum modules.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	const query = `SELECT id, course_id, module_index, title, topics
        FROM course_modules WHERE course_id = $1 ORDER BY module_index ASC`
	var modules []models.CourseModule
	if err := r.db.SelectContext(ctx, &modules, query, id); err != nil {
		return nil, fmt.Errorf("list course modules: %w", err)
	}

	return &models.CourseDetail{Course: *course, Modules: modules}, nil
}

// Create persists a new course together with its curriculum modules.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course, modules []models.CourseModule) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create course: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const courseQuery = `INSERT INTO courses (id, title, slug, description, published, created_at, updated_at)
        VALUES (:id, :title, :slug, :description, :published, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, courseQuery, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}

	if err := insertModules(ctx, tx, course.ID, modules); err != nil {
		return err
	}

	return tx.Commit()
}

// Update rewrites course attributes.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, slug = :slug, description = :description,
        published = :published, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceModules swaps the full curriculum of a course in one transaction.
func (r *CourseRepository) ReplaceModules(ctx context.Context, courseID string, modules []models.CourseModule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace modules: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM course_modules WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("clear course modules: %w", err)
	}
	if err := insertModules(ctx, tx, courseID, modules); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE courses SET updated_at = $2 WHERE id = $1`, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch course: %w", err)
	}

	return tx.Commit()
}

func insertModules(ctx context.Context, tx *sqlx.Tx, courseID string, modules []models.CourseModule) error {
	const query = `INSERT INTO course_modules (id, course_id, module_index, title, topics)
        VALUES (:id, :course_id, :module_index, :title, :topics)`
	for i := range modules {
		if modules[i].ID == "" {
			modules[i].ID = uuid.NewString()
		}
		modules[i].CourseID = courseID
		modules[i].ModuleIndex = i
		if _, err := tx.NamedExecContext(ctx, query, modules[i]); err != nil {
			return fmt.Errorf("create course module %d: %w", i, err)
		}
	}
	return nil
}
