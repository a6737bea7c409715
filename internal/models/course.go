package models

import (
	"time"

	"github.com/lib/pq"
)

// Course is the marketing-facing course record owning an ordered curriculum.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Slug        string    `db:"slug" json:"slug"`
	Description string    `db:"description" json:"description"`
	Published   bool      `db:"published" json:"published"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseModule is one ordered module of a course curriculum. Topics are
// ordered for display; a topic name is unique within its module and only
// meaningful in the context of (course, module index).
type CourseModule struct {
	ID          string         `db:"id" json:"id"`
	CourseID    string         `db:"course_id" json:"course_id"`
	ModuleIndex int            `db:"module_index" json:"module_index"`
	Title       string         `db:"title" json:"title"`
	Topics      pq.StringArray `db:"topics" json:"topics"`
}

// CourseDetail bundles a course with its ordered curriculum modules.
type CourseDetail struct {
	Course
	Modules []CourseModule `json:"modules"`
}

// TotalTopics counts topics across all modules of the curriculum.
func (d *CourseDetail) TotalTopics() int {
	total := 0
	for _, m := range d.Modules {
		total += len(m.Topics)
	}
	return total
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Search    string
	Published *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
