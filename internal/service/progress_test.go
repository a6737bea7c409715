package service

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
)

func curriculumFixture() []models.CourseModule {
	return []models.CourseModule{
		{ModuleIndex: 0, Title: "Foundations", Topics: pq.StringArray{"html", "css", "js"}},
		{ModuleIndex: 1, Title: "Backend", Topics: pq.StringArray{"http", "sql"}},
		{ModuleIndex: 2, Title: "Reading List", Topics: pq.StringArray{}},
	}
}

func TestComputeProgressEmptyCurriculum(t *testing.T) {
	report := ComputeProgress(nil, nil)
	assert.Equal(t, 0, report.OverallPercent)
	assert.Equal(t, 0, report.TotalTopics)
}

func TestComputeProgressZeroTopicModulesExcluded(t *testing.T) {
	report := ComputeProgress(curriculumFixture(), nil)

	assert.Equal(t, 5, report.TotalTopics)
	_, present := report.PerModulePercent[2]
	assert.False(t, present, "zero-topic module must not appear in per-module results")
}

func TestComputeProgressRounding(t *testing.T) {
	modules := curriculumFixture()
	completed := []models.CompletedLesson{
		{ModuleIndex: 0, Topic: "html"},
		{ModuleIndex: 0, Topic: "css"},
	}
	report := ComputeProgress(modules, completed)

	// 2 of 5 topics overall, 2 of 3 in module 0.
	assert.Equal(t, 40, report.OverallPercent)
	assert.Equal(t, 67, report.PerModulePercent[0])
	assert.Equal(t, 0, report.PerModulePercent[1])
}

func TestComputeProgressDuplicatesCollapse(t *testing.T) {
	modules := curriculumFixture()
	completed := []models.CompletedLesson{
		{ModuleIndex: 0, Topic: "html"},
		{ModuleIndex: 0, Topic: "html"},
		{ModuleIndex: 0, Topic: "html"},
	}
	report := ComputeProgress(modules, completed)

	assert.Equal(t, 1, report.CompletedTopics)
	assert.Equal(t, 20, report.OverallPercent)
}

func TestComputeProgressStaleCompletionsIgnored(t *testing.T) {
	modules := curriculumFixture()
	completed := []models.CompletedLesson{
		{ModuleIndex: 0, Topic: "removed-topic"},
		{ModuleIndex: 7, Topic: "html"},
		{ModuleIndex: 1, Topic: "http"},
	}
	report := ComputeProgress(modules, completed)

	assert.Equal(t, 1, report.CompletedTopics)
	assert.Equal(t, 20, report.OverallPercent)
}

func TestComputeProgressComplete(t *testing.T) {
	modules := curriculumFixture()
	completed := []models.CompletedLesson{
		{ModuleIndex: 0, Topic: "html"},
		{ModuleIndex: 0, Topic: "css"},
		{ModuleIndex: 0, Topic: "js"},
		{ModuleIndex: 1, Topic: "http"},
		{ModuleIndex: 1, Topic: "sql"},
	}
	report := ComputeProgress(modules, completed)

	assert.Equal(t, 100, report.OverallPercent)
	assert.Equal(t, report.TotalTopics, report.CompletedTopics)
}

func TestValidateTopic(t *testing.T) {
	modules := curriculumFixture()

	require.NoError(t, ValidateTopic(modules, 0, "html"))
	require.NoError(t, ValidateTopic(modules, 1, "sql"))

	err := ValidateTopic(modules, 0, "sql")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTopic))

	err = ValidateTopic(modules, 9, "html")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTopic))
}
