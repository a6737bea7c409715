package service

import (
	"fmt"
	"math"

	"github.com/codetribe/bootcamp-api/internal/models"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
)

// lessonKey identifies one completable unit within a curriculum.
type lessonKey struct {
	moduleIndex int
	topic       string
}

// ComputeProgress derives per-module and overall completion percentages from
// a curriculum snapshot and a completed-lesson set. It is a pure function:
// deterministic, no side effects, and safe to call repeatedly. Completions
// referencing topics no longer present in the curriculum are ignored so the
// reported percentage always reflects the current curriculum.
func ComputeProgress(modules []models.CourseModule, completed []models.CompletedLesson) models.ProgressReport {
	report := models.ProgressReport{PerModulePercent: make(map[int]int, len(modules))}

	done := make(map[lessonKey]struct{}, len(completed))
	for _, lesson := range completed {
		done[lessonKey{moduleIndex: lesson.ModuleIndex, topic: lesson.Topic}] = struct{}{}
	}

	for _, module := range modules {
		total := len(module.Topics)
		if total == 0 {
			// Zero-topic modules are excluded from the denominator rather
			// than reported as 100% or undefined.
			continue
		}
		completedInModule := 0
		for _, topic := range module.Topics {
			if _, ok := done[lessonKey{moduleIndex: module.ModuleIndex, topic: topic}]; ok {
				completedInModule++
			}
		}
		report.PerModulePercent[module.ModuleIndex] = roundPercent(completedInModule, total)
		report.CompletedTopics += completedInModule
		report.TotalTopics += total
	}

	if report.TotalTopics == 0 {
		// An empty curriculum is 0% complete, never 100%.
		report.OverallPercent = 0
		return report
	}
	report.OverallPercent = roundPercent(report.CompletedTopics, report.TotalTopics)
	return report
}

// ValidateTopic checks that (moduleIndex, topic) exists in the curriculum
// snapshot. Completions against unknown pairs are rejected rather than
// silently recorded, so progress cannot drift from curriculum changes.
func ValidateTopic(modules []models.CourseModule, moduleIndex int, topic string) error {
	for _, module := range modules {
		if module.ModuleIndex != moduleIndex {
			continue
		}
		for _, t := range module.Topics {
			if t == topic {
				return nil
			}
		}
		break
	}
	return appErrors.Clone(appErrors.ErrInvalidTopic,
		fmt.Sprintf("topic %q is not in module %d of the current curriculum", topic, moduleIndex))
}

func roundPercent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
