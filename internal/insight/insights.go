package insight

import (
	"fmt"

	"github.com/daybook-hq/daybook/internal/store"
)

// Suggestion thresholds. Each rule fires independently; the order of
// the returned suggestions is fixed.
const (
	overrunRatioThreshold = 1.5
	lateSubtasksThreshold = 2
	stallMinutesThreshold = 30
)

// CalculateInsights derives human-readable suggestions from a recorded
// execution snapshot. Any subset of rules may fire; an uneventful task
// yields an empty, non-nil list.
func CalculateInsights(h *store.History) []string {
	suggestions := []string{}

	if h.EstimateRatio != nil && *h.EstimateRatio > overrunRatioThreshold {
		overrun := int((*h.EstimateRatio - 1) * 100)
		suggestions = append(suggestions,
			fmt.Sprintf("This task took %d%% longer than estimated. Consider padding estimates for similar work.", overrun))
	}
	if h.SubtasksAddedLate > lateSubtasksThreshold {
		suggestions = append(suggestions,
			fmt.Sprintf("%d subtasks surfaced after work began. Spending more time planning upfront could reduce surprises.", h.SubtasksAddedLate))
	}
	if h.StallMinutes > stallMinutesThreshold {
		suggestions = append(suggestions,
			fmt.Sprintf("Work stalled for %d minutes in total. Review what blocked progress and whether it could be cleared earlier.", h.StallMinutes))
	}
	if h.DaysOverdue != nil && *h.DaysOverdue > 0 {
		suggestions = append(suggestions,
			fmt.Sprintf("Finished %d day(s) past the due date. Starting earlier or trimming scope may help next time.", *h.DaysOverdue))
	}

	return suggestions
}
