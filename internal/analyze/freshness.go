package analyze

import (
	"time"

	"hypewatch/internal/domain"
)

// MaxResultAge is the staleness threshold: a result whose last_run is this
// old (or older) triggers a silent re-run. Fixed policy, not configurable.
const MaxResultAge = time.Hour

// IsStale reports whether result should be recomputed. A missing result, a
// missing or unparsable last_run, and an aged-out timestamp are all treated
// as stale; none of them is surfaced as an error.
func IsStale(result *domain.AnalysisResult, now time.Time) bool {
	if result == nil || result.LastRun == "" {
		return true
	}
	lastRun, err := result.LastRunTime()
	if err != nil {
		return true
	}
	return now.Sub(lastRun) >= MaxResultAge
}
