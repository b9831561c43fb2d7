package store

import (
	"sort"
	"strings"
)

// RankedSolution is one row of a ranking view. Rank 1 is best.
type RankedSolution struct {
	Rank       int     `json:"rank"`
	SolutionID string  `json:"solutionID"`
	Score      float64 `json:"score"`
}

// lowerIsBetter lists error-type metrics from the TA3-TA2 metric vocabulary.
var lowerIsBetter = map[string]bool{
	"meansquarederror":     true,
	"rootmeansquarederror": true,
	"meanabsoluteerror":    true,
	"hammingloss":          true,
	"loss":                 true,
}

// LowerIsBetter reports the sort direction for metric. Names are compared
// case-insensitively with underscores ignored, so MEAN_SQUARED_ERROR and
// meanSquaredError are the same metric.
func LowerIsBetter(metric string) bool {
	key := strings.ToLower(strings.ReplaceAll(metric, "_", ""))
	return lowerIsBetter[key]
}

// Ranked orders the solutions scored on metric best-first and returns ranks
// 1..cutoff. Solutions without the metric are not ranked. Ties are broken by
// solution id so the view is deterministic. A cutoff <= 0 means the session's.
func (s *Session) Ranked(metric string, cutoff int) []RankedSolution {
	if cutoff <= 0 {
		cutoff = s.rankCutoff
	}

	s.mu.RLock()
	rows := make([]RankedSolution, 0, len(s.solutions))
	for id, rec := range s.solutions {
		if v, ok := rec.Scores[metric]; ok {
			rows = append(rows, RankedSolution{SolutionID: id, Score: v})
		}
	}
	s.mu.RUnlock()

	lower := LowerIsBetter(metric)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			if lower {
				return rows[i].Score < rows[j].Score
			}
			return rows[i].Score > rows[j].Score
		}
		return rows[i].SolutionID < rows[j].SolutionID
	})

	if cutoff > 0 && len(rows) > cutoff {
		rows = rows[:cutoff]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
