package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankedHigherIsBetter(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	scores := map[string]float64{"A": 0.7, "B": 0.9, "C": 0.8}
	for id, v := range scores {
		sess.RecordDiscovered(id)
		require.NoError(t, sess.MergeScores(id, map[string]float64{"accuracy": v}))
	}
	sess.RecordDiscovered("unscored")

	got := sess.Ranked("accuracy", 0)

	require.Len(t, got, 3)
	assert.Equal(t, RankedSolution{Rank: 1, SolutionID: "B", Score: 0.9}, got[0])
	assert.Equal(t, RankedSolution{Rank: 2, SolutionID: "C", Score: 0.8}, got[1])
	assert.Equal(t, RankedSolution{Rank: 3, SolutionID: "A", Score: 0.7}, got[2])
}

func TestRankedLowerIsBetter(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	for id, v := range map[string]float64{"A": 2.5, "B": 0.5} {
		sess.RecordDiscovered(id)
		require.NoError(t, sess.MergeScores(id, map[string]float64{"MEAN_SQUARED_ERROR": v}))
	}

	got := sess.Ranked("MEAN_SQUARED_ERROR", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].SolutionID)
}

func TestRankedAppliesCutoffButStoresAll(t *testing.T) {
	const cutoff = 20
	sess := NewSessionStore(cutoff).StartSession()
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("s-%02d", i)
		sess.RecordDiscovered(id)
		require.NoError(t, sess.MergeScores(id, map[string]float64{"accuracy": float64(i) / 100}))
	}

	got := sess.Ranked("accuracy", 0)

	require.Len(t, got, cutoff)
	assert.Equal(t, "s-24", got[0].SolutionID)
	assert.Equal(t, cutoff, got[cutoff-1].Rank)
	assert.Len(t, sess.Snapshot(), 25)
}

func TestRankedTiesAreDeterministic(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	for _, id := range []string{"C", "A", "B"} {
		sess.RecordDiscovered(id)
		require.NoError(t, sess.MergeScores(id, map[string]float64{"accuracy": 0.5}))
	}

	got := sess.Ranked("accuracy", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].SolutionID)
	assert.Equal(t, "B", got[1].SolutionID)
}

func TestLowerIsBetter(t *testing.T) {
	tests := []struct {
		metric string
		want   bool
	}{
		{"accuracy", false},
		{"f1Macro", false},
		{"meanSquaredError", true},
		{"ROOT_MEAN_SQUARED_ERROR", true},
		{"meanAbsoluteError", true},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			assert.Equal(t, tt.want, LowerIsBetter(tt.metric))
		})
	}
}
