package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDiscoveredKeepsDistinctIDs(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"empty", nil, []string{}},
		{"unique", []string{"B", "A"}, []string{"A", "B"}},
		{"duplicates", []string{"A", "B", "A", "A", "C", "B"}, []string{"A", "B", "C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := NewSessionStore(20).StartSession()
			for _, id := range tt.input {
				sess.RecordDiscovered(id)
			}
			assert.Equal(t, tt.want, sess.SolutionIDs())
			assert.Len(t, sess.Snapshot(), len(tt.want))
		})
	}
}

func TestRediscoveryDoesNotResetRecord(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	require.True(t, sess.RecordDiscovered("A"))
	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.9}))

	assert.False(t, sess.RecordDiscovered("A"))
	assert.Equal(t, 0.9, sess.Snapshot("A")[0].Scores["accuracy"])
}

func TestMergeScoresIsIdempotent(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	sess.RecordDiscovered("A")

	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.8}))
	once := sess.Snapshot()
	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.8}))

	assert.Equal(t, once, sess.Snapshot())
}

func TestMergeScoresOverwritesPerMetric(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	sess.RecordDiscovered("A")

	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.5, "f1": 0.4}))
	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.7}))

	assert.Equal(t, map[string]float64{"accuracy": 0.7, "f1": 0.4}, sess.Snapshot()[0].Scores)
}

func TestUnknownSolutionMutatesNothing(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	sess.RecordDiscovered("A")
	before := sess.Snapshot()

	err := sess.MergeScores("ghost", map[string]float64{"accuracy": 1})
	assert.True(t, errors.Is(err, ErrUnknownSolution))

	err = sess.AttachDescription("ghost", 3)
	assert.True(t, errors.Is(err, ErrUnknownSolution))

	assert.Equal(t, before, sess.Snapshot())
	assert.False(t, sess.Has("ghost"))
}

func TestAttachDescription(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	sess.RecordDiscovered("A")
	assert.Nil(t, sess.Snapshot()[0].PipelineSize)

	require.NoError(t, sess.AttachDescription("A", 3))
	size := sess.Snapshot()[0].PipelineSize
	require.NotNil(t, size)
	assert.Equal(t, 3, *size)
}

func TestBindSearchID(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	assert.Empty(t, sess.SearchID())

	require.NoError(t, sess.BindSearchID("search-1"))
	assert.Equal(t, "search-1", sess.SearchID())

	err := sess.BindSearchID("search-2")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, "search-1", sess.SearchID())

	assert.True(t, errors.Is(NewSessionStore(20).StartSession().BindSearchID(""), ErrInvalidState))
}

func TestStartSessionClearsEverything(t *testing.T) {
	st := NewSessionStore(20)
	old := st.StartSession()
	require.NoError(t, old.BindSearchID("search-1"))
	old.RecordDiscovered("A")
	old.SetConnectionState(StateConnected)

	fresh := st.StartSession()

	assert.Empty(t, fresh.Snapshot())
	assert.Empty(t, fresh.SearchID())
	assert.Equal(t, StateConnected, fresh.ConnectionState())
	assert.Greater(t, fresh.Generation(), old.Generation())
	assert.True(t, st.IsCurrent(fresh))
	assert.False(t, st.IsCurrent(old))
}

func TestSupersededSessionWritesAreInvisible(t *testing.T) {
	st := NewSessionStore(20)
	old := st.StartSession()
	old.RecordDiscovered("A")

	st.StartSession()
	old.RecordDiscovered("late")
	require.NoError(t, old.MergeScores("A", map[string]float64{"accuracy": 1}))

	assert.Empty(t, st.Current().Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	sess.RecordDiscovered("A")
	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.9}))
	require.NoError(t, sess.AttachDescription("A", 2))

	snap := sess.Snapshot()
	snap[0].Scores["accuracy"] = 0
	*snap[0].PipelineSize = 99

	again := sess.Snapshot()
	assert.Equal(t, 0.9, again[0].Scores["accuracy"])
	assert.Equal(t, 2, *again[0].PipelineSize)
}

func TestSnapshotFilter(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	for _, id := range []string{"A", "B", "C"} {
		sess.RecordDiscovered(id)
	}

	got := sess.Snapshot("C", "missing", "A", "C")
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].SolutionID)
	assert.Equal(t, "C", got[1].SolutionID)
}

func TestEndToEndScoring(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	sess.RecordDiscovered("A")
	sess.RecordDiscovered("B")
	require.NoError(t, sess.MergeScores("A", map[string]float64{"accuracy": 0.9}))
	require.NoError(t, sess.MergeScores("B", map[string]float64{"accuracy": 0.7}))

	snap := sess.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, map[string]float64{"accuracy": 0.9}, snap[0].Scores)
	assert.Equal(t, map[string]float64{"accuracy": 0.7}, snap[1].Scores)
}

func TestConcurrentMerges(t *testing.T) {
	sess := NewSessionStore(20).StartSession()
	for i := 0; i < 10; i++ {
		sess.RecordDiscovered(fmt.Sprintf("s-%d", i))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("s-%d", i)
				_ = sess.MergeScores(id, map[string]float64{fmt.Sprintf("m-%d", w): float64(i)})
				_ = sess.AttachDescription(id, w)
				_ = sess.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	for _, rec := range sess.Snapshot() {
		assert.Len(t, rec.Scores, 8)
	}
}

func TestSummary(t *testing.T) {
	st := NewSessionStore(7)
	sess := st.StartSession()
	require.NoError(t, sess.BindSearchID("search-9"))
	sess.RecordDiscovered("A")

	sum := sess.Summary()
	assert.Equal(t, "search-9", sum.SearchID)
	assert.Equal(t, 7, sum.RankCutoff)
	assert.Equal(t, 1, sum.SolutionCount)
	assert.Equal(t, StateDisconnected, sum.ConnectionState)
}
