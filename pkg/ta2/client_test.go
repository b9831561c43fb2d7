package ta2_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/pkg/ta2"
	"github.com/xphd/d3m-mini-ms/pkg/ta2/ta2mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

const version = "2018.7.7"

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (o *recordingObserver) ObserveCall(method, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string][]string{}
	}
	o.calls[method] = append(o.calls[method], outcome)
}

func mockSolutions() []ta2mock.Solution {
	return []ta2mock.Solution{
		{ID: "A", Scores: map[string]float64{"accuracy": 0.9}, Steps: 3},
		{ID: "B", Scores: map[string]float64{"accuracy": 0.7}, Steps: 5},
	}
}

// newTestClient starts srv on bufconn and returns a connected client.
func newTestClient(t *testing.T, srv *ta2mock.Server, observer ta2.CallObserver) *ta2.Client {
	t.Helper()

	target, dial, stop := ta2mock.Bufconn(srv)
	client := ta2.NewClient(ta2.Options{
		UserAgent:         "TA3-TGW",
		Version:           version,
		AllowedValueTypes: []string{"1", "2", "3"},
		ConnectTimeout:    2 * time.Second,
		DialOptions:       []grpc.DialOption{dial},
	}, logger.NewNopLogger(), observer)

	require.NoError(t, client.Connect(context.Background(), target))
	t.Cleanup(func() {
		_ = client.Close()
		stop()
	})
	return client
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := ta2mock.New(version)
	client := newTestClient(t, srv, nil)

	require.NoError(t, client.Connect(context.Background(), "passthrough:///bufnet"))
	assert.True(t, client.Connected())
}

func TestConnectUnreachable(t *testing.T) {
	client := ta2.NewClient(ta2.Options{Version: version, ConnectTimeout: 200 * time.Millisecond}, logger.NewNopLogger(), nil)
	defer client.Close()

	err := client.Connect(context.Background(), "127.0.0.1:1")
	assert.True(t, errors.Is(err, ta2.ErrConnection))
}

func TestCallsBeforeConnectOrHello(t *testing.T) {
	idle := ta2.NewClient(ta2.Options{Version: version}, logger.NewNopLogger(), nil)
	_, err := idle.Hello(context.Background())
	assert.True(t, errors.Is(err, ta2.ErrNotConnected))

	client := newTestClient(t, ta2mock.New(version, mockSolutions()...), nil)
	_, err = client.SearchSolutions(context.Background(), ta2.SearchSolutionsRequest{})
	assert.True(t, errors.Is(err, ta2.ErrHandshakeRequired))
	_, err = client.DescribeSolution(context.Background(), "A")
	assert.True(t, errors.Is(err, ta2.ErrHandshakeRequired))
}

func TestHelloVersionMismatch(t *testing.T) {
	client := newTestClient(t, ta2mock.New("2017.12.20"), nil)

	_, err := client.Hello(context.Background())
	assert.True(t, errors.Is(err, ta2.ErrHandshake))

	_, err = client.SearchSolutions(context.Background(), ta2.SearchSolutionsRequest{})
	assert.True(t, errors.Is(err, ta2.ErrHandshakeRequired))
}

func TestHelloMismatchRevokesEarlierHandshake(t *testing.T) {
	srv := ta2mock.New(version, mockSolutions()...)
	client := newTestClient(t, srv, nil)

	_, err := client.Hello(context.Background())
	require.NoError(t, err)

	srv.Version = "2017.12.20"
	_, err = client.Hello(context.Background())
	require.True(t, errors.Is(err, ta2.ErrHandshake))

	_, err = client.SearchSolutions(context.Background(), ta2.SearchSolutionsRequest{})
	assert.True(t, errors.Is(err, ta2.ErrHandshakeRequired))
	_, err = client.DescribeSolution(context.Background(), "A")
	assert.True(t, errors.Is(err, ta2.ErrHandshakeRequired))
}

func TestSearchStreamsDiscoveries(t *testing.T) {
	observer := &recordingObserver{}
	client := newTestClient(t, ta2mock.New(version, mockSolutions()...), observer)
	ctx := context.Background()

	hello, err := client.Hello(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, hello.Version)

	searchID, err := client.SearchSolutions(ctx, ta2.SearchSolutionsRequest{TimeBound: 1})
	require.NoError(t, err)
	require.NotEmpty(t, searchID)

	var found []string
	err = client.SearchResults(ctx, searchID, time.Second, func(s ta2.SolutionFound) error {
		found = append(found, s.SolutionID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, found)

	require.NoError(t, client.EndSearch(ctx, searchID))
	assert.Equal(t, []string{"success"}, observer.calls[ta2.MethodHello])
	assert.Equal(t, []string{"success"}, observer.calls[ta2.MethodGetSearchSolutionsResults])
}

func TestSearchTimeoutKeepsEarlierDiscoveries(t *testing.T) {
	srv := ta2mock.New(version, mockSolutions()...)
	srv.HoldSearchOpen = true
	client := newTestClient(t, srv, nil)
	ctx := context.Background()

	_, err := client.Hello(ctx)
	require.NoError(t, err)
	searchID, err := client.SearchSolutions(ctx, ta2.SearchSolutionsRequest{})
	require.NoError(t, err)

	var found []string
	err = client.SearchResults(ctx, searchID, 200*time.Millisecond, func(s ta2.SolutionFound) error {
		found = append(found, s.SolutionID)
		return nil
	})
	assert.True(t, errors.Is(err, ta2.ErrSearchTimeout))
	assert.Equal(t, []string{"A", "B"}, found)
}

func TestSearchRejected(t *testing.T) {
	srv := ta2mock.New(version, mockSolutions()...)
	srv.FailSearch = true
	client := newTestClient(t, srv, nil)

	_, err := client.Hello(context.Background())
	require.NoError(t, err)
	_, err = client.SearchSolutions(context.Background(), ta2.SearchSolutionsRequest{})
	assert.Error(t, err)
}

func TestScoreSolutionsSurfacesPartialResults(t *testing.T) {
	srv := ta2mock.New(version, mockSolutions()...)
	srv.FailScore["B"] = true
	client := newTestClient(t, srv, nil)

	_, err := client.Hello(context.Background())
	require.NoError(t, err)

	report, err := client.ScoreSolutions(context.Background(), []string{"A", "B", "missing", "A"}, []string{"accuracy"})
	require.NoError(t, err)

	assert.Equal(t, map[string]map[string]float64{"A": {"accuracy": 0.9}}, report.Scores)
	assert.Len(t, report.Failures, 2)
	assert.Contains(t, report.Failures, "B")
	assert.Contains(t, report.Failures, "missing")
}

func TestScoreSolutionWithoutMatchingMetric(t *testing.T) {
	client := newTestClient(t, ta2mock.New(version, mockSolutions()...), nil)
	_, err := client.Hello(context.Background())
	require.NoError(t, err)

	_, err = client.ScoreSolution(context.Background(), "A", []string{"f1Macro"})
	assert.True(t, errors.Is(err, ta2.ErrScoreFailed))
}

func TestDescribeSolution(t *testing.T) {
	client := newTestClient(t, ta2mock.New(version, mockSolutions()...), nil)
	_, err := client.Hello(context.Background())
	require.NoError(t, err)

	doc, err := client.DescribeSolution(context.Background(), "A")
	require.NoError(t, err)

	var parsed struct {
		Pipeline struct {
			Steps []json.RawMessage `json:"steps"`
		} `json:"pipeline"`
	}
	require.NoError(t, json.Unmarshal(doc, &parsed))
	assert.Len(t, parsed.Pipeline.Steps, 3)

	_, err = client.DescribeSolution(context.Background(), "unknown")
	assert.True(t, errors.Is(err, ta2.ErrDescribe))
}
