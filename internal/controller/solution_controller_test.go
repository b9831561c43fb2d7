package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/internal/pkg/serverutils"
	"github.com/xphd/d3m-mini-ms/internal/repository/implementation"
	"github.com/xphd/d3m-mini-ms/internal/service"
	"github.com/xphd/d3m-mini-ms/pkg/store"
	"github.com/xphd/d3m-mini-ms/pkg/ta2"
	"github.com/xphd/d3m-mini-ms/pkg/ta2/ta2mock"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

const protocolVersion = "2018.7.7"

func newApp(t *testing.T) (*fiber.App, service.ISearchOrchestrator) {
	t.Helper()
	srv := ta2mock.New(protocolVersion,
		ta2mock.Solution{ID: "A", Scores: map[string]float64{"accuracy": 0.9}, Steps: 3},
		ta2mock.Solution{ID: "B", Scores: map[string]float64{"accuracy": 0.7}, Steps: 5},
	)
	target, dial, stop := ta2mock.Bufconn(srv)
	client := ta2.NewClient(ta2.Options{
		UserAgent:   "TA3-TGW",
		Version:     protocolVersion,
		DialOptions: []grpc.DialOption{dial},
	}, logger.NewNopLogger(), nil)
	t.Cleanup(func() {
		_ = client.Close()
		stop()
	})

	sessions := store.NewSessionStore(1)
	solutions := service.NewSolutionService(client, implementation.NewFileArtifactRepository(t.TempDir()), sessions,
		service.SolutionServiceConfig{Metrics: []string{"accuracy"}, RankMetric: "accuracy"}, logger.NewNopLogger())
	orch := service.NewSearchOrchestrator(client, solutions, sessions, nil, nil, service.OrchestratorConfig{
		Address:        target,
		Metrics:        []string{"accuracy"},
		SearchDeadline: 2 * time.Second,
	}, logger.NewNopLogger())

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewSolutionController(orch, solutions).RegisterRoutes(app)
	return app, orch
}

func get(t *testing.T, app *fiber.App, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	return resp.StatusCode, out
}

func TestReadAPIAfterRun(t *testing.T) {
	app, orch := newApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := orch.Run(ctx)
	require.NoError(t, err)

	status, body := get(t, app, "/api/session")
	assert.Equal(t, http.StatusOK, status)
	session := body["data"].(map[string]interface{})
	assert.Equal(t, "Done", session["state"])
	assert.EqualValues(t, 2, session["solutionCount"])

	_, body = get(t, app, "/api/solutions")
	rows := body["data"].([]interface{})
	require.Len(t, rows, 2)
	assert.EqualValues(t, 3, rows[0].(map[string]interface{})["pipelineSize"])

	_, body = get(t, app, "/api/solutions/B/pipeline")
	pipeline := body["data"].(map[string]interface{})["pipeline"].(map[string]interface{})
	assert.Len(t, pipeline["steps"], 5)

	// The cutoff of one keeps only the best.
	_, body = get(t, app, "/api/ranking?metric=accuracy")
	ranking := body["data"].(map[string]interface{})
	assert.Equal(t, "accuracy", ranking["metric"])
	ranked := ranking["solutions"].([]interface{})
	require.Len(t, ranked, 1)
	assert.Equal(t, "A", ranked[0].(map[string]interface{})["solutionID"])
}

func TestPipelineNotFound(t *testing.T) {
	app, _ := newApp(t)

	status, body := get(t, app, "/api/solutions/ghost/pipeline")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, serverutils.CodeNotFound, body["errorCode"])
	assert.Equal(t, false, body["success"])
}

func TestSessionBeforeAnyRun(t *testing.T) {
	app, _ := newApp(t)

	_, body := get(t, app, "/api/session")
	session := body["data"].(map[string]interface{})
	assert.Equal(t, "Idle", session["state"])
	assert.EqualValues(t, 0, session["generation"])
	assert.Equal(t, "Disconnected", session["connectionState"])
}
