package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xphd/d3m-mini-ms/internal/dto"
	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/internal/pkg/serverutils"
	"github.com/xphd/d3m-mini-ms/internal/presenter"
	"github.com/xphd/d3m-mini-ms/internal/service"
	internalWS "github.com/xphd/d3m-mini-ms/internal/websocket"

	"github.com/gofiber/fiber/v2"
)

// Gateway event names.
const (
	EventRequestStart     = "requestStart"
	EventResponseStart    = "responseStart"
	EventErrorStart       = "errorStart"
	EventScoreSelected    = "scoreSelectedSolutions"
	EventResponseScore    = "responseScore"
	EventErrorScore       = "errorScore"
	EventDescribe         = "describeSolutions"
	EventResponseDescribe = "responseDescribe"
	EventErrorDescribe    = "errorDescribe"
	EventRequestSolutions = "requestSolutions"
	EventResponseSolution = "responseSolutions"
	EventErrorSolutions   = "errorSolutions"
	EventRequestPipeline  = "requestPipeline"
	EventResponsePipeline = "responsePipeline"
	EventErrorPipeline    = "errorPipeline"
	EventRequestRanking   = "requestRanking"
	EventResponseRanking  = "responseRanking"
	EventRequestSession   = "requestSession"
	EventResponseSession  = "responseSession"
)

const gatewayModule = "Gateway"

type GatewayHandler struct {
	orchestrator service.ISearchOrchestrator
	solutions    service.ISolutionService
	hub          *internalWS.Hub
	presenter    *presenter.GatewayPresenter
	logger       logger.ILogger
}

func NewGatewayHandler(
	orchestrator service.ISearchOrchestrator,
	solutions service.ISolutionService,
	hub *internalWS.Hub,
	log logger.ILogger,
) *GatewayHandler {
	h := &GatewayHandler{
		orchestrator: orchestrator,
		solutions:    solutions,
		hub:          hub,
		presenter:    presenter.NewGatewayPresenter(),
		logger:       log,
	}
	hub.On(EventRequestStart, h.RequestStart)
	hub.On(EventScoreSelected, h.ScoreSelected)
	hub.On(EventDescribe, h.Describe)
	hub.On(EventRequestSolutions, h.RequestSolutions)
	hub.On(EventRequestPipeline, h.RequestPipeline)
	hub.On(EventRequestRanking, h.RequestRanking)
	hub.On(EventRequestSession, h.RequestSession)
	return h
}

func (h *GatewayHandler) RegisterRoutes(r fiber.Router) {
	r.Use("/socket", internalWS.UpgradeRequired())
	r.Get("/socket", h.hub.Handler())
}

// RequestStart begins a fresh session and answers once its run settles. A
// run superseded by a later requestStart answers nothing; the later run
// answers instead.
func (h *GatewayHandler) RequestStart(ctx context.Context, e internalWS.Emitter, _ []json.RawMessage) {
	run := h.orchestrator.Start(ctx)
	select {
	case <-run.Done():
	case <-ctx.Done():
		// Client went away; the run carries on without it.
		return
	}

	err := run.Err()
	switch {
	case err == nil:
		e.Emit(EventResponseStart, nil)
	case errors.Is(err, service.ErrSuperseded):
		h.logger.Debug(gatewayModule, "Start superseded", map[string]interface{}{"generation": run.Generation()})
	default:
		h.logger.Warn(gatewayModule, "Start failed", map[string]interface{}{"generation": run.Generation(), "error": err.Error()})
		e.Emit(EventErrorStart, h.presenter.Error(err, ""))
	}
}

// ScoreSelected takes (solutionIDs, metrics).
func (h *GatewayHandler) ScoreSelected(ctx context.Context, e internalWS.Emitter, args []json.RawMessage) {
	var req dto.ScoreSelectedRequest
	if err := decodeArgs(args, &req.SolutionIDs, &req.Metrics); err != nil {
		e.Emit(EventErrorScore, h.presenter.Error(err, ""))
		return
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		e.Emit(EventErrorScore, h.presenter.Error(err, ""))
		return
	}

	outcome, err := h.solutions.ScoreSelected(ctx, req.SolutionIDs, req.Metrics)
	if err != nil {
		h.logger.Warn(gatewayModule, "Score request failed", map[string]interface{}{"error": err.Error()})
		e.Emit(EventErrorScore, h.presenter.Error(err, ""))
		return
	}

	result := h.presenter.ScoreResult(outcome)
	for _, failure := range result.Failures {
		e.Emit(EventErrorScore, failure)
	}
	e.Emit(EventResponseScore, result)
}

// Describe takes (solutionIDs).
func (h *GatewayHandler) Describe(ctx context.Context, e internalWS.Emitter, args []json.RawMessage) {
	var req dto.DescribeSolutionsRequest
	if err := decodeArgs(args, &req.SolutionIDs); err != nil {
		e.Emit(EventErrorDescribe, h.presenter.Error(err, ""))
		return
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		e.Emit(EventErrorDescribe, h.presenter.Error(err, ""))
		return
	}

	outcome, err := h.solutions.DescribeSelected(ctx, req.SolutionIDs)
	if err != nil {
		h.logger.Warn(gatewayModule, "Describe request failed", map[string]interface{}{"error": err.Error()})
		e.Emit(EventErrorDescribe, h.presenter.Error(err, ""))
		return
	}

	result := h.presenter.DescribeResult(outcome)
	for _, failure := range result.Failures {
		e.Emit(EventErrorDescribe, failure)
	}
	e.Emit(EventResponseDescribe, result)
}

// RequestSolutions answers with every solution of the current session. Rows
// whose artifact is unreadable carry artifactError and are also reported as
// errorSolutions.
func (h *GatewayHandler) RequestSolutions(ctx context.Context, e internalWS.Emitter, _ []json.RawMessage) {
	views := h.solutions.ListSolutions(ctx)
	for _, v := range views {
		if v.ArtifactErr != nil {
			e.Emit(EventErrorSolutions, h.presenter.Error(v.ArtifactErr, v.Record.SolutionID))
		}
	}
	e.Emit(EventResponseSolution, h.presenter.Solutions(views))
}

// RequestPipeline takes (solutionID).
func (h *GatewayHandler) RequestPipeline(ctx context.Context, e internalWS.Emitter, args []json.RawMessage) {
	var req dto.PipelineRequest
	if err := decodeArgs(args, &req.SolutionID); err != nil {
		e.Emit(EventErrorPipeline, h.presenter.Error(err, ""))
		return
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		e.Emit(EventErrorPipeline, h.presenter.Error(err, ""))
		return
	}

	doc, err := h.solutions.Pipeline(ctx, req.SolutionID)
	if err == nil {
		doc, err = h.presenter.Pipeline(doc)
	}
	if err != nil {
		e.Emit(EventErrorPipeline, h.presenter.Error(err, req.SolutionID))
		return
	}
	e.Emit(EventResponsePipeline, doc)
}

// RequestRanking takes an optional (metric).
func (h *GatewayHandler) RequestRanking(_ context.Context, e internalWS.Emitter, args []json.RawMessage) {
	var req dto.RankingRequest
	// A malformed metric falls back to the configured one.
	_ = decodeArgs(args, &req.Metric)

	metric, ranked := h.solutions.Ranking(req.Metric)
	e.Emit(EventResponseRanking, h.presenter.Ranking(metric, ranked))
}

func (h *GatewayHandler) RequestSession(_ context.Context, e internalWS.Emitter, _ []json.RawMessage) {
	e.Emit(EventResponseSession, h.presenter.Session(h.orchestrator.Status()))
}

// decodeArgs decodes positional args into dsts in order.
func decodeArgs(args []json.RawMessage, dsts ...interface{}) error {
	for i, dst := range dsts {
		if _, err := internalWS.Arg(args, i, dst); err != nil {
			return errors.Join(serverutils.ErrBadRequest, err)
		}
	}
	return nil
}
