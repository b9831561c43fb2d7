package controller

import (
	"github.com/xphd/d3m-mini-ms/internal/dto"
	"github.com/xphd/d3m-mini-ms/internal/pkg/serverutils"
	"github.com/xphd/d3m-mini-ms/internal/presenter"
	"github.com/xphd/d3m-mini-ms/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ISolutionController interface {
	RegisterRoutes(r fiber.Router)
	Session(ctx *fiber.Ctx) error
	Solutions(ctx *fiber.Ctx) error
	Pipeline(ctx *fiber.Ctx) error
	Ranking(ctx *fiber.Ctx) error
}

type solutionController struct {
	orchestrator service.ISearchOrchestrator
	service      service.ISolutionService
	presenter    *presenter.GatewayPresenter
}

func NewSolutionController(orchestrator service.ISearchOrchestrator, service service.ISolutionService) ISolutionController {
	return &solutionController{
		orchestrator: orchestrator,
		service:      service,
		presenter:    presenter.NewGatewayPresenter(),
	}
}

func (c *solutionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/api")
	h.Get("/session", c.Session)
	h.Get("/solutions", c.Solutions)
	h.Get("/solutions/:id/pipeline", c.Pipeline)
	h.Get("/ranking", c.Ranking)
}

func (c *solutionController) Session(ctx *fiber.Ctx) error {
	res := c.presenter.Session(c.orchestrator.Status())
	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *solutionController) Solutions(ctx *fiber.Ctx) error {
	res := c.presenter.Solutions(c.service.ListSolutions(ctx.UserContext()))
	return ctx.JSON(serverutils.SuccessResponse("Success get solutions", res))
}

func (c *solutionController) Pipeline(ctx *fiber.Ctx) error {
	req := dto.PipelineRequest{SolutionID: ctx.Params("id")}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	doc, err := c.service.Pipeline(ctx.UserContext(), req.SolutionID)
	if err != nil {
		return err
	}
	pipeline, err := c.presenter.Pipeline(doc)
	if err != nil {
		return err
	}

	res := dto.PipelineResponse{SolutionID: req.SolutionID, Pipeline: pipeline}
	return ctx.JSON(serverutils.SuccessResponse("Success get pipeline", res))
}

func (c *solutionController) Ranking(ctx *fiber.Ctx) error {
	var req dto.RankingRequest
	if err := ctx.QueryParser(&req); err != nil {
		return err
	}

	metric, ranked := c.service.Ranking(req.Metric)
	return ctx.JSON(serverutils.SuccessResponse("Success get ranking", c.presenter.Ranking(metric, ranked)))
}
