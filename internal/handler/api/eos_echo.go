package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	domrepo "EOSFit/internal/domain/repository"
	"EOSFit/internal/services/report"
	"EOSFit/internal/services/transition"
	"EOSFit/internal/usecase"
	xhttp "EOSFit/pkg/http"
	xlogger "EOSFit/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EOSEchoHandler serves the fitting, derivation and transition endpoints.
type EOSEchoHandler struct {
	logger  *xlogger.Logger
	fits    *usecase.FitRunner
	deriver *usecase.Deriver
	finder  *usecase.TransitionFinder
	store   domrepo.FitStore
}

// NewEOSEchoHandler builds the handler. store may be nil, in which case the
// stored-fits route is not registered.
func NewEOSEchoHandler(logger *xlogger.Logger, fits *usecase.FitRunner, deriver *usecase.Deriver, finder *usecase.TransitionFinder, store domrepo.FitStore) *EOSEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &EOSEchoHandler{logger: logger, fits: fits, deriver: deriver, finder: finder, store: store}
}

func (h *EOSEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/models", h.Models)
	g.POST("/fit", h.Fit)
	g.POST("/derive", h.Derive)
	g.POST("/transition", h.Transition)
	if h.store != nil {
		g.GET("/fits/:material", h.StoredFits)
	}
}

// ModelInfo describes one registered model.
type ModelInfo struct {
	Tag             eos.Tag  `json:"tag"`
	Code            string   `json:"code"`
	Params          []string `json:"params"`
	EnergyFormula   string   `json:"energy_formula"`
	PressureFormula string   `json:"pressure_formula"`
}

func (h *EOSEchoHandler) Models(c echo.Context) error {
	out := make([]ModelInfo, 0, len(eos.All()))
	for _, m := range eos.All() {
		out = append(out, ModelInfo{
			Tag:             m.Tag,
			Code:            m.Code,
			Params:          append([]string{"E0", "V0", "K0"}, m.ExtraNames...),
			EnergyFormula:   m.Formula(eos.Energy),
			PressureFormula: m.Formula(eos.Pressure),
		})
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
	return xhttp.SuccessResponse(c, out)
}

// FitResponse is a fit run plus the record line of every model, keyed by
// model code, in the format the derive endpoint accepts.
type FitResponse struct {
	*models.FitRun
	Records map[string]string `json:"records"`
}

func (h *EOSEchoHandler) Fit(c echo.Context) error {
	req := &models.FitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	run, err := h.fits.Run(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "fit", err)
	}
	records := make(map[string]string, len(run.Results))
	for _, r := range run.Results {
		records[r.Code] = strings.TrimSpace(report.FormatRecord(r))
	}
	return xhttp.SuccessResponse(c, FitResponse{FitRun: run, Records: records})
}

func (h *EOSEchoHandler) Derive(c echo.Context) error {
	req := &models.DeriveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := usecase.DeriveInputFrom(*req)
	if err != nil {
		return h.fail(c, "derive", err)
	}
	out, err := h.deriver.Run(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, "derive", err)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *EOSEchoHandler) Transition(c echo.Context) error {
	req := &models.TransitionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := usecase.TransitionInputFrom(*req)
	if err != nil {
		return h.fail(c, "transition", err)
	}
	tr, err := h.finder.Run(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, "transition", err)
	}
	return xhttp.SuccessResponse(c, tr)
}

func (h *EOSEchoHandler) StoredFits(c echo.Context) error {
	kind, err := eos.ParseKind(c.QueryParam("kind"))
	if c.QueryParam("kind") == "" {
		kind, err = eos.Energy, nil
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	material := c.Param("material")
	results, err := h.store.LatestFits(c.Request().Context(), material, string(kind))
	if err != nil {
		return h.fail(c, "stored_fits", err)
	}
	if len(results) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no %s fits stored for %q", kind, material))
	}
	return xhttp.SuccessResponse(c, results)
}

// fail maps domain errors to HTTP statuses: bad input is 400, values the
// models cannot evaluate are 422, anything else is logged and hidden.
func (h *EOSEchoHandler) fail(c echo.Context, op string, err error) error {
	var (
		ie *eos.InputError
		rf *eos.RootFindError
		ce *eos.ConvergenceError
		de *eos.DomainError
	)
	switch {
	case errors.As(err, &ie):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.As(err, &rf):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError(err.Error()).
			WithParam("model", rf.Model).WithParam("pressure", rf.Pressure))
	case errors.Is(err, transition.ErrNoTransition), errors.As(err, &ce), errors.As(err, &de):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError(err.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_CANCELED", "", "request canceled", http.StatusServiceUnavailable))
	}
	h.logger.Error("eos usecase error", xlogger.String("op", op), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
}
