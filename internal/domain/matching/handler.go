package matching

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/auth"
	"github.com/mpi/mpi/internal/platform/errs"
	"github.com/mpi/mpi/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "steward", "clerk"))
	read.POST("/match/probabilistic", h.FindMatches)
	read.GET("/candidates", h.ListCandidates)
	read.GET("/candidates/:id", h.GetCandidate)
	read.GET("/match/config", h.GetConfig)

	steward := api.Group("", auth.RequireRole("admin", "steward"))
	steward.POST("/patients/:id/scan", h.ScanPatient)
	steward.POST("/candidates/:id/review", h.ReviewCandidate)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.PUT("/match/config", h.SaveConfig)
}

type findRequest struct {
	Family    string    `json:"family"`
	Given     string    `json:"given"`
	BirthDate time.Time `json:"birth_date"`
	Sex       string    `json:"sex"`
}

func (h *Handler) FindMatches(c echo.Context) error {
	var req findRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q := Query{Family: req.Family, Given: req.Given, BirthDate: req.BirthDate, Sex: req.Sex}
	results, err := h.svc.FindMatches(c.Request().Context(), q, uuid.Nil)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"matches": results})
}

func (h *Handler) ScanPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	results, err := h.svc.ScanPatient(c.Request().Context(), patientID, actor)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"matches": results})
}

func (h *Handler) ListCandidates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCandidates(c.Request().Context(),
		ReviewStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetCandidate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cand, err := h.svc.GetCandidate(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "candidate not found")
	}
	return c.JSON(http.StatusOK, cand)
}

type reviewRequest struct {
	Status ReviewStatus `json:"status" validate:"required"`
	Note   string       `json:"note"`
}

func (h *Handler) ReviewCandidate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	cand, err := h.svc.Review(c.Request().Context(), id, req.Status, reviewer, req.Note)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cand)
}

func (h *Handler) GetConfig(c echo.Context) error {
	cfg := h.svc.ActiveConfig()
	return c.JSON(http.StatusOK, cfg)
}

type configRequest struct {
	Name string `json:"name" validate:"required"`

	WeightNameFull     decimal.Decimal `json:"weight_name_full"`
	WeightNameFamily   decimal.Decimal `json:"weight_name_family"`
	WeightNamePhonetic decimal.Decimal `json:"weight_name_phonetic"`
	WeightNameFuzzy    decimal.Decimal `json:"weight_name_fuzzy"`
	WeightBirthExact   decimal.Decimal `json:"weight_birth_exact"`
	WeightBirthNear    decimal.Decimal `json:"weight_birth_near"`
	WeightSex          decimal.Decimal `json:"weight_sex"`
	WeightIdentifier   decimal.Decimal `json:"weight_identifier"`

	MinConfidence     decimal.Decimal `json:"min_confidence"`
	AutoLinkThreshold decimal.Decimal `json:"auto_link_threshold"`
	ProbableThreshold decimal.Decimal `json:"probable_threshold"`
}

func (h *Handler) SaveConfig(c echo.Context) error {
	var req configRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cfg := &AlgorithmConfig{
		Name:               req.Name,
		WeightNameFull:     req.WeightNameFull,
		WeightNameFamily:   req.WeightNameFamily,
		WeightNamePhonetic: req.WeightNamePhonetic,
		WeightNameFuzzy:    req.WeightNameFuzzy,
		WeightBirthExact:   req.WeightBirthExact,
		WeightBirthNear:    req.WeightBirthNear,
		WeightSex:          req.WeightSex,
		WeightIdentifier:   req.WeightIdentifier,
		MinConfidence:      req.MinConfidence,
		AutoLinkThreshold:  req.AutoLinkThreshold,
		ProbableThreshold:  req.ProbableThreshold,
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.SaveConfig(c.Request().Context(), cfg, actor); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, cfg)
}
