package link

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/auth"
	"github.com/mpi/mpi/internal/platform/errs"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "steward", "clerk"))
	read.GET("/links/:id", h.GetLink)
	read.GET("/patients/:id/links", h.History)
	read.GET("/patients/:id/linked", h.LinkedPatients)

	steward := api.Group("", auth.RequireRole("admin", "steward"))
	steward.POST("/links", h.CreateLink)
	steward.POST("/links/:id/approve", h.Approve)
	steward.POST("/links/:id/reject", h.Reject)
	steward.POST("/links/:id/unlink", h.Unlink)
}

type createLinkRequest struct {
	MasterID    uuid.UUID       `json:"master_id" validate:"required"`
	ChildID     uuid.UUID       `json:"child_id" validate:"required"`
	Type        LinkType        `json:"link_type"`
	Confidence  decimal.Decimal `json:"confidence"`
	CandidateID *uuid.UUID      `json:"candidate_id"`
	Reason      string          `json:"reason"`
	AutoConfirm bool            `json:"auto_confirm"`
}

func (h *Handler) CreateLink(c echo.Context) error {
	var req createLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	l, err := h.svc.Link(c.Request().Context(), req.MasterID, req.ChildID, req.Type,
		req.Confidence, req.CandidateID, actor, req.Reason, req.AutoConfirm)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) GetLink(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	l, err := h.svc.GetLink(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "link not found")
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	l, err := h.svc.Approve(c.Request().Context(), id, actor)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, l)
}

type resolveLinkRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c echo.Context) error {
	return h.resolve(c, h.svc.Reject)
}

func (h *Handler) Unlink(c echo.Context) error {
	return h.resolve(c, h.svc.Unlink)
}

func (h *Handler) resolve(c echo.Context, fn func(ctx context.Context, linkID uuid.UUID, actor, reason string) (*PatientLink, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req resolveLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	l, err := fn(c.Request().Context(), id, actor, req.Reason)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) History(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	links, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"links": links})
}

func (h *Handler) LinkedPatients(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	linked, err := h.svc.LinkedPatients(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"linked": linked})
}
