package identifier

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read.GET("/patients/:id/identifiers", h.ListIdentifiers)
	read.GET("/patients/:id/identifiers/:type/history", h.GetHistory)
	read.POST("/match/identifier", h.MatchByIdentifier)

	write := api.Group("", auth.RequireRole("admin", "steward"))
	write.POST("/patients/:id/identifiers", h.CreateIdentifier)
	write.PUT("/patients/:id/identifiers", h.UpdateIdentifier)
	write.DELETE("/identifiers/:rowId", h.DeleteIdentifier)

	// Raw values only come back through the audited reveal path.
	reveal := api.Group("", auth.RequireRole("admin"))
	reveal.POST("/patients/:id/identifiers/:type/reveal", h.RevealIdentifier)
}

type identifierRequest struct {
	IDType        Type      `json:"id_type" validate:"required"`
	System        string    `json:"system" validate:"required"`
	Value         string    `json:"value" validate:"required"`
	EffectiveFrom time.Time `json:"effective_from"`
}

func (h *Handler) setIdentifier(c echo.Context, mustExist bool) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req identifierRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor := auth.UserIDFromContext(c.Request().Context())
	ident, err := h.svc.SetIdentifier(c.Request().Context(), patientID,
		req.IDType, req.System, req.Value, req.EffectiveFrom, actor, mustExist)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	status := http.StatusCreated
	if mustExist {
		status = http.StatusOK
	}
	return c.JSON(status, ident)
}

func (h *Handler) CreateIdentifier(c echo.Context) error { return h.setIdentifier(c, false) }
func (h *Handler) UpdateIdentifier(c echo.Context) error { return h.setIdentifier(c, true) }

func (h *Handler) ListIdentifiers(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.CurrentIdentifiers(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	system := c.QueryParam("system")
	if system == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "system query parameter required")
	}
	history, err := h.svc.History(c.Request().Context(), patientID, Type(c.Param("type")), system)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) DeleteIdentifier(c echo.Context) error {
	rowID, err := uuid.Parse(c.Param("rowId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid row id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	ok, err := h.svc.DeleteIdentifier(c.Request().Context(), rowID, actor, c.QueryParam("reason"))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no current version for row")
	}
	return c.NoContent(http.StatusNoContent)
}

type matchRequest struct {
	IDType Type   `json:"id_type" validate:"required"`
	System string `json:"system" validate:"required"`
	Value  string `json:"value" validate:"required"`
	// ExcludePatient drops a known patient from the hits, so a caller
	// matching on behalf of an existing record does not get that record
	// back as its own duplicate.
	ExcludePatient string `json:"exclude_patient"`
}

func (h *Handler) MatchByIdentifier(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exclude := uuid.Nil
	if req.ExcludePatient != "" {
		var err error
		if exclude, err = uuid.Parse(req.ExcludePatient); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid exclude_patient")
		}
	}
	matches, err := h.svc.MatchByExactIdentifier(c.Request().Context(), req.IDType, req.System, req.Value, exclude)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"matches": matches})
}

type revealRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) RevealIdentifier(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	system := c.QueryParam("system")
	if system == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "system query parameter required")
	}
	var req revealRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor := auth.UserIDFromContext(c.Request().Context())
	value, err := h.svc.Reveal(c.Request().Context(), patientID, Type(c.Param("type")), system, actor, req.Reason)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"value": value})
}
