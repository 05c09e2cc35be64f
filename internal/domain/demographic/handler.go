package demographic

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
	read.GET("/patients/:id/names", h.GetCurrentNames)
	read.GET("/patients/:id/names/:type", h.GetName)
	read.GET("/patients/:id/names/:type/history", h.GetNameHistory)
	read.GET("/patients/:id/names/:type/consistency", h.GetNameConsistency)
	read.GET("/patients/:id/demographics", h.GetDemographics)
	read.GET("/patients/:id/demographics/history", h.GetDemographicsHistory)
	read.GET("/patients/:id/demographics/consistency", h.GetDemographicsConsistency)

	write := api.Group("", auth.RequireRole("admin", "steward"))
	write.POST("/patients/:id/names/:type", h.CreateName)
	write.PUT("/patients/:id/names/:type", h.UpdateName)
	write.DELETE("/names/:rowId", h.DeleteName)
	write.POST("/patients/:id/demographics", h.CreateDemographics)
	write.PUT("/patients/:id/demographics", h.UpdateDemographics)
	write.DELETE("/demographics/:rowId", h.DeleteDemographics)
}

type nameRequest struct {
	Family        string    `json:"family"`
	Given         string    `json:"given"`
	Middle        string    `json:"middle"`
	Prefix        string    `json:"prefix"`
	Suffix        string    `json:"suffix"`
	EffectiveFrom time.Time `json:"effective_from"`
}

func (h *Handler) setName(c echo.Context, mustExist bool) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req nameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n := &PatientName{
		NameType: NameType(c.Param("type")),
		Family:   req.Family, Given: req.Given, Middle: req.Middle,
		Prefix: req.Prefix, Suffix: req.Suffix,
	}
	n.PatientID = patientID
	n.EffectiveFrom = req.EffectiveFrom

	actor := auth.UserIDFromContext(c.Request().Context())
	if _, err := h.svc.SetName(c.Request().Context(), n, actor, mustExist); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	status := http.StatusCreated
	if mustExist {
		status = http.StatusOK
	}
	return c.JSON(status, n)
}

func (h *Handler) CreateName(c echo.Context) error { return h.setName(c, false) }
func (h *Handler) UpdateName(c echo.Context) error { return h.setName(c, true) }

func (h *Handler) GetCurrentNames(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	names, err := h.svc.CurrentNames(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, names)
}

// GetName returns the current version, or the version visible at the
// RFC 3339 instant passed in ?at=.
func (h *Handler) GetName(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t := NameType(c.Param("type"))

	var n *PatientName
	if at := c.QueryParam("at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid at timestamp")
		}
		n, err = h.svc.NameAt(c.Request().Context(), patientID, t, ts)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "name not found")
		}
	} else {
		n, err = h.svc.CurrentName(c.Request().Context(), patientID, t)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "name not found")
		}
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) GetNameHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.NameHistory(c.Request().Context(), patientID, NameType(c.Param("type")))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) GetNameConsistency(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	findings, err := h.svc.ValidateNameChain(c.Request().Context(), patientID, NameType(c.Param("type")))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"findings": findings})
}

func (h *Handler) DeleteName(c echo.Context) error {
	rowID, err := uuid.Parse(c.Param("rowId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid row id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	ok, err := h.svc.DeleteName(c.Request().Context(), rowID, actor, c.QueryParam("reason"))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no current version for row")
	}
	return c.NoContent(http.StatusNoContent)
}

type demographicsRequest struct {
	BirthDate     time.Time  `json:"birth_date" validate:"required"`
	Sex           string     `json:"sex"`
	BirthPlace    string     `json:"birth_place"`
	DeceasedAt    *time.Time `json:"deceased_at"`
	EffectiveFrom time.Time  `json:"effective_from"`
}

func (h *Handler) setDemographics(c echo.Context, mustExist bool) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req demographicsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	d := &Demographics{
		BirthDate: req.BirthDate, Sex: req.Sex,
		BirthPlace: req.BirthPlace, DeceasedAt: req.DeceasedAt,
	}
	d.PatientID = patientID
	d.EffectiveFrom = req.EffectiveFrom

	actor := auth.UserIDFromContext(c.Request().Context())
	if _, err := h.svc.SetDemographics(c.Request().Context(), d, actor, mustExist); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	status := http.StatusCreated
	if mustExist {
		status = http.StatusOK
	}
	return c.JSON(status, d)
}

func (h *Handler) CreateDemographics(c echo.Context) error { return h.setDemographics(c, false) }
func (h *Handler) UpdateDemographics(c echo.Context) error { return h.setDemographics(c, true) }

func (h *Handler) GetDemographics(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var d *Demographics
	if at := c.QueryParam("at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid at timestamp")
		}
		d, err = h.svc.DemographicsAt(c.Request().Context(), patientID, ts)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "demographics not found")
		}
	} else {
		d, err = h.svc.CurrentDemographics(c.Request().Context(), patientID)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "demographics not found")
		}
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetDemographicsHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.DemographicsHistory(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) GetDemographicsConsistency(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	findings, err := h.svc.ValidateDemographics(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"findings": findings})
}

func (h *Handler) DeleteDemographics(c echo.Context) error {
	rowID, err := uuid.Parse(c.Param("rowId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid row id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	ok, err := h.svc.DeleteDemographics(c.Request().Context(), rowID, actor, c.QueryParam("reason"))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no current version for row")
	}
	return c.NoContent(http.StatusNoContent)
}
