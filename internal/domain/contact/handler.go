package contact

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
	read.GET("/patients/:id/contacts/:kind/:use", h.GetContactPoint)
	read.GET("/patients/:id/contacts/:kind/:use/history", h.GetContactPointHistory)
	read.GET("/patients/:id/addresses/:use", h.GetAddress)
	read.GET("/patients/:id/addresses/:use/history", h.GetAddressHistory)

	write := api.Group("", auth.RequireRole("admin", "steward"))
	write.POST("/patients/:id/contacts/:kind/:use", h.CreateContactPoint)
	write.PUT("/patients/:id/contacts/:kind/:use", h.UpdateContactPoint)
	write.DELETE("/contacts/:rowId", h.DeleteContactPoint)
	write.POST("/patients/:id/addresses/:use", h.CreateAddress)
	write.PUT("/patients/:id/addresses/:use", h.UpdateAddress)
	write.DELETE("/addresses/:rowId", h.DeleteAddress)
}

type contactRequest struct {
	Value         string    `json:"value" validate:"required"`
	EffectiveFrom time.Time `json:"effective_from"`
}

func (h *Handler) setContactPoint(c echo.Context, mustExist bool) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req contactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p := &ContactPoint{Kind: Kind(c.Param("kind")), Use: Use(c.Param("use")), Value: req.Value}
	p.PatientID = patientID
	p.EffectiveFrom = req.EffectiveFrom

	actor := auth.UserIDFromContext(c.Request().Context())
	if _, err := h.svc.SetContactPoint(c.Request().Context(), p, actor, mustExist); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	status := http.StatusCreated
	if mustExist {
		status = http.StatusOK
	}
	return c.JSON(status, p)
}

func (h *Handler) CreateContactPoint(c echo.Context) error { return h.setContactPoint(c, false) }
func (h *Handler) UpdateContactPoint(c echo.Context) error { return h.setContactPoint(c, true) }

func (h *Handler) GetContactPoint(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	kind, use := Kind(c.Param("kind")), Use(c.Param("use"))

	var p *ContactPoint
	if at := c.QueryParam("at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid at timestamp")
		}
		p, err = h.svc.ContactPointAt(c.Request().Context(), patientID, kind, use, ts)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "contact point not found")
		}
	} else {
		p, err = h.svc.CurrentContactPoint(c.Request().Context(), patientID, kind, use)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "contact point not found")
		}
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetContactPointHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.ContactPointHistory(c.Request().Context(), patientID, Kind(c.Param("kind")), Use(c.Param("use")))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) DeleteContactPoint(c echo.Context) error {
	rowID, err := uuid.Parse(c.Param("rowId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid row id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	ok, err := h.svc.DeleteContactPoint(c.Request().Context(), rowID, actor, c.QueryParam("reason"))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no current version for row")
	}
	return c.NoContent(http.StatusNoContent)
}

type addressRequest struct {
	Line1         string    `json:"line1" validate:"required"`
	Line2         string    `json:"line2"`
	City          string    `json:"city" validate:"required"`
	State         string    `json:"state"`
	PostalCode    string    `json:"postal_code"`
	Country       string    `json:"country" validate:"required"`
	EffectiveFrom time.Time `json:"effective_from"`
}

func (h *Handler) setAddress(c echo.Context, mustExist bool) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req addressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	a := &Address{
		Use: Use(c.Param("use")),
		Line1: req.Line1, Line2: req.Line2, City: req.City,
		State: req.State, PostalCode: req.PostalCode, Country: req.Country,
	}
	a.PatientID = patientID
	a.EffectiveFrom = req.EffectiveFrom

	actor := auth.UserIDFromContext(c.Request().Context())
	if _, err := h.svc.SetAddress(c.Request().Context(), a, actor, mustExist); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	status := http.StatusCreated
	if mustExist {
		status = http.StatusOK
	}
	return c.JSON(status, a)
}

func (h *Handler) CreateAddress(c echo.Context) error { return h.setAddress(c, false) }
func (h *Handler) UpdateAddress(c echo.Context) error { return h.setAddress(c, true) }

func (h *Handler) GetAddress(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	use := Use(c.Param("use"))

	var a *Address
	if at := c.QueryParam("at"); at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid at timestamp")
		}
		a, err = h.svc.AddressAt(c.Request().Context(), patientID, use, ts)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "address not found")
		}
	} else {
		a, err = h.svc.CurrentAddress(c.Request().Context(), patientID, use)
		if err != nil {
			return echo.NewHTTPError(errs.HTTPStatus(err), "address not found")
		}
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAddressHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.AddressHistory(c.Request().Context(), patientID, Use(c.Param("use")))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) DeleteAddress(c echo.Context) error {
	rowID, err := uuid.Parse(c.Param("rowId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid row id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	ok, err := h.svc.DeleteAddress(c.Request().Context(), rowID, actor, c.QueryParam("reason"))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no current version for row")
	}
	return c.NoContent(http.StatusNoContent)
}
