package reporting

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vaxportal/vaxportal/internal/platform/auth"
	"github.com/vaxportal/vaxportal/pkg/calendar"
	"github.com/vaxportal/vaxportal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.ReadRoles())
	g.GET("/dashboard", h.Dashboard)
	g.GET("/vaccinations", h.Vaccinations)
	g.GET("/vaccinations/export", h.Export)
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Vaccinations(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	rows, total, err := h.svc.Report(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, total, pg.Limit, pg.Offset))
}

func (h *Handler) Export(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	name, data, err := h.svc.Export(c.Request().Context(), f)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, ContentTypeXLSX, data)
}

func filterFrom(c echo.Context) (Filter, error) {
	f := Filter{Vaccine: c.QueryParam("vaccine"), Class: c.QueryParam("class")}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		day, err := calendar.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, name+" must be a date (YYYY-MM-DD)")
		}
		*dst = &day
	}
	return f, nil
}
