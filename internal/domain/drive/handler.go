package drive

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vaxportal/vaxportal/internal/platform/auth"
	"github.com/vaxportal/vaxportal/internal/platform/middleware"
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
	read := api.Group("/vaccination-drives", auth.ReadRoles())
	read.GET("", h.List)
	read.GET("/upcoming", h.Upcoming)
	read.GET("/:id", h.Get)

	write := api.Group("/vaccination-drives", auth.WriteRoles())
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errNotFound
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errNotFound
	}
	var req UpdateRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errNotFound
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Vaccination drive deleted successfully"})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var upcoming bool
	if v := c.QueryParam("upcoming"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "upcoming must be true or false")
		}
		upcoming = b
	}
	items, total, err := h.svc.List(c.Request().Context(), upcoming, c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Upcoming lists drives from today through the configured window, unpaginated.
func (h *Handler) Upcoming(c echo.Context) error {
	items, err := h.svc.Upcoming(c.Request().Context())
	if err != nil {
		return err
	}
	from, to := h.svc.UpcomingWindow()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data": items,
		"from": calendar.NewDate(from),
		"to":   calendar.NewDate(to),
	})
}
