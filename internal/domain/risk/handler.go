package risk

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/auth"
	"github.com/MohanthTulimilli/skill-palaver-medibot/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Scoring and insights – billing, scheduling staff
	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleScheduler))
	writeGroup.POST("/risk/:domain/:id/score", h.ScoreRecord)
	writeGroup.POST("/ml/predict/:domain", h.PredictWithInsights)

	// Read endpoints – also analysts
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleScheduler, auth.RoleAnalyst))
	readGroup.GET("/risk/:domain", h.ListSnapshots)
	readGroup.GET("/risk/:domain/:id", h.GetSnapshot)
	readGroup.GET("/ml/stats/:domain", h.Stats)
}

func (h *Handler) ScoreRecord(c echo.Context) error {
	d, err := domainParam(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bag, err := bindBag(c)
	if err != nil {
		return err
	}

	snap, err := h.svc.Score(c.Request().Context(), d, id, bag)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	d, err := domainParam(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	snap, err := h.svc.GetSnapshot(c.Request().Context(), d, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListSnapshots(c echo.Context) error {
	d, err := domainParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	items, total, err := h.svc.ListSnapshots(c.Request().Context(), d, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) PredictWithInsights(c echo.Context) error {
	d, err := domainParam(c)
	if err != nil {
		return err
	}
	bag, err := bindBag(c)
	if err != nil {
		return err
	}

	report, err := h.svc.PredictWithInsights(c.Request().Context(), d, bag)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Stats(c echo.Context) error {
	d, err := domainParam(c)
	if err != nil {
		return err
	}

	stats, err := h.svc.Stats(c.Request().Context(), d)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func domainParam(c echo.Context) (Domain, error) {
	d, err := ParseDomain(c.Param("domain"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return d, nil
}

// bindBag decodes the request body as a raw attribute bag. Numbers keep their
// literal form so they reach the inference service unchanged. An empty body
// is an empty bag.
func bindBag(c echo.Context) (map[string]any, error) {
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()

	var bag map[string]any
	err := dec.Decode(&bag)
	var he *echo.HTTPError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return bag, nil
	case errors.As(err, &he):
		return nil, he
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON object")
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownDomain), errors.Is(err, ErrInvalidFeature):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSnapshotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
