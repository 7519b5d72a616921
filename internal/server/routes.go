package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	coreactor "github.com/berfenger/tuyalocal2mqtt/internal/core/actor"
	"github.com/berfenger/tuyalocal2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type errorResponse struct {
	Error string              `json:"error"`
	Entry *domain.EntryStatus `json:"entry,omitempty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/entries", s.ListEntriesHandler)
	e.PUT("/entries/:entry_id/options", s.UpdateEntryOptionsHandler)
	e.DELETE("/entries/:entry_id", s.UnloadEntryHandler)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ListEntriesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.EntryStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.EntryStatusResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	return c.JSON(http.StatusOK, response.Entries)
}

func (s *Server) UpdateEntryOptionsHandler(c echo.Context) error {
	var options map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&options); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be a JSON object"})
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.UpdateEntryOptionsRequest{
		EntryId: c.Param("entry_id"),
		Options: options,
	}, s.requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.UpdateEntryOptionsResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return entryError(c, response.GetResponseError(), response.Status)
	}
	return c.JSON(http.StatusOK, response.Status)
}

func (s *Server) UnloadEntryHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.UnloadEntryRequest{
		EntryId: c.Param("entry_id"),
	}, s.requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.UnloadEntryResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return entryError(c, response.GetResponseError(), response.Status)
	}
	return c.JSON(http.StatusOK, response.Status)
}

func entryError(c echo.Context, err error, status domain.EntryStatus) error {
	if errors.Is(err, coreactor.ErrEntryNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Entry: &status})
}
