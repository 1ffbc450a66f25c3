// Package management implements the §6 management HTTP surface: route,
// API-key, rotation, metrics, and handler-registry endpoints exposed
// under the auth gate (C13). It is grounded on the teacher's
// authorization.go/basicauth.go Echo-handler shape — JSON in, JSON out,
// errors via echo.NewHTTPError — generalized from single-resource
// handlers to this platform's five resource groups.
package management

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"fnrelay.dev/api"
	"fnrelay.dev/apikeys"
	"fnrelay.dev/auth"
	"fnrelay.dev/authgate"
	"fnrelay.dev/common"
	"fnrelay.dev/ferr"
	"fnrelay.dev/handlers"
	"fnrelay.dev/metrics"
	"fnrelay.dev/rotation"
	"fnrelay.dev/routes"
)

// Server groups the collaborators the management endpoints read and
// write, and registers them onto an Echo instance.
type Server struct {
	Routes   *routes.Store
	Keys     *apikeys.Store
	Metrics  *metrics.Store
	Rotation *rotation.Worker
	Handlers *handlers.Registry
	Gate     *authgate.Gate
}

// Register mounts every management endpoint under group, protected by
// the auth gate middleware.
func (s *Server) Register(group *echo.Group) {
	group.Use(s.Gate.Middleware())
	admin := api.RequireScope(auth.RoleAdmin)

	group.GET("/routes", s.listRoutes)
	group.POST("/routes", s.createRoute, admin)
	group.GET("/routes/:id", s.getRoute)
	group.PUT("/routes/:id", s.updateRoute, admin)
	group.DELETE("/routes/:id", s.deleteRoute, admin)
	group.POST("/routes/:id/enabled", s.setRouteEnabled, admin)

	group.GET("/keys", s.listKeys)
	group.POST("/keys", s.createKey, admin)
	group.DELETE("/keys/:id", s.deleteKey, admin)

	group.GET("/files", s.listFiles)

	group.GET("/rotation", s.rotationStatus)
	group.POST("/rotation/trigger", s.triggerRotation, admin)

	group.GET("/metrics", s.queryMetrics)
}

func jsonError(c echo.Context, status int, err error) error {
	return echo.NewHTTPError(status, err.Error())
}

func mapStoreError(c echo.Context, err error) error {
	if errors.Is(err, ferr.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, ferr.ErrDuplicateRoute) || errors.Is(err, ferr.ErrOverlappingRoute) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// --- routes ---

func (s *Server) listRoutes(c echo.Context) error {
	all, err := s.Routes.GetAll()
	if err != nil {
		return mapStoreError(c, err)
	}
	return c.JSON(http.StatusOK, all)
}

func (s *Server) createRoute(c echo.Context) error {
	var r routes.Route
	if err := c.Bind(&r); err != nil {
		return jsonError(c, http.StatusBadRequest, err)
	}
	created, err := s.Routes.Add(&r)
	if err != nil {
		return mapStoreError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) getRoute(c echo.Context) error {
	r, err := s.Routes.GetByID(c.Param("id"))
	if err != nil {
		return mapStoreError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) updateRoute(c echo.Context) error {
	var r routes.Route
	if err := c.Bind(&r); err != nil {
		return jsonError(c, http.StatusBadRequest, err)
	}
	updated, err := s.Routes.Update(c.Param("id"), &r)
	if err != nil {
		return mapStoreError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteRoute(c echo.Context) error {
	if err := s.Routes.Remove(c.Param("id")); err != nil {
		return mapStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setRouteEnabled(c echo.Context) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&body); err != nil {
		return jsonError(c, http.StatusBadRequest, err)
	}
	if err := s.Routes.SetEnabled(c.Param("id"), body.Enabled); err != nil {
		return mapStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- api keys ---

func (s *Server) listKeys(c echo.Context) error {
	keys, err := s.Keys.List()
	if err != nil {
		return mapStoreError(c, err)
	}
	redacted := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		redacted = append(redacted, map[string]string{
			"id":           k.ID,
			"group_id":     k.GroupID,
			"display_name": k.DisplayName,
			"description":  k.Description,
		})
	}
	return c.JSON(http.StatusOK, redacted)
}

func (s *Server) createKey(c echo.Context) error {
	var body struct {
		GroupID     string `json:"group_id"`
		DisplayName string `json:"display_name"`
		Secret      string `json:"secret"`
		Description string `json:"description"`
	}
	if err := c.Bind(&body); err != nil {
		return jsonError(c, http.StatusBadRequest, err)
	}
	key, err := s.Keys.Create(body.GroupID, body.DisplayName, body.Secret, body.Description)
	if err != nil {
		return mapStoreError(c, err)
	}
	common.Logger.WithFields(logrus.Fields{
		"key_id": key.ID, "group_id": key.GroupID, "secret": common.MaskSecret(body.Secret),
	}).Info("api key created")
	return c.JSON(http.StatusCreated, map[string]string{
		"id":           key.ID,
		"group_id":     key.GroupID,
		"display_name": key.DisplayName,
	})
}

func (s *Server) deleteKey(c echo.Context) error {
	if err := s.Keys.Delete(c.Param("id")); err != nil {
		return mapStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- handler registry ("files") ---

func (s *Server) listFiles(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"handler_paths": s.Handlers.Paths(),
	})
}

// --- rotation ---

func (s *Server) rotationStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"state": string(s.Rotation.State())})
}

func (s *Server) triggerRotation(c echo.Context) error {
	if err := s.Rotation.Trigger(nil); err != nil {
		if errors.Is(err, ferr.ErrRotationInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"state": string(s.Rotation.State())})
}

// --- metrics ---

func (s *Server) queryMetrics(c echo.Context) error {
	resolution := metrics.BucketType(c.QueryParam("resolution"))
	switch resolution {
	case metrics.BucketMinute, metrics.BucketHour, metrics.BucketDay:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "resolution must be one of minute, hour, day")
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := c.QueryParam("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC3339")
		}
		start = parsed
	}

	var functionID *string
	if v := c.QueryParam("function_id"); v != "" {
		functionID = &v
	}

	rows, err := s.Metrics.Query(resolution, start, end, functionID)
	if err != nil {
		return mapStoreError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}
