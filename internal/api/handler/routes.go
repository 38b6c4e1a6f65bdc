package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanosuguru/go-nested-tx/internal/api/middleware"
	"github.com/sanosuguru/go-nested-tx/internal/config"
)

// RegisterRoutes はルーティングを登録する
func RegisterRoutes(e *echo.Echo, health *HealthHandler, probe *ProbeHandler, metricsCfg *config.MetricsConfig) {
	v1 := e.Group("/api/v1")
	v1.GET("/health", health.Check)
	v1.GET("/ready", health.Ready)
	v1.POST("/probes/serialization", probe.Run)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.MetricsBasicAuth(metricsCfg))
}
