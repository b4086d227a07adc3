// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/pkg/telemetry"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// SetupRoutes registers the research API route table.
func SetupRoutes(router *gin.Engine, registry *Registry, source agent.CheckpointSource,
	factory RunnerFactory, cfg Config, logger *logging.Logger) {

	router.GET("/health", HealthCheck)
	router.GET("/metrics", metricsHandler())

	v1 := router.Group("/v1")
	{
		research := v1.Group("/research")
		{
			research.POST("/run", HandleRunResearch(registry, factory, cfg, logger))
			research.GET("/runs/:id", HandleGetRun(registry))
			research.GET("/stream/:id", HandleStream(registry, logger))
			research.GET("/checkpoints/:id", HandleGetCheckpoint(source))
			research.POST("/resume/:id", HandleResume(registry, source, factory, cfg, logger))
			research.GET("/health", HealthCheck)
		}
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "research",
	})
}

// metricsHandler serves Prometheus metrics. Prefers the telemetry package's
// registered handler (present once telemetry.Init ran with the prometheus
// exporter); falls back to the default registry otherwise. Resolution is
// per-request because telemetry.Init may run after route setup.
func metricsHandler() gin.HandlerFunc {
	fallback := promhttp.Handler()
	return func(c *gin.Context) {
		h := telemetry.MetricsHandler()
		if h == nil {
			h = fallback
		}
		h.ServeHTTP(c.Writer, c.Request)
	}
}
