// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/workcheck/services/chatbot/engine"
	"github.com/AleutianAI/workcheck/services/chatbot/handlers"
	"github.com/AleutianAI/workcheck/services/chatbot/middleware"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

func SetupRoutes(router *gin.Engine, e *engine.Engine, resolver *tenant.Resolver,
	dir *tenant.Directory, logger *slog.Logger) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		// The provider webhook is unauthenticated by design; the handler
		// acknowledges everything and the engine resolves the sender.
		v1.POST("/webhook/whatsapp", handlers.HandleWebhook(e, logger))

		authed := v1.Group("")
		authed.Use(middleware.PrincipalMiddleware(dir))
		{
			authed.POST("/tenants", handlers.CreateTenant(resolver))

			tasks := authed.Group("")
			tasks.Use(middleware.TenantMiddleware(resolver))
			{
				tasks.GET("/tasks", handlers.ListTasks())
			}
		}
	}
}
