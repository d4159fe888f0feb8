// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/workcheck/services/chatbot/middleware"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

const maxTaskPageSize = 50

// ListTasks returns the caller's recent tasks in their resolved tenant.
//
// Query parameters: kind=raised|received (default raised), limit
// (default 10, capped), open=true to exclude closed tasks. Runs behind
// the principal and tenant middlewares, so it exercises the same
// resolution path as the conversational engine.
func ListTasks() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		h := middleware.GetTenantHandle(c)
		if p == nil || h == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		kind := tenant.TasksRaised
		if c.Query("kind") == string(tenant.TasksReceived) {
			kind = tenant.TasksReceived
		}

		limit := 10
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = min(n, maxTaskPageSize)
		}
		excludeClosed := c.Query("open") == "true"

		tasks, err := h.RecentTasks(c.Request.Context(), kind, p.UserID, limit, excludeClosed)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant": h.Code,
			"kind":   kind,
			"tasks":  tasks,
		})
	}
}
