// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/workcheck/services/chatbot/middleware"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

// CreateTenantRequest is the provisioning request body.
type CreateTenantRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// CreateTenant provisions a new isolated tenant store and registers it.
//
// Administrative principals only. Provisioning is slow and
// non-idempotent, which is why it lives on this admin route and is never
// reachable from the webhook path.
func CreateTenant(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		if p == nil || !p.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "administrative role required"})
			return
		}

		var req CreateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		t, err := resolver.Provision(c.Request.Context(), req.Code, req.Name)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":     t.ID,
			"code":   t.Code,
			"name":   t.Name,
			"active": t.Active,
		})
	}
}
