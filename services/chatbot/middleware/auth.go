// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the chatbot service.
//
// Two middlewares cooperate on the admin API surface:
//
//	Request
//	   │
//	   ▼
//	PrincipalMiddleware
//	   │
//	   ├─► Resolve X-User-ID against the directory store
//	   │
//	   └─► Store Principal in context
//	           │
//	           ▼
//	TenantMiddleware
//	   │
//	   ├─► Resolver.Resolve(principal, X-Tenant-Code)
//	   │
//	   └─► Store tenant Handle in context, Close it after the handler
//
// Token issuance and verification is an external collaborator; this
// service trusts the user id header placed by the fronting gateway.
package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

// ===== Context Keys =====

const (
	principalKey    = "workcheck_principal"
	tenantHandleKey = "workcheck_tenant_handle"
)

// ===== Context Helpers =====

// SetPrincipal stores the authenticated principal in the Gin context.
func SetPrincipal(c *gin.Context, p *datatypes.Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal retrieves the authenticated principal, or nil when the
// request did not pass PrincipalMiddleware.
func GetPrincipal(c *gin.Context) *datatypes.Principal {
	if v, exists := c.Get(principalKey); exists {
		if p, ok := v.(*datatypes.Principal); ok {
			return p
		}
	}
	return nil
}

// SetTenantHandle stores the resolved tenant handle in the Gin context.
func SetTenantHandle(c *gin.Context, h *tenant.Handle) {
	c.Set(tenantHandleKey, h)
}

// GetTenantHandle retrieves the resolved tenant handle, or nil when the
// request did not pass TenantMiddleware.
func GetTenantHandle(c *gin.Context) *tenant.Handle {
	if v, exists := c.Get(tenantHandleKey); exists {
		if h, ok := v.(*tenant.Handle); ok {
			return h
		}
	}
	return nil
}

// ===== Principal Middleware =====

// PrincipalMiddleware resolves the X-User-ID header to a Principal.
//
// Unknown or malformed ids abort with 401. The principal's activation
// state is NOT checked here: that is the resolver's job, so the check
// order matches the conversational path.
func PrincipalMiddleware(dir *tenant.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		p, err := dir.UserByID(c.Request.Context(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// ===== Tenant Middleware =====

// TenantMiddleware runs tenant resolution for the request and stores the
// resulting handle. The handle is closed when the handler chain returns,
// so handlers must not retain it past the request.
//
// Administrators target a tenant with the X-Tenant-Code header; for
// everyone else the header is ignored and their own tenant is resolved.
func TenantMiddleware(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		h, err := resolver.Resolve(c.Request.Context(), p, c.GetHeader("X-Tenant-Code"))
		if err != nil {
			c.AbortWithStatusJSON(resolutionStatus(err), gin.H{"error": err.Error()})
			return
		}
		defer h.Close()

		SetTenantHandle(c, h)
		c.Next()
	}
}

// resolutionStatus maps resolver failures onto HTTP statuses.
func resolutionStatus(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrMissingTenantReference):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, datatypes.ErrPrincipalInactive),
		errors.Is(err, datatypes.ErrTenantInactive):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
