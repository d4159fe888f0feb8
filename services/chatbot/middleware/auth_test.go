// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

type authFixture struct {
	dir      *tenant.Directory
	resolver *tenant.Resolver
	userID   int64
	adminID  int64
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	tmp := t.TempDir()

	dir, err := tenant.OpenDirectory(filepath.Join(tmp, "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	resolver := tenant.NewResolver(dir, tenant.ResolverConfig{DataDir: tmp})
	t.Cleanup(func() { _ = resolver.Close() })

	_, err = resolver.Provision(ctx, "acme", "Acme Corp")
	require.NoError(t, err)
	tn, err := dir.TenantByCode(ctx, "acme")
	require.NoError(t, err)

	f := &authFixture{dir: dir, resolver: resolver}
	f.userID, err = dir.CreateUser(ctx, "Ravi", "9811111111", "USER", tn.ID)
	require.NoError(t, err)
	f.adminID, err = dir.CreateUser(ctx, "Root", "9800000000", datatypes.RoleAdmin, tn.ID)
	require.NoError(t, err)
	return f
}

// probe registers both middlewares ahead of a handler that records what
// it saw in the context.
func (f *authFixture) probe(t *testing.T) (*gin.Engine, **datatypes.Principal, **tenant.Handle) {
	t.Helper()
	var gotP *datatypes.Principal
	var gotH *tenant.Handle

	router := gin.New()
	router.GET("/probe",
		PrincipalMiddleware(f.dir),
		TenantMiddleware(f.resolver),
		func(c *gin.Context) {
			gotP = GetPrincipal(c)
			gotH = GetTenantHandle(c)
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
	return router, &gotP, &gotH
}

func doProbe(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPrincipalMiddleware_UnknownUser(t *testing.T) {
	f := newAuthFixture(t)
	router, _, _ := f.probe(t)

	assert.Equal(t, http.StatusUnauthorized,
		doProbe(router, map[string]string{"X-User-ID": "424242"}).Code)
	assert.Equal(t, http.StatusUnauthorized,
		doProbe(router, map[string]string{"X-User-ID": "not-a-number"}).Code)
	assert.Equal(t, http.StatusUnauthorized, doProbe(router, nil).Code)
}

func TestMiddlewareChain_ResolvesPrincipalAndHandle(t *testing.T) {
	f := newAuthFixture(t)
	router, gotP, gotH := f.probe(t)

	w := doProbe(router, map[string]string{"X-User-ID": strconv.FormatInt(f.userID, 10)})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, *gotP)
	assert.Equal(t, f.userID, (*gotP).UserID)
	require.NotNil(t, *gotH)
	assert.Equal(t, "acme", (*gotH).Code)
}

func TestTenantMiddleware_AdminNeedsExplicitCode(t *testing.T) {
	f := newAuthFixture(t)
	router, _, _ := f.probe(t)

	admin := strconv.FormatInt(f.adminID, 10)
	assert.Equal(t, http.StatusBadRequest,
		doProbe(router, map[string]string{"X-User-ID": admin}).Code)
	assert.Equal(t, http.StatusNotFound,
		doProbe(router, map[string]string{"X-User-ID": admin, "X-Tenant-Code": "ghost"}).Code)
	assert.Equal(t, http.StatusOK,
		doProbe(router, map[string]string{"X-User-ID": admin, "X-Tenant-Code": "acme"}).Code)
}

func TestTenantMiddleware_InactiveStates(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	router, _, _ := f.probe(t)
	user := strconv.FormatInt(f.userID, 10)

	require.NoError(t, f.dir.SetTenantActive(ctx, "acme", false))
	assert.Equal(t, http.StatusForbidden,
		doProbe(router, map[string]string{"X-User-ID": user}).Code)

	require.NoError(t, f.dir.SetTenantActive(ctx, "acme", true))
	require.NoError(t, f.dir.SetUserActive(ctx, f.userID, false))
	assert.Equal(t, http.StatusForbidden,
		doProbe(router, map[string]string{"X-User-ID": user}).Code)
}
