// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tenant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// codePattern restricts tenant codes to filesystem-safe slugs, since the
// code names the tenant's database file.
var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// Provision allocates a new isolated store for a tenant: create the
// database file, apply the baseline schema, then register the tenant in
// the directory. This is a slow, non-idempotent administrative operation
// and must never run on the conversational hot path.
//
// Registration happens last so a crash mid-provision leaves an orphan
// file, never a registered tenant without a store.
func (r *Resolver) Provision(ctx context.Context, code, name string) (*Tenant, error) {
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("invalid tenant code %q", code)
	}

	existing, err := r.dir.TenantByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("tenant %s already exists", code)
	}

	path := r.tenantPath(code)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("provision %s: mkdir: %w", code, err)
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("provision %s: %w", code, err)
	}
	if err := migrateTenant(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("provision %s: %w", code, err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("provision %s: close: %w", code, err)
	}

	t, err := r.dir.CreateTenant(ctx, code, name)
	if err != nil {
		return nil, err
	}
	r.logger.Info("provisioned tenant", "tenant", code)
	return t, nil
}
