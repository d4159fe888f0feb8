// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tenant routes authenticated operations to physically isolated
// per-tenant data stores.
//
// The directory database holds users and the tenant registry. Each tenant
// has its own SQLite database file; a TenantHandle is the only way to read
// or write a tenant's data, and a handle is never used across tenants.
// The Resolver owns the connection cache and the activation checks; the
// Provisioner side-channel allocates new tenant stores outside the
// conversational hot path.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
)

// Directory is the shared store of users and registered tenants.
//
// Thread-safe: database/sql pools connections internally, and SQLite runs
// in WAL mode with a busy timeout so concurrent readers do not block.
type Directory struct {
	db *sql.DB
}

// Tenant is a registry row for one isolated customer partition.
type Tenant struct {
	ID        int64
	Code      string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// OpenDirectory opens (or creates) the directory database at dbPath and
// runs its migrations.
func OpenDirectory(dbPath string) (*Directory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("directory: mkdir: %w", err)
	}

	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}

	d := &Directory{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// openSQLite opens a SQLite database with WAL mode and a busy timeout,
// the settings every store in this service uses.
func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

func (d *Directory) migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("directory: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			code       TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("directory: create tenants: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			whatsapp_no TEXT NOT NULL UNIQUE,
			role        TEXT NOT NULL DEFAULT 'USER',
			active      INTEGER NOT NULL DEFAULT 1,
			tenant_id   INTEGER NOT NULL REFERENCES tenants(id)
		)
	`); err != nil {
		return fmt.Errorf("directory: create users: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("directory: commit migrate: %w", err)
	}
	return nil
}

// Close closes the directory database.
func (d *Directory) Close() error {
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.db.Close()
}

const principalColumns = `
	u.id, u.name, u.whatsapp_no, u.role, u.active,
	t.id, t.code, t.active
`

func scanPrincipal(row *sql.Row) (*datatypes.Principal, error) {
	var p datatypes.Principal
	err := row.Scan(
		&p.UserID, &p.Name, &p.Phone, &p.Role, &p.Active,
		&p.TenantID, &p.TenantCode, &p.TenantActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: scan user: %w", err)
	}
	return &p, nil
}

// UserByPhone resolves a principal by normalized contact number.
// Returns (nil, nil) when the number is not registered.
func (d *Directory) UserByPhone(ctx context.Context, phone string) (*datatypes.Principal, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+`
		FROM users u JOIN tenants t ON t.id = u.tenant_id
		WHERE u.whatsapp_no = ?
	`, phone)
	return scanPrincipal(row)
}

// UserByID resolves a principal by user id. Returns (nil, nil) when the
// user does not exist.
func (d *Directory) UserByID(ctx context.Context, id int64) (*datatypes.Principal, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+principalColumns+`
		FROM users u JOIN tenants t ON t.id = u.tenant_id
		WHERE u.id = ?
	`, id)
	return scanPrincipal(row)
}

// TenantByCode looks up a registry row. Returns (nil, nil) when absent.
func (d *Directory) TenantByCode(ctx context.Context, code string) (*Tenant, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, code, name, active, created_at FROM tenants WHERE code = ?
	`, code)

	var t Tenant
	var createdAt int64
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: scan tenant: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	return &t, nil
}

// CreateTenant registers a tenant in the directory. The isolated store
// must already exist; see Resolver.Provision for the full side-channel.
func (d *Directory) CreateTenant(ctx context.Context, code, name string) (*Tenant, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO tenants (code, name, active, created_at) VALUES (?, ?, 1, ?)
	`, code, name, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("directory: insert tenant %s: %w", code, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("directory: tenant id: %w", err)
	}
	return &Tenant{ID: id, Code: code, Name: name, Active: true, CreatedAt: time.Now()}, nil
}

// SetTenantActive toggles a tenant's activation state.
func (d *Directory) SetTenantActive(ctx context.Context, code string, active bool) error {
	res, err := d.db.ExecContext(ctx, `UPDATE tenants SET active = ? WHERE code = ?`, active, code)
	if err != nil {
		return fmt.Errorf("directory: update tenant %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("directory: tenant %s: %w", code, datatypes.ErrTenantNotFound)
	}
	return nil
}

// CreateUser registers a user under a tenant.
func (d *Directory) CreateUser(ctx context.Context, name, phone, role string, tenantID int64) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO users (name, whatsapp_no, role, active, tenant_id) VALUES (?, ?, ?, 1, ?)
	`, name, phone, role, tenantID)
	if err != nil {
		return 0, fmt.Errorf("directory: insert user %s: %w", phone, err)
	}
	return res.LastInsertId()
}

// SetUserActive toggles a user's activation state.
func (d *Directory) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := d.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("directory: update user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("directory: user %d: %w", id, datatypes.ErrNotFound)
	}
	return nil
}
