// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/observability"
)

// DefaultIdleEviction is how long an unused tenant connection stays cached.
const DefaultIdleEviction = 15 * time.Minute

// Handle is an opaque capability scoped to exactly one tenant's isolated
// store. Handles are refcounted: the underlying connection cannot be
// evicted while any handle is open. Callers must Close the handle when
// the request or event that acquired it finishes.
type Handle struct {
	Code string

	conn     *tenantConn
	released bool
	mu       sync.Mutex
}

// Close releases the handle's reference on the cached connection.
// Safe to call more than once.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.conn.release()
}

// tenantConn is a cached connection to one tenant store.
type tenantConn struct {
	db       *sql.DB
	code     string
	gen      uint64
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
	closed   bool
}

func (c *tenantConn) acquire() {
	c.mu.Lock()
	c.refs++
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *tenantConn) release() {
	c.mu.Lock()
	c.refs--
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// idle reports whether the connection can be evicted: no open handles and
// untouched for at least idleAfter.
func (c *tenantConn) idle(idleAfter time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs == 0 && time.Since(c.lastUsed) >= idleAfter
}

// ResolverConfig configures the tenant resolver.
type ResolverConfig struct {
	// DataDir is the root under which tenant database files live
	// (DataDir/tenants/<code>.db).
	DataDir string

	// IdleEviction is the inactivity window after which an unused cached
	// connection is closed. Defaults to DefaultIdleEviction.
	IdleEviction time.Duration

	// SweepInterval is how often the eviction janitor runs. 0 disables
	// background eviction (tests evict explicitly).
	SweepInterval time.Duration

	Logger *slog.Logger
}

// Resolver maps a principal (plus, for administrators, an explicit tenant
// reference) to a live Handle on that tenant's isolated store.
//
// Exactly one resolution happens per inbound request or event; all
// resolution failures are terminal for that request and must not be
// retried silently.
type Resolver struct {
	dir    *Directory
	cfg    ResolverConfig
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*tenantConn
	gen   uint64

	stop chan struct{}
	done chan struct{}
}

// NewResolver creates a resolver over the given directory store.
func NewResolver(dir *Directory, cfg ResolverConfig) *Resolver {
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = DefaultIdleEviction
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Resolver{
		dir:    dir,
		cfg:    cfg,
		logger: cfg.Logger,
		conns:  make(map[string]*tenantConn),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go r.sweepLoop()
	} else {
		close(r.done)
	}
	return r
}

// Resolve returns a handle on the tenant store the principal may act on.
//
// Preconditions, checked in order:
//  1. the principal must be active (ErrPrincipalInactive);
//  2. unless administrative, the principal's own tenant must be active
//     (ErrTenantInactive);
//  3. the resolved tenant code must be registered (ErrTenantNotFound).
//
// Non-administrative principals always resolve to their own tenant and
// requestedCode is ignored. Administrative principals must pass an
// explicit requestedCode (ErrMissingTenantReference) and may act
// regardless of the target tenant's activation state.
func (r *Resolver) Resolve(ctx context.Context, p *datatypes.Principal, requestedCode string) (*Handle, error) {
	if !p.Active {
		return nil, fmt.Errorf("user %d: %w", p.UserID, datatypes.ErrPrincipalInactive)
	}

	code := p.TenantCode
	if p.IsAdmin() {
		if requestedCode == "" {
			return nil, datatypes.ErrMissingTenantReference
		}
		code = requestedCode
	} else if !p.TenantActive {
		return nil, fmt.Errorf("tenant %s: %w", p.TenantCode, datatypes.ErrTenantInactive)
	}

	t, err := r.dir.TenantByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("tenant %s: %w", code, datatypes.ErrTenantNotFound)
	}

	return r.acquire(code)
}

// acquire returns a handle over the cached connection for code, opening
// the tenant store on a cache miss.
func (r *Resolver) acquire(code string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[code]
	if !ok {
		path := r.tenantPath(code)
		if _, err := os.Stat(path); err != nil {
			// Registered but never provisioned, or the file is gone.
			return nil, fmt.Errorf("tenant store %s missing: %w", code, datatypes.ErrTenantNotFound)
		}
		db, err := openSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", code, err)
		}
		r.gen++
		c = &tenantConn{db: db, code: code, gen: r.gen, lastUsed: time.Now()}
		r.conns[code] = c
		observability.TenantConnectionsOpened.Inc()
		r.logger.Info("opened tenant connection", "tenant", code, "generation", c.gen)
	}

	c.acquire()
	return &Handle{Code: code, conn: c}, nil
}

// tenantPath returns the database file for a tenant code.
func (r *Resolver) tenantPath(code string) string {
	return filepath.Join(r.cfg.DataDir, "tenants", code+".db")
}

// EvictIdle closes and drops cached connections with no open handles that
// have been unused for the configured window. Connections with in-flight
// handles are left untouched; their generation tag means a later reopen
// never aliases an evicted connection.
func (r *Resolver) EvictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, c := range r.conns {
		if !c.idle(r.cfg.IdleEviction) {
			continue
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if err := c.db.Close(); err != nil {
			r.logger.Warn("closing idle tenant connection", "tenant", code, "error", err)
		}
		delete(r.conns, code)
		r.logger.Info("evicted idle tenant connection", "tenant", code, "generation", c.gen)
	}
}

func (r *Resolver) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.EvictIdle()
		}
	}
}

// Close stops the janitor and closes every cached connection.
func (r *Resolver) Close() error {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for code, c := range r.conns {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close tenant %s: %w", code, err)
		}
		delete(r.conns, code)
	}
	return firstErr
}

// cachedConnCount is exposed for tests.
func (r *Resolver) cachedConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
