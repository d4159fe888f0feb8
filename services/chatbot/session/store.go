// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session persists the per-contact conversation record.
//
// The store holds at most one Session per normalized contact number, under
// a TTL. Every write is a full rewrite with a refreshed TTL; expiry of the
// TTL is the conversation's cancellation timer. Absence of a record is the
// canonical idle state, so Get returns (nil, nil) for a missing or expired
// key rather than an error.
//
// BadgerDB provides the embedded key-value storage with native per-entry
// TTL, so no sweeper goroutine is needed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
)

// DefaultTTL bounds how long an idle conversation survives between events.
const DefaultTTL = 5 * time.Minute

// keyPrefix namespaces session records within the store.
const keyPrefix = "session:"

// Config holds configuration for the session store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// TTL applied to every session write. Defaults to DefaultTTL.
	TTL time.Duration

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC (in-memory mode always disables it).
	GCInterval time.Duration

	// Logger for store operations. Badger's own logging is disabled.
	Logger *slog.Logger
}

// Store is a TTL-bound session store backed by BadgerDB.
//
// Thread Safety: safe for concurrent use; Badger serializes conflicting
// writes internally.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open creates the session store. Caller must Close it when done.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent session store")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create session store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	s := &Store{
		db:     db,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval)
	} else {
		close(s.doneGC)
	}
	return s, nil
}

// OpenInMemory opens a store for testing. Data is lost when closed.
func OpenInMemory(ttl time.Duration) (*Store, error) {
	return Open(Config{InMemory: true, TTL: ttl})
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get loads the session for a contact. Returns (nil, nil) when no session
// exists or the previous one has expired.
func (s *Store) Get(ctx context.Context, contact string) (*datatypes.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sess *datatypes.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(contact))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded datatypes.Session
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			sess = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read session for %s: %w", contact, err)
	}
	return sess, nil
}

// Put writes the session for a contact, replacing any existing record and
// starting a fresh TTL.
func (s *Store) Put(ctx context.Context, contact string, sess *datatypes.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(contact), val).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write session for %s: %w", contact, err)
	}
	return nil
}

// Refresh rewrites the existing session with a fresh TTL. Returns false
// when no session exists.
func (s *Store) Refresh(ctx context.Context, contact string) (bool, error) {
	sess, err := s.Get(ctx, contact)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	if err := s.Put(ctx, contact, sess); err != nil {
		return false, err
	}
	return true, nil
}

// Destroy removes the session for a contact. Deleting an absent session
// is not an error: terminal transitions and fallback resets both call
// this unconditionally.
func (s *Store) Destroy(ctx context.Context, contact string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(contact))
	})
	if err != nil {
		return fmt.Errorf("delete session for %s: %w", contact, err)
	}
	return nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	select {
	case <-s.stopGC:
	default:
		close(s.stopGC)
	}
	<-s.doneGC
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("session store value log GC error", "error", err)
			}
		}
	}
}

func key(contact string) []byte {
	return []byte(keyPrefix + contact)
}
