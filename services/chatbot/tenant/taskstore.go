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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
)

// TaskKind selects which side of a task the querying user is on.
type TaskKind string

const (
	// TasksRaised are tasks the user created.
	TasksRaised TaskKind = "raised"
	// TasksReceived are tasks assigned to the user.
	TasksReceived TaskKind = "received"
)

// migrateTenant applies the baseline schema for a tenant store.
func migrateTenant(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("tenant schema: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS departments (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			department_id INTEGER NOT NULL REFERENCES departments(id),
			name          TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			number        TEXT NOT NULL UNIQUE,
			title         TEXT NOT NULL,
			body          TEXT NOT NULL DEFAULT '',
			assignee_id   INTEGER NOT NULL,
			department_id INTEGER NOT NULL REFERENCES departments(id),
			category_id   INTEGER NOT NULL REFERENCES categories(id),
			created_by    INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'OPEN',
			due_date      TEXT NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_attachments (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES tasks(id),
			link    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_creator  ON tasks(created_by, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("tenant schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tenant schema: commit: %w", err)
	}
	return nil
}

// ListDepartments returns all departments in presentation order.
func (h *Handle) ListDepartments(ctx context.Context) ([]datatypes.Department, error) {
	rows, err := h.conn.db.QueryContext(ctx, `SELECT id, name FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: list departments: %w", h.Code, err)
	}
	defer rows.Close()

	var out []datatypes.Department
	for rows.Next() {
		var d datatypes.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("tenant %s: scan department: %w", h.Code, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListCategories returns the categories of one department.
func (h *Handle) ListCategories(ctx context.Context, departmentID int64) ([]datatypes.Category, error) {
	rows, err := h.conn.db.QueryContext(ctx, `
		SELECT id, department_id, name FROM categories
		WHERE department_id = ? ORDER BY name
	`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: list categories: %w", h.Code, err)
	}
	defer rows.Close()

	var out []datatypes.Category
	for rows.Next() {
		var c datatypes.Category
		if err := rows.Scan(&c.ID, &c.DepartmentID, &c.Name); err != nil {
			return nil, fmt.Errorf("tenant %s: scan category: %w", h.Code, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentTasks returns the user's most recent tasks of the given kind,
// newest first. With excludeClosed, terminal tasks are filtered out
// (used by the Update flow's selection list).
func (h *Handle) RecentTasks(ctx context.Context, kind TaskKind, userID int64, limit int, excludeClosed bool) ([]datatypes.TaskSummary, error) {
	col := "created_by"
	if kind == TasksReceived {
		col = "assignee_id"
	}
	q := `SELECT id, number, title, status, due_date FROM tasks WHERE ` + col + ` = ?`
	args := []any{userID}
	if excludeClosed {
		q += ` AND status != ?`
		args = append(args, string(datatypes.StatusClosed))
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.conn.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: recent tasks: %w", h.Code, err)
	}
	defer rows.Close()

	var out []datatypes.TaskSummary
	for rows.Next() {
		var t datatypes.TaskSummary
		var status string
		if err := rows.Scan(&t.ID, &t.Number, &t.Title, &status, &t.DueDate); err != nil {
			return nil, fmt.Errorf("tenant %s: scan task: %w", h.Code, err)
		}
		t.Status = datatypes.Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTask persists a completed draft and its attachments in one
// transaction, generating a human-readable task number.
func (h *Handle) CreateTask(ctx context.Context, req datatypes.TaskCreate) (*datatypes.TaskRecord, error) {
	number := "WC-" + strings.ToUpper(uuid.NewString()[:8])
	now := time.Now()

	tx, err := h.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: begin create task: %w", h.Code, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (number, title, body, assignee_id, department_id,
			category_id, created_by, status, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, number, req.Title, req.Body, req.AssigneeID, req.DepartmentID,
		req.CategoryID, req.CreatedBy, string(datatypes.StatusOpen),
		req.DueDate.Format("2006-01-02"), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("tenant %s: insert task: %w", h.Code, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tenant %s: task id: %w", h.Code, err)
	}

	for _, a := range req.Attachments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_attachments (task_id, link) VALUES (?, ?)
		`, id, a.Link); err != nil {
			return nil, fmt.Errorf("tenant %s: insert attachment: %w", h.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tenant %s: commit create task: %w", h.Code, err)
	}

	return &datatypes.TaskRecord{
		ID:           id,
		Number:       number,
		Title:        req.Title,
		Body:         req.Body,
		AssigneeID:   req.AssigneeID,
		DepartmentID: req.DepartmentID,
		CategoryID:   req.CategoryID,
		CreatedBy:    req.CreatedBy,
		Status:       datatypes.StatusOpen,
		DueDate:      req.DueDate,
		CreatedAt:    now,
	}, nil
}

// UpdateTaskStatus sets a task's status. Returns ErrNotFound when the
// task id does not exist in this tenant.
func (h *Handle) UpdateTaskStatus(ctx context.Context, taskID int64, status datatypes.Status) error {
	res, err := h.conn.db.ExecContext(ctx, `
		UPDATE tasks SET status = ? WHERE id = ?
	`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("tenant %s: update task %d: %w", h.Code, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tenant %s: task %d: %w", h.Code, taskID, datatypes.ErrNotFound)
	}
	return nil
}

// TaskAttachments lists the stored attachment links of a task.
func (h *Handle) TaskAttachments(ctx context.Context, taskID int64) ([]datatypes.Attachment, error) {
	rows, err := h.conn.db.QueryContext(ctx, `
		SELECT link FROM task_attachments WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: attachments: %w", h.Code, err)
	}
	defer rows.Close()

	var out []datatypes.Attachment
	for rows.Next() {
		var a datatypes.Attachment
		if err := rows.Scan(&a.Link); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateDepartment and CreateCategory seed tenant reference data. They
// are used by provisioning and by tests; the conversational flows only
// ever read these tables.
func (h *Handle) CreateDepartment(ctx context.Context, name string) (int64, error) {
	res, err := h.conn.db.ExecContext(ctx, `INSERT INTO departments (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("tenant %s: insert department: %w", h.Code, err)
	}
	return res.LastInsertId()
}

func (h *Handle) CreateCategory(ctx context.Context, departmentID int64, name string) (int64, error) {
	res, err := h.conn.db.ExecContext(ctx, `
		INSERT INTO categories (department_id, name) VALUES (?, ?)
	`, departmentID, name)
	if err != nil {
		return 0, fmt.Errorf("tenant %s: insert category: %w", h.Code, err)
	}
	return res.LastInsertId()
}
