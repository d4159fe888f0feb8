// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

// viewLimit is how many recent tasks the View flow shows.
const viewLimit = 3

// The View flow is stateless: no session is ever created, every entry
// point answers in one message and leaves the contact idle.

// viewMenu asks which side of the tasks to show. The reply options are
// themselves idle-state triggers, so the follow-up tap dispatches without
// any session.
func (e *Engine) viewMenu(ctx context.Context, fc *flowContext) error {
	return e.reply(ctx, fc, datatypes.NewQuickReply(
		"Which tasks would you like to see?",
		"Raised Tasks", "Received Tasks"))
}

func (e *Engine) viewRaised(ctx context.Context, fc *flowContext) error {
	return e.viewTasks(ctx, fc, tenant.TasksRaised, "tasks you raised")
}

func (e *Engine) viewReceived(ctx context.Context, fc *flowContext) error {
	return e.viewTasks(ctx, fc, tenant.TasksReceived, "tasks assigned to you")
}

func (e *Engine) viewTasks(ctx context.Context, fc *flowContext, kind tenant.TaskKind, label string) error {
	tasks, err := fc.handle.RecentTasks(ctx, kind, fc.principal.UserID, viewLimit, false)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return e.sendMenu(ctx, fc, "No "+label+" found.")
	}
	return e.sendMenu(ctx, fc, renderTaskList(label, tasks))
}

// renderTaskList formats summaries as numbered lines, folded into the
// menu body so the event still produces a single outbound message.
func renderTaskList(label string, tasks []datatypes.TaskSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your latest %s:", label)
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. %s | %s | due %s | %s",
			i+1, t.Number, t.Title, t.DueDate, t.Status)
	}
	return b.String()
}
