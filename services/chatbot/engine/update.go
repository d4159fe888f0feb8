// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

// updateLimit is how many candidate tasks the Update flow offers.
const updateLimit = 5

func (e *Engine) startUpdate(ctx context.Context, fc *flowContext) error {
	// Closed tasks are not updatable from chat; filter them out of the
	// selection list.
	tasks, err := fc.handle.RecentTasks(ctx, tenant.TasksReceived, fc.principal.UserID, updateLimit, true)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		// Nothing to update: answer and stay idle, no session.
		return e.sendMenu(ctx, fc, "You have no open tasks to update.")
	}

	fc.sess = &datatypes.Session{
		Step:  datatypes.StepAwaitTaskSelection,
		Tasks: tasks,
	}
	if err := e.save(ctx, fc); err != nil {
		return err
	}

	var opts []datatypes.ListOption
	for _, t := range tasks {
		ref := "task_" + strconv.FormatInt(t.ID, 10)
		opts = append(opts, datatypes.ListOption{
			Type:         "text",
			Title:        t.Number + " - " + t.Title,
			ID:           ref,
			PostbackText: ref,
			Description:  fmt.Sprintf("due %s, %s", t.DueDate, t.Status),
		})
	}
	return e.reply(ctx, fc, datatypes.NewList(
		"Update Task",
		"Which task do you want to update?",
		"Select task", "Your tasks", opts))
}

func (e *Engine) stepTaskSelection(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}

	taskID, ok := matchTask(fc.in, fc.sess.Tasks)
	if !ok {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "Please pick one of the listed tasks.",
		})
	}

	fc.sess.SelectedTaskID = taskID
	fc.sess.Step = datatypes.StepAwaitStatusSelection
	if err := e.save(ctx, fc); err != nil {
		return err
	}
	return e.reply(ctx, fc, datatypes.NewQuickReply(
		"What should the new status be?",
		"Open", "Re-Opened", "On-Hold", "Closed"))
}

func (e *Engine) stepStatusSelection(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}

	input := fc.in.Reference
	if input == "" {
		input = fc.in.Text
	}
	status, ok := datatypes.ParseStatus(input)
	if !ok {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "Please choose one of: Open, Re-Opened, On-Hold, Closed.",
		})
	}

	taskID := fc.sess.SelectedTaskID
	if err := fc.handle.UpdateTaskStatus(ctx, taskID, status); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return e.abort(ctx, fc, "That task no longer exists.")
		}
		e.logger.Error("status update failed", "contact", fc.contact, "task", taskID, "error", err)
		return e.abort(ctx, fc, "The update failed. Please try again.")
	}

	number := strconv.FormatInt(taskID, 10)
	for _, t := range fc.sess.Tasks {
		if t.ID == taskID {
			number = t.Number
			break
		}
	}
	return e.finish(ctx, fc, datatypes.FlowUpdate,
		fmt.Sprintf("Task %s is now %s.", number, status))
}

// matchTask resolves a selection against the tasks the contact was shown.
// Stale selections (an id the contact never saw) never match, even if the
// id exists in the store.
func matchTask(in datatypes.InboundInput, tasks []datatypes.TaskSummary) (int64, bool) {
	ref := in.Reference
	if ref == "" {
		ref = "task_" + strings.TrimSpace(in.Text)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(ref, "task_"), 10, 64)
	if err != nil {
		return 0, false
	}
	for _, t := range tasks {
		if t.ID == id {
			return id, true
		}
	}
	return 0, false
}
