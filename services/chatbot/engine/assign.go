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
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/workcheck/pkg/phone"
	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
)

// maxAttachments caps how many attachments a single draft collects.
const maxAttachments = 10

// maxAttachmentBytes bounds a single media download.
const maxAttachmentBytes = 16 << 20

var dueDatePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// ===== Flow start =====

func (e *Engine) startAssign(ctx context.Context, fc *flowContext) error {
	fc.sess = &datatypes.Session{Step: datatypes.StepAwaitAssignee}
	if err := e.save(ctx, fc); err != nil {
		return err
	}
	return e.reply(ctx, fc, datatypes.TextMessage{
		Text: "Who should this task go to? Enter their phone number.",
	})
}

// abort drops the session and reports why via the menu. Used when a flow
// cannot continue for reasons that are not the contact's input.
func (e *Engine) abort(ctx context.Context, fc *flowContext, notice string) error {
	if err := e.sessions.Destroy(ctx, fc.contact); err != nil {
		return err
	}
	return e.sendMenu(ctx, fc, notice)
}

// ===== Step handlers =====

func (e *Engine) stepAssignee(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}

	number, ok := phone.SanitizeInput(fc.in.Text, e.countryCode)
	if !ok {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "That doesn't look like a phone number. Enter digits only, e.g. 9123456789.",
		})
	}

	assignee, err := e.directory.UserByPhone(ctx, number)
	if err != nil {
		return err
	}
	if assignee == nil || assignee.TenantID != fc.principal.TenantID {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "No user with that number in your organization. Try another number.",
		})
	}

	departments, err := fc.handle.ListDepartments(ctx)
	if err != nil {
		return err
	}
	if len(departments) == 0 {
		return e.abort(ctx, fc, "No departments are configured for your organization yet.")
	}

	fc.sess.Draft.AssigneeID = assignee.UserID
	fc.sess.Draft.Departments = nil
	var opts []datatypes.ListOption
	for _, d := range departments {
		ref := "dept_" + strconv.FormatInt(d.ID, 10)
		fc.sess.Draft.Departments = append(fc.sess.Draft.Departments,
			datatypes.Option{ID: ref, Title: d.Name})
		opts = append(opts, datatypes.ListOption{
			Type: "text", Title: d.Name, ID: ref, PostbackText: ref,
		})
	}
	fc.sess.Step = datatypes.StepAwaitDepartment
	if err := e.save(ctx, fc); err != nil {
		return err
	}

	return e.reply(ctx, fc, datatypes.NewList(
		"Departments",
		"Which department does this task belong to?",
		"Select department", "Departments", opts))
}

func (e *Engine) stepDepartment(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}

	deptID, ok := matchOption(fc.in, fc.sess.Draft.Departments, "dept_")
	if !ok {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "Please pick one of the listed departments.",
		})
	}

	categories, err := fc.handle.ListCategories(ctx, deptID)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		return e.abort(ctx, fc, "That department has no categories configured yet.")
	}

	fc.sess.Draft.DepartmentID = deptID
	fc.sess.Draft.Categories = nil
	var opts []datatypes.ListOption
	for _, c := range categories {
		ref := "cat_" + strconv.FormatInt(c.ID, 10)
		fc.sess.Draft.Categories = append(fc.sess.Draft.Categories,
			datatypes.Option{ID: ref, Title: c.Name})
		opts = append(opts, datatypes.ListOption{
			Type: "text", Title: c.Name, ID: ref, PostbackText: ref,
		})
	}
	fc.sess.Step = datatypes.StepAwaitCategory
	if err := e.save(ctx, fc); err != nil {
		return err
	}

	return e.reply(ctx, fc, datatypes.NewList(
		"Categories",
		"Which category fits best?",
		"Select category", "Categories", opts))
}

func (e *Engine) stepCategory(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}

	catID, ok := matchOption(fc.in, fc.sess.Draft.Categories, "cat_")
	if !ok {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "Please pick one of the listed categories.",
		})
	}

	fc.sess.Draft.CategoryID = catID
	fc.sess.Step = datatypes.StepAwaitTitle
	if err := e.save(ctx, fc); err != nil {
		return err
	}
	return e.reply(ctx, fc, datatypes.TextMessage{
		Text: "Enter a short title for the task.",
	})
}

func (e *Engine) stepTitle(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}
	if fc.in.Text == "" {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "The title can't be empty. Enter a short title for the task.",
		})
	}

	fc.sess.Draft.Title = fc.in.Text
	fc.sess.Step = datatypes.StepAwaitBody
	if err := e.save(ctx, fc); err != nil {
		return err
	}
	return e.reply(ctx, fc, datatypes.TextMessage{
		Text: "Describe the task in a few lines.",
	})
}

func (e *Engine) stepBody(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}
	if fc.in.Text == "" {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "The description can't be empty. Describe the task in a few lines.",
		})
	}

	fc.sess.Draft.Body = fc.in.Text
	fc.sess.Step = datatypes.StepAwaitAttachments
	if err := e.save(ctx, fc); err != nil {
		return err
	}
	return e.reply(ctx, fc, datatypes.TextMessage{
		Text: "Send any attachments one by one (photos or documents). Reply 'done' when finished.",
	})
}

// stepAttachments is the repeatable step: every media input appends to the
// draft and stays on this step; only "done" advances.
func (e *Engine) stepAttachments(ctx context.Context, fc *flowContext) error {
	switch {
	case fc.in.Kind == datatypes.KindMedia:
		if len(fc.sess.Draft.Attachments) >= maxAttachments {
			return e.reply(ctx, fc, datatypes.TextMessage{
				Text: fmt.Sprintf("Attachment limit of %d reached. Reply 'done' to continue.", maxAttachments),
			})
		}
		att, err := e.saveAttachment(ctx, fc.in.MediaURL, fc.in.MediaType)
		if err != nil {
			e.logger.Warn("attachment download failed",
				"contact", fc.contact, "url", fc.in.MediaURL, "error", err)
			return e.reply(ctx, fc, datatypes.TextMessage{
				Text: "I couldn't fetch that attachment. Send it again, or reply 'done'.",
			})
		}
		fc.sess.Draft.Attachments = append(fc.sess.Draft.Attachments, att)
		if err := e.save(ctx, fc); err != nil {
			return err
		}
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: fmt.Sprintf("Attachment %d saved. Send another, or reply 'done'.", len(fc.sess.Draft.Attachments)),
		})

	case strings.EqualFold(fc.in.Text, "done"):
		fc.sess.Step = datatypes.StepAwaitDueDate
		if err := e.save(ctx, fc); err != nil {
			return err
		}
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "When is this due? Enter the date as DD/MM/YYYY.",
		})

	default:
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "Send an attachment, or reply 'done' to continue.",
		})
	}
}

func (e *Engine) stepDueDate(ctx context.Context, fc *flowContext) error {
	if fc.in.Kind == datatypes.KindMedia {
		return e.notUnderstood(ctx, fc)
	}

	due, err := parseDueDate(fc.in.Text)
	if err != nil {
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "That date didn't work. Enter a date as DD/MM/YYYY, today or later.",
		})
	}

	req := datatypes.TaskCreate{
		Title:        fc.sess.Draft.Title,
		Body:         fc.sess.Draft.Body,
		AssigneeID:   fc.sess.Draft.AssigneeID,
		DepartmentID: fc.sess.Draft.DepartmentID,
		CategoryID:   fc.sess.Draft.CategoryID,
		CreatedBy:    fc.principal.UserID,
		DueDate:      due,
		Attachments:  fc.sess.Draft.Attachments,
	}
	if err := e.validate.Struct(req); err != nil {
		// The step machine should make this unreachable; treat an
		// incomplete draft as corrupt state rather than persisting it.
		e.logger.Error("incomplete draft at terminal step", "contact", fc.contact, "error", err)
		return e.abort(ctx, fc, "Something went wrong with your task. Please start again.")
	}

	rec, err := fc.handle.CreateTask(ctx, req)
	if err != nil {
		e.logger.Error("task creation failed", "contact", fc.contact, "error", err)
		return e.abort(ctx, fc, "Task creation failed. Please try again.")
	}

	// Destroy before anything else so a replayed date submission finds no
	// session and cannot create a second task.
	notice := fmt.Sprintf("Task %s created and assigned.", rec.Number)
	if err := e.finish(ctx, fc, datatypes.FlowAssign, notice); err != nil {
		return err
	}
	e.notifyAssignee(ctx, fc, rec)
	return nil
}

// notifyAssignee tells the assignee a task landed on them, via a
// pre-approved template since they may be outside the session window.
// Failures are logged only; the creator's flow already completed.
func (e *Engine) notifyAssignee(ctx context.Context, fc *flowContext, rec *datatypes.TaskRecord) {
	if e.templateID == "" {
		return
	}
	assignee, err := e.directory.UserByID(ctx, rec.AssigneeID)
	if err != nil || assignee == nil || assignee.Phone == "" {
		e.logger.Warn("assignee has no reachable contact", "assignee", rec.AssigneeID, "error", err)
		return
	}
	dest := phone.Dialable(assignee.Phone, e.countryCode)
	if err := e.gw.SendTemplate(ctx, dest, e.templateID, []string{rec.Number, rec.Title}); err != nil {
		e.logger.Error("assignee notification failed", "assignee", rec.AssigneeID, "error", err)
	}
}

// ===== Input helpers =====

// matchOption resolves a choice input against the options the contact was
// shown. A list tap carries the full reference; typed input may be the
// bare numeric id.
func matchOption(in datatypes.InboundInput, opts []datatypes.Option, prefix string) (int64, bool) {
	ref := in.Reference
	if ref == "" {
		ref = prefix + strings.TrimSpace(in.Text)
	}
	for _, o := range opts {
		if o.ID == ref {
			id, err := strconv.ParseInt(strings.TrimPrefix(ref, prefix), 10, 64)
			if err != nil {
				return 0, false
			}
			return id, true
		}
	}
	return 0, false
}

// parseDueDate enforces strict DD/MM/YYYY and rejects dates before today
// (time of day ignored).
func parseDueDate(input string) (time.Time, error) {
	s := strings.TrimSpace(input)
	if !dueDatePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("due date %q: %w", s, datatypes.ErrValidation)
	}
	due, err := time.Parse("02/01/2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("due date %q: %w", s, datatypes.ErrValidation)
	}
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if due.Before(today) {
		return time.Time{}, fmt.Errorf("due date %q is in the past: %w", s, datatypes.ErrValidation)
	}
	return due, nil
}

// ===== Attachment capture =====

// extByType maps common media content types to file extensions; anything
// unknown falls back to the URL path's extension.
var extByType = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
}

// saveAttachment downloads one media payload and persists it under the
// upload directory with a generated name.
func (e *Engine) saveAttachment(ctx context.Context, mediaURL, mediaType string) (datatypes.Attachment, error) {
	if mediaURL == "" {
		return datatypes.Attachment{}, fmt.Errorf("media payload without url: %w", datatypes.ErrValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return datatypes.Attachment{}, fmt.Errorf("attachment request: %w", err)
	}
	resp, err := e.downloader.Do(req)
	if err != nil {
		return datatypes.Attachment{}, fmt.Errorf("attachment download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return datatypes.Attachment{}, fmt.Errorf("attachment download: status %d", resp.StatusCode)
	}

	name := uuid.NewString() + attachmentExt(mediaURL, mediaType)
	if err := os.MkdirAll(e.uploadDir, 0750); err != nil {
		return datatypes.Attachment{}, fmt.Errorf("upload dir: %w", err)
	}

	dst := filepath.Join(e.uploadDir, name)
	f, err := os.Create(dst)
	if err != nil {
		return datatypes.Attachment{}, fmt.Errorf("create %s: %w", dst, err)
	}
	_, err = io.Copy(f, io.LimitReader(resp.Body, maxAttachmentBytes))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return datatypes.Attachment{}, fmt.Errorf("write %s: %w", dst, err)
	}

	return datatypes.Attachment{Link: "/uploads/" + name}, nil
}

func attachmentExt(mediaURL, mediaType string) string {
	if t, _, err := mime.ParseMediaType(mediaType); err == nil {
		if ext, ok := extByType[t]; ok {
			return ext
		}
	}
	if u, err := url.Parse(mediaURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".bin"
}
