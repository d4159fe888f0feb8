// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/session"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

const (
	creatorPhone  = "9811111111"
	assigneePhone = "9822222222"
)

// ===== Test doubles =====

type sentMessage struct {
	dest string
	msg  datatypes.Message
}

type sentTemplate struct {
	dest   string
	id     string
	params []string
}

type fakeSender struct {
	mu        sync.Mutex
	sends     []sentMessage
	templates []sentTemplate
}

func (f *fakeSender) Send(_ context.Context, dest string, msg datatypes.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMessage{dest: dest, msg: msg})
	return nil
}

func (f *fakeSender) SendTemplate(_ context.Context, dest, id string, params []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = append(f.templates, sentTemplate{dest: dest, id: id, params: params})
	return nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sends, "expected at least one outbound message")
	return f.sends[len(f.sends)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// ===== Fixture =====

type fixture struct {
	t        *testing.T
	engine   *Engine
	sender   *fakeSender
	sessions *session.Store
	resolver *tenant.Resolver
	dir      *tenant.Directory

	tenantID   int64
	creatorID  int64
	assigneeID int64
	deptID     int64
	catID      int64
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
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

	f := &fixture{t: t, dir: dir, resolver: resolver, tenantID: tn.ID}

	f.creatorID, err = dir.CreateUser(ctx, "Ravi", creatorPhone, "USER", tn.ID)
	require.NoError(t, err)
	f.assigneeID, err = dir.CreateUser(ctx, "Asha", assigneePhone, "USER", tn.ID)
	require.NoError(t, err)

	h := f.handle()
	f.deptID, err = h.CreateDepartment(ctx, "Operations")
	require.NoError(t, err)
	f.catID, err = h.CreateCategory(ctx, f.deptID, "Maintenance")
	require.NoError(t, err)
	h.Close()

	f.sessions, err = session.OpenInMemory(ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.sessions.Close() })

	f.sender = &fakeSender{}
	f.engine, err = New(Config{
		Sessions:         f.sessions,
		Resolver:         resolver,
		Directory:        dir,
		Gateway:          f.sender,
		UploadDir:        filepath.Join(tmp, "uploads"),
		AssignTemplateID: "task-assigned",
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return f
}

// handle resolves a fresh handle on the acme store for seeding/asserting.
func (f *fixture) handle() *tenant.Handle {
	f.t.Helper()
	h, err := f.resolver.Resolve(context.Background(), &datatypes.Principal{
		UserID: f.creatorID, Role: "USER", Active: true,
		TenantID: f.tenantID, TenantCode: "acme", TenantActive: true,
	}, "")
	require.NoError(f.t, err)
	return h
}

func (f *fixture) deliver(ev *datatypes.WebhookEvent) {
	f.t.Helper()
	require.NoError(f.t, f.engine.HandleEvent(context.Background(), ev))
}

func (f *fixture) step(phone string) datatypes.Step {
	f.t.Helper()
	sess, err := f.sessions.Get(context.Background(), phone)
	require.NoError(f.t, err)
	require.NotNil(f.t, sess, "expected an active session for %s", phone)
	return sess.Step
}

func (f *fixture) noSession(phone string) {
	f.t.Helper()
	sess, err := f.sessions.Get(context.Background(), phone)
	require.NoError(f.t, err)
	assert.Nil(f.t, sess, "expected no session for %s", phone)
}

// ===== Event builders =====

func textEvent(localPhone, text string) *datatypes.WebhookEvent {
	return &datatypes.WebhookEvent{
		Type: "message",
		Payload: datatypes.EventPayload{
			Type:    "text",
			Sender:  datatypes.Sender{Phone: "91" + localPhone},
			Payload: datatypes.InnerPayload{Text: text},
		},
	}
}

func listReplyEvent(localPhone, title, postback string) *datatypes.WebhookEvent {
	return &datatypes.WebhookEvent{
		Type: "message",
		Payload: datatypes.EventPayload{
			Type:    "list_reply",
			Sender:  datatypes.Sender{Phone: "91" + localPhone},
			Payload: datatypes.InnerPayload{Title: title, PostbackText: postback},
		},
	}
}

func mediaEvent(localPhone, url, contentType string) *datatypes.WebhookEvent {
	return &datatypes.WebhookEvent{
		Type: "message",
		Payload: datatypes.EventPayload{
			Type:    "image",
			Sender:  datatypes.Sender{Phone: "91" + localPhone},
			Payload: datatypes.InnerPayload{URL: url, ContentType: contentType},
		},
	}
}

// runAssignToDueDate walks the Assign flow up to the due-date prompt,
// skipping attachments.
func (f *fixture) runAssignToDueDate() {
	f.t.Helper()
	f.deliver(textEvent(creatorPhone, "Assign Task"))
	f.deliver(textEvent(creatorPhone, assigneePhone))
	f.deliver(listReplyEvent(creatorPhone, "Operations", "dept_"+strconv.FormatInt(f.deptID, 10)))
	f.deliver(listReplyEvent(creatorPhone, "Maintenance", "cat_"+strconv.FormatInt(f.catID, 10)))
	f.deliver(textEvent(creatorPhone, "Fix conveyor belt"))
	f.deliver(textEvent(creatorPhone, "Belt 3 is slipping near the loader"))
	f.deliver(textEvent(creatorPhone, "done"))
	require.Equal(f.t, datatypes.StepAwaitDueDate, f.step(creatorPhone))
}

// ===== Tests =====

func TestAssignFlow_EndToEnd(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)
	ctx := context.Background()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer media.Close()

	f.deliver(textEvent(creatorPhone, "Assign Task"))
	assert.Equal(t, datatypes.StepAwaitAssignee, f.step(creatorPhone))
	assert.IsType(t, datatypes.TextMessage{}, f.sender.last(t).msg)

	f.deliver(textEvent(creatorPhone, assigneePhone))
	assert.Equal(t, datatypes.StepAwaitDepartment, f.step(creatorPhone))
	assert.IsType(t, datatypes.ListMessage{}, f.sender.last(t).msg)

	f.deliver(listReplyEvent(creatorPhone, "Operations", "dept_"+strconv.FormatInt(f.deptID, 10)))
	assert.Equal(t, datatypes.StepAwaitCategory, f.step(creatorPhone))

	f.deliver(listReplyEvent(creatorPhone, "Maintenance", "cat_"+strconv.FormatInt(f.catID, 10)))
	assert.Equal(t, datatypes.StepAwaitTitle, f.step(creatorPhone))

	f.deliver(textEvent(creatorPhone, "Fix conveyor belt"))
	assert.Equal(t, datatypes.StepAwaitBody, f.step(creatorPhone))

	f.deliver(textEvent(creatorPhone, "Belt 3 is slipping near the loader"))
	assert.Equal(t, datatypes.StepAwaitAttachments, f.step(creatorPhone))

	// Attachments repeat without advancing.
	f.deliver(mediaEvent(creatorPhone, media.URL+"/photo.jpg", "image/jpeg"))
	assert.Equal(t, datatypes.StepAwaitAttachments, f.step(creatorPhone))
	f.deliver(textEvent(creatorPhone, "done"))
	assert.Equal(t, datatypes.StepAwaitDueDate, f.step(creatorPhone))

	f.deliver(textEvent(creatorPhone, "31/12/2099"))
	f.noSession(creatorPhone)

	// The confirmation rides on the reissued menu.
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "created")

	// The persisted task matches the accumulated draft.
	h := f.handle()
	defer h.Close()
	raised, err := h.RecentTasks(ctx, tenant.TasksRaised, f.creatorID, 1, false)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, "Fix conveyor belt", raised[0].Title)
	assert.Equal(t, datatypes.StatusOpen, raised[0].Status)
	assert.Equal(t, "2099-12-31", raised[0].DueDate)

	received, err := h.RecentTasks(ctx, tenant.TasksReceived, f.assigneeID, 1, false)
	require.NoError(t, err)
	require.Len(t, received, 1, "task is visible to the assignee")

	atts, err := h.TaskAttachments(ctx, raised[0].ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Contains(t, atts[0].Link, "/uploads/")

	// Assignee got the template notice at their dialable number.
	require.Len(t, f.sender.templates, 1)
	assert.Equal(t, "91"+assigneePhone, f.sender.templates[0].dest)
	assert.Equal(t, "task-assigned", f.sender.templates[0].id)
	assert.Equal(t, raised[0].Number, f.sender.templates[0].params[0])
}

func TestAssign_InvalidInputLeavesStepUnchanged(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(textEvent(creatorPhone, "Assign Task"))

	// Each invalid input: step unchanged, exactly one re-prompt sent.
	cases := []struct {
		name  string
		ev    *datatypes.WebhookEvent
		stay  datatypes.Step
		then  *datatypes.WebhookEvent
		after datatypes.Step
	}{
		{
			name: "non-numeric assignee", stay: datatypes.StepAwaitAssignee,
			ev:    textEvent(creatorPhone, "not a phone"),
			then:  textEvent(creatorPhone, assigneePhone),
			after: datatypes.StepAwaitDepartment,
		},
		{
			name: "unlisted department", stay: datatypes.StepAwaitDepartment,
			ev:    listReplyEvent(creatorPhone, "Ghost", "dept_424242"),
			then:  listReplyEvent(creatorPhone, "Operations", "dept_"+strconv.FormatInt(f.deptID, 10)),
			after: datatypes.StepAwaitCategory,
		},
		{
			name: "unlisted category", stay: datatypes.StepAwaitCategory,
			ev:    textEvent(creatorPhone, "999"),
			then:  listReplyEvent(creatorPhone, "Maintenance", "cat_"+strconv.FormatInt(f.catID, 10)),
			after: datatypes.StepAwaitTitle,
		},
		{
			name: "empty title", stay: datatypes.StepAwaitTitle,
			ev:    textEvent(creatorPhone, "   "),
			then:  textEvent(creatorPhone, "Fix conveyor belt"),
			after: datatypes.StepAwaitBody,
		},
		{
			name: "empty body", stay: datatypes.StepAwaitBody,
			ev:    textEvent(creatorPhone, ""),
			then:  textEvent(creatorPhone, "Belt 3 is slipping"),
			after: datatypes.StepAwaitAttachments,
		},
		{
			name: "stray text during attachments", stay: datatypes.StepAwaitAttachments,
			ev:    textEvent(creatorPhone, "here you go"),
			then:  textEvent(creatorPhone, "done"),
			after: datatypes.StepAwaitDueDate,
		},
	}
	for _, tc := range cases {
		before := f.sender.count()
		f.deliver(tc.ev)
		assert.Equal(t, tc.stay, f.step(creatorPhone), tc.name)
		assert.Equal(t, before+1, f.sender.count(), "%s: one re-prompt", tc.name)

		f.deliver(tc.then)
		assert.Equal(t, tc.after, f.step(creatorPhone), tc.name)
	}

	// Due date: bad format, impossible month, past date all re-prompt.
	for _, bad := range []string{"5/1/2030", "31/13/2099", "01/01/2020", "soon"} {
		before := f.sender.count()
		f.deliver(textEvent(creatorPhone, bad))
		assert.Equal(t, datatypes.StepAwaitDueDate, f.step(creatorPhone), bad)
		assert.Equal(t, before+1, f.sender.count(), bad)
	}
}

func TestAssign_UnknownAssigneeReprompts(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(textEvent(creatorPhone, "Assign Task"))
	f.deliver(textEvent(creatorPhone, "9899999999"))

	assert.Equal(t, datatypes.StepAwaitAssignee, f.step(creatorPhone))
	reply, ok := f.sender.last(t).msg.(datatypes.TextMessage)
	require.True(t, ok)
	assert.Contains(t, reply.Text, "No user with that number")
}

func TestTerminalReplay_NoSecondTask(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)
	ctx := context.Background()

	f.runAssignToDueDate()
	f.deliver(textEvent(creatorPhone, "31/12/2099"))
	f.noSession(creatorPhone)

	// Redelivered terminal event finds no session: fallback, not a task.
	f.deliver(textEvent(creatorPhone, "31/12/2099"))
	f.noSession(creatorPhone)
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "expired")

	h := f.handle()
	defer h.Close()
	raised, err := h.RecentTasks(ctx, tenant.TasksRaised, f.creatorID, 10, false)
	require.NoError(t, err)
	assert.Len(t, raised, 1, "replay must not create a second task")
}

func TestSessionExpiry_TreatedAsIdle(t *testing.T) {
	if testing.Short() {
		t.Skip("TTL expiry test sleeps")
	}
	f := newFixture(t, time.Second)

	f.deliver(textEvent(creatorPhone, "Assign Task"))
	assert.Equal(t, datatypes.StepAwaitAssignee, f.step(creatorPhone))

	time.Sleep(1200 * time.Millisecond)

	// A perfectly valid step input now lands on an idle contact.
	f.deliver(textEvent(creatorPhone, assigneePhone))
	f.noSession(creatorPhone)
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "expired")
}

func TestContactIsolation(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(textEvent(creatorPhone, "Assign Task"))
	f.deliver(textEvent(assigneePhone, "Assign Task"))

	// Advancing one contact leaves the other's session untouched.
	f.deliver(textEvent(creatorPhone, assigneePhone))
	assert.Equal(t, datatypes.StepAwaitDepartment, f.step(creatorPhone))
	assert.Equal(t, datatypes.StepAwaitAssignee, f.step(assigneePhone))
}

func TestViewFlow(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)
	ctx := context.Background()

	// Empty result reports, no session.
	f.deliver(textEvent(creatorPhone, "Raised Tasks"))
	f.noSession(creatorPhone)
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "No tasks you raised")

	h := f.handle()
	rec, err := h.CreateTask(ctx, datatypes.TaskCreate{
		Title: "Replace filter", Body: "Line 2",
		AssigneeID: f.assigneeID, DepartmentID: f.deptID, CategoryID: f.catID,
		CreatedBy: f.creatorID,
		DueDate:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	h.Close()

	// The sub-choice menu disambiguates raised vs received.
	f.deliver(textEvent(creatorPhone, "View Task"))
	f.noSession(creatorPhone)
	sub, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	require.Len(t, sub.Options, 2)

	f.deliver(textEvent(creatorPhone, "Raised Tasks"))
	f.noSession(creatorPhone)
	menu, ok = f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, rec.Number)
	assert.Contains(t, menu.Content.Text, "Replace filter")

	// The quick-reply tap arrives as a title-bearing event; same result.
	f.deliver(listReplyEvent(assigneePhone, "Received Tasks", ""))
	menu, ok = f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, rec.Number)
}

func TestUpdateFlow_EndToEnd(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)
	ctx := context.Background()

	// No eligible tasks: report and stay idle.
	f.deliver(textEvent(creatorPhone, "Update Task"))
	f.noSession(creatorPhone)
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "no open tasks")

	h := f.handle()
	rec, err := h.CreateTask(ctx, datatypes.TaskCreate{
		Title: "Grease bearings", Body: "Monthly",
		AssigneeID: f.creatorID, DepartmentID: f.deptID, CategoryID: f.catID,
		CreatedBy: f.assigneeID,
		DueDate:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	h.Close()

	f.deliver(textEvent(creatorPhone, "Update Task"))
	assert.Equal(t, datatypes.StepAwaitTaskSelection, f.step(creatorPhone))
	assert.IsType(t, datatypes.ListMessage{}, f.sender.last(t).msg)

	// A task id the contact was never shown does not match.
	f.deliver(listReplyEvent(creatorPhone, "Ghost", "task_424242"))
	assert.Equal(t, datatypes.StepAwaitTaskSelection, f.step(creatorPhone))

	f.deliver(listReplyEvent(creatorPhone, rec.Number, "task_"+strconv.FormatInt(rec.ID, 10)))
	assert.Equal(t, datatypes.StepAwaitStatusSelection, f.step(creatorPhone))

	f.deliver(textEvent(creatorPhone, "Banana"))
	assert.Equal(t, datatypes.StepAwaitStatusSelection, f.step(creatorPhone))

	f.deliver(textEvent(creatorPhone, "Closed"))
	f.noSession(creatorPhone)
	menu, ok = f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, rec.Number)
	assert.Contains(t, menu.Content.Text, "CLOSED")

	// Closed tasks no longer appear as update candidates.
	f.deliver(textEvent(creatorPhone, "Update Task"))
	f.noSession(creatorPhone)
	menu, ok = f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "no open tasks")
}

func TestHardReset_MediaMidFlow(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(textEvent(creatorPhone, "Assign Task"))
	f.deliver(textEvent(creatorPhone, assigneePhone))
	f.deliver(listReplyEvent(creatorPhone, "Operations", "dept_"+strconv.FormatInt(f.deptID, 10)))
	f.deliver(listReplyEvent(creatorPhone, "Maintenance", "cat_"+strconv.FormatInt(f.catID, 10)))
	assert.Equal(t, datatypes.StepAwaitTitle, f.step(creatorPhone))

	// Media where text is expected is the hard reset, not a re-prompt.
	f.deliver(mediaEvent(creatorPhone, "http://example.invalid/x.jpg", "image/jpeg"))
	f.noSession(creatorPhone)
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "didn't understand")
}

func TestUnregisteredContact_SilentAck(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(textEvent("9877777777", "Assign Task"))
	assert.Zero(t, f.sender.count(), "unregistered numbers get no reply")
}

func TestInactivePrincipal_Notice(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)
	require.NoError(t, f.dir.SetUserActive(context.Background(), f.creatorID, false))

	f.deliver(textEvent(creatorPhone, "Assign Task"))
	f.noSession(creatorPhone)
	reply, ok := f.sender.last(t).msg.(datatypes.TextMessage)
	require.True(t, ok)
	assert.Contains(t, reply.Text, "not active")
}

func TestMenuTrigger(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(textEvent(creatorPhone, "Manage Tasks via WA"))
	f.noSession(creatorPhone)
	menu, ok := f.sender.last(t).msg.(datatypes.QuickReplyMessage)
	require.True(t, ok)
	assert.Contains(t, menu.Content.Text, "Ravi")
	require.Len(t, menu.Options, 3)
}

func TestNonMessageEventIgnored(t *testing.T) {
	f := newFixture(t, session.DefaultTTL)

	f.deliver(&datatypes.WebhookEvent{Type: "message-event"})
	assert.Zero(t, f.sender.count())
}
