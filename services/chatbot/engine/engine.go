// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine drives the per-contact conversational state machine.
//
// Every inbound webhook event maps to at most one outbound message, chosen
// by the contact's active step. Flow selection happens only from the idle
// state (no session) by matching a trigger phrase; once a session exists,
// its step alone decides which handler runs. Per-step validation failures
// re-prompt without touching the session; unrecognized input kinds are a
// hard reset that destroys the session and reissues the main menu.
//
// # Description
//
// The engine owns no storage of its own. It composes the session store,
// the tenant resolver, the directory store and the outbound gateway, all
// injected at construction. A keyed per-contact mutex serializes the
// read-modify-write on the session record so two near-simultaneous
// deliveries for the same contact cannot interleave.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/workcheck/pkg/phone"
	"github.com/AleutianAI/workcheck/services/chatbot/datatypes"
	"github.com/AleutianAI/workcheck/services/chatbot/gateway"
	"github.com/AleutianAI/workcheck/services/chatbot/observability"
	"github.com/AleutianAI/workcheck/services/chatbot/session"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"
)

// ===== Triggers =====

// Trigger phrases that start a flow from the idle state. Matching is
// case-insensitive on the event's display text.
const (
	TriggerAssign   = "assign task"
	TriggerView     = "view task"
	TriggerRaised   = "raised tasks"
	TriggerReceived = "received tasks"
	TriggerUpdate   = "update task"
	TriggerMenu     = "manage tasks via wa"
)

// ===== Engine =====

// Config wires the engine's collaborators.
type Config struct {
	Sessions  *session.Store
	Resolver  *tenant.Resolver
	Directory *tenant.Directory
	Gateway   gateway.Sender

	// UploadDir is where downloaded attachments are persisted.
	UploadDir string

	// AssignTemplateID is the pre-approved template used to notify an
	// assignee that a task landed on them. Empty disables the notice.
	AssignTemplateID string

	// CountryCode for contact number normalization. Defaults to
	// phone.DefaultCountryCode.
	CountryCode string

	// DownloadClient fetches attachment media. Defaults to a client with
	// a 30s timeout.
	DownloadClient *http.Client

	Logger *slog.Logger
}

// Engine dispatches inbound events to flow step handlers.
type Engine struct {
	sessions  *session.Store
	resolver  *tenant.Resolver
	directory *tenant.Directory
	gw        gateway.Sender

	uploadDir   string
	templateID  string
	countryCode string
	downloader  *http.Client
	validate    *validator.Validate
	logger      *slog.Logger

	locks    *contactLocks
	triggers map[string]func(ctx context.Context, fc *flowContext) error
	steps    map[datatypes.Step]func(ctx context.Context, fc *flowContext) error
}

// New builds the engine. All collaborators are required except the
// template id and download client.
func New(cfg Config) (*Engine, error) {
	if cfg.Sessions == nil || cfg.Resolver == nil || cfg.Directory == nil || cfg.Gateway == nil {
		return nil, fmt.Errorf("engine: Sessions, Resolver, Directory and Gateway are required")
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = phone.DefaultCountryCode
	}
	if cfg.DownloadClient == nil {
		cfg.DownloadClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		sessions:    cfg.Sessions,
		resolver:    cfg.Resolver,
		directory:   cfg.Directory,
		gw:          cfg.Gateway,
		uploadDir:   cfg.UploadDir,
		templateID:  cfg.AssignTemplateID,
		countryCode: cfg.CountryCode,
		downloader:  cfg.DownloadClient,
		validate:    validator.New(),
		logger:      cfg.Logger,
		locks:       newContactLocks(),
	}

	e.triggers = map[string]func(ctx context.Context, fc *flowContext) error{
		TriggerAssign:   e.startAssign,
		TriggerView:     e.viewMenu,
		TriggerRaised:   e.viewRaised,
		TriggerReceived: e.viewReceived,
		TriggerUpdate:   e.startUpdate,
		TriggerMenu:     e.showMenu,
	}
	e.steps = map[datatypes.Step]func(ctx context.Context, fc *flowContext) error{
		datatypes.StepAwaitAssignee:    e.stepAssignee,
		datatypes.StepAwaitDepartment:  e.stepDepartment,
		datatypes.StepAwaitCategory:    e.stepCategory,
		datatypes.StepAwaitTitle:       e.stepTitle,
		datatypes.StepAwaitBody:        e.stepBody,
		datatypes.StepAwaitAttachments: e.stepAttachments,
		datatypes.StepAwaitDueDate:     e.stepDueDate,

		datatypes.StepAwaitTaskSelection:   e.stepTaskSelection,
		datatypes.StepAwaitStatusSelection: e.stepStatusSelection,
	}
	return e, nil
}

// flowContext carries one event's resolved state through a handler.
type flowContext struct {
	principal *datatypes.Principal
	handle    *tenant.Handle
	sess      *datatypes.Session
	in        datatypes.InboundInput

	// contact is the normalized session key; dialable is the outbound
	// addressing form.
	contact  string
	dialable string
}

// HandleEvent processes one inbound webhook event end to end. The error
// return is for logging only: the webhook handler acknowledges the
// transport regardless.
func (e *Engine) HandleEvent(ctx context.Context, ev *datatypes.WebhookEvent) error {
	if ev.Type != "message" {
		observability.EventsProcessed.WithLabelValues("ignored").Inc()
		return nil
	}
	raw := ev.SenderPhone()
	if raw == "" {
		observability.EventsProcessed.WithLabelValues("ignored").Inc()
		return nil
	}

	contact := phone.Normalize(raw, e.countryCode)

	// Serialize the session read-modify-write per contact.
	unlock := e.locks.lock(contact)
	defer unlock()

	err := e.process(ctx, contact, ev.Input())
	if err != nil {
		observability.EventsProcessed.WithLabelValues("error").Inc()
		// A failed event must not strand the contact mid-step.
		if derr := e.sessions.Destroy(ctx, contact); derr != nil {
			e.logger.Error("destroying session after failure", "contact", contact, "error", derr)
		}
		return err
	}
	observability.EventsProcessed.WithLabelValues("handled").Inc()
	return nil
}

func (e *Engine) process(ctx context.Context, contact string, in datatypes.InboundInput) error {
	p, err := e.directory.UserByPhone(ctx, contact)
	if err != nil {
		return fmt.Errorf("resolve sender %s: %w", contact, err)
	}
	if p == nil {
		// Unregistered numbers are acknowledged silently.
		e.logger.Info("event from unregistered contact", "contact", contact)
		return nil
	}

	fc := &flowContext{
		principal: p,
		in:        in,
		contact:   contact,
		dialable:  phone.Dialable(contact, e.countryCode),
	}

	h, err := e.resolver.Resolve(ctx, p, "")
	if err != nil {
		e.logger.Warn("tenant resolution failed", "contact", contact, "error", err)
		return e.reply(ctx, fc, datatypes.TextMessage{
			Text: "Your account is not active right now. Please contact your administrator.",
		})
	}
	defer h.Close()
	fc.handle = h

	sess, err := e.sessions.Get(ctx, contact)
	if err != nil {
		return err
	}
	fc.sess = sess

	if sess == nil {
		if start, ok := e.triggers[strings.ToLower(fc.in.Text)]; ok {
			return start(ctx, fc)
		}
		// No session and no trigger: the previous conversation, if any,
		// timed out.
		observability.EventsProcessed.WithLabelValues("fallback").Inc()
		return e.sendMenu(ctx, fc, "Your session has expired or I didn't catch that.")
	}

	handler, ok := e.steps[sess.Step]
	if !ok {
		// Corrupt or legacy step value: hard reset.
		e.logger.Warn("session with unknown step", "contact", contact, "step", sess.Step)
		return e.notUnderstood(ctx, fc)
	}
	return handler(ctx, fc)
}

// ===== Outbound helpers =====

// reply sends the single outbound message for this event. Delivery
// failures are logged and counted, never propagated: the conversation's
// state has already been settled by the caller.
func (e *Engine) reply(ctx context.Context, fc *flowContext, msg datatypes.Message) error {
	if err := e.gw.Send(ctx, fc.dialable, msg); err != nil {
		observability.SendFailures.Inc()
		e.logger.Error("outbound send failed", "contact", fc.contact, "error", err)
	}
	return nil
}

// sendMenu sends the main menu, with an optional notice folded into the
// menu body so the event still produces exactly one outbound message.
func (e *Engine) sendMenu(ctx context.Context, fc *flowContext, notice string) error {
	body := "What would you like to do?"
	if notice != "" {
		body = notice + "\n\n" + body
	}
	return e.reply(ctx, fc, datatypes.NewQuickReply(body,
		"Assign Task", "View Task", "Update Task"))
}

// showMenu is the "Manage Tasks via WA" trigger: the menu, no session.
func (e *Engine) showMenu(ctx context.Context, fc *flowContext) error {
	return e.sendMenu(ctx, fc, "Hi "+fc.principal.Name+"!")
}

// notUnderstood is the hard reset: destroy any session, reissue the menu.
// Distinct from per-step validation re-prompts, which keep the session.
func (e *Engine) notUnderstood(ctx context.Context, fc *flowContext) error {
	if err := e.sessions.Destroy(ctx, fc.contact); err != nil {
		return err
	}
	return e.sendMenu(ctx, fc, "Sorry, I didn't understand that.")
}

// save persists the session with a fresh TTL. Full rewrite, never merged.
func (e *Engine) save(ctx context.Context, fc *flowContext) error {
	return e.sessions.Put(ctx, fc.contact, fc.sess)
}

// finish destroys the session right after a terminal action commits, so
// a replayed terminal event finds no session and falls back to idle.
func (e *Engine) finish(ctx context.Context, fc *flowContext, flow datatypes.Flow, notice string) error {
	if err := e.sessions.Destroy(ctx, fc.contact); err != nil {
		return err
	}
	observability.FlowsCompleted.WithLabelValues(string(flow)).Inc()
	return e.sendMenu(ctx, fc, notice)
}
