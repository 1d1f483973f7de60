package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/xid"

	"remindbot/internal/reminder"
	"remindbot/internal/reminders"
	logx "remindbot/pkg/logx"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "add_reminder",
		Description: "Add a new reminder. It is stored and delivered to the chat at the trigger time. " +
			"Returns the reminder ID.",
	}, s.addReminder)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_reminders",
		Description: "List reminders, optionally filtered by status and chat. " +
			"Without chat_id it lists reminders of every chat.",
	}, s.listReminders)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cancel_reminder",
		Description: "Cancel a pending reminder by ID.",
	}, s.cancelReminder)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_pending_reminders",
		Description: "Get every pending reminder across all chats, soonest first.",
	}, s.pendingReminders)
}

// ReminderView is the structured form of a reminder in tool output.
type ReminderView struct {
	ID      int64  `json:"id"`
	ChatID  int64  `json:"chat_id"`
	Message string `json:"message"`
	// TriggerAt and CreatedAt are RFC 3339 in UTC.
	TriggerAt string `json:"trigger_at"`
	CreatedAt string `json:"created_at"`
	// TriggerLocal is TriggerAt rendered in the server's reference zone.
	TriggerLocal string `json:"trigger_local"`
	Status       string `json:"status"`
}

func (s *Server) view(r reminder.Reminder) ReminderView {
	return ReminderView{
		ID:           r.ID,
		ChatID:       r.ChatID,
		Message:      r.Message,
		TriggerAt:    r.TriggerAt.UTC().Format(time.RFC3339),
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
		TriggerLocal: reminders.FormatTime(r.TriggerAt, s.api.Location()),
		Status:       string(r.Status),
	}
}

func (s *Server) views(items []reminder.Reminder) []ReminderView {
	out := make([]ReminderView, 0, len(items))
	for _, r := range items {
		out = append(out, s.view(r))
	}
	return out
}

type AddReminderInput struct {
	Message     string `json:"message" jsonschema:"Reminder message or task description"`
	TriggerTime string `json:"trigger_time" jsonschema:"When to trigger: +30m, +2h, +1d, 30 minutes from now, +PT1H30M or 2026-01-28T15:30:00 in the server time zone"`
	ChatID      int64  `json:"chat_id" jsonschema:"Telegram chat ID where the reminder is delivered"`
	Recurrence  string `json:"recurrence,omitempty" jsonschema:"Only none is supported"`
}

type AddReminderOutput struct {
	Reminder ReminderView `json:"reminder"`
}

func (s *Server) addReminder(ctx context.Context, _ *mcp.CallToolRequest, in AddReminderInput) (*mcp.CallToolResult, AddReminderOutput, error) {
	if rec := strings.ToLower(strings.TrimSpace(in.Recurrence)); rec != "" && rec != "none" {
		return nil, AddReminderOutput{}, s.toolError("add_reminder", &reminder.ValidationError{
			Field:  "recurrence",
			Reason: fmt.Sprintf("%q is not supported, reminders fire once", in.Recurrence),
		})
	}
	if in.ChatID == 0 {
		return nil, AddReminderOutput{}, s.toolError("add_reminder", &reminder.ValidationError{Field: "chat_id", Reason: "must be set"})
	}
	r, err := s.api.Add(ctx, in.ChatID, in.Message, in.TriggerTime)
	if err != nil {
		return nil, AddReminderOutput{}, s.toolError("add_reminder", err)
	}
	return textResult(reminders.FormatCreated(r, s.api.Location())), AddReminderOutput{Reminder: s.view(r)}, nil
}

type ListRemindersInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by status: pending, triggered, cancelled or all (default all)"`
	ChatID *int64 `json:"chat_id,omitempty" jsonschema:"Only list reminders of this chat; omit for every chat"`
}

type ListRemindersOutput struct {
	Reminders []ReminderView `json:"reminders"`
}

func (s *Server) listReminders(ctx context.Context, _ *mcp.CallToolRequest, in ListRemindersInput) (*mcp.CallToolResult, ListRemindersOutput, error) {
	f, err := reminder.ParseStatusFilter(in.Status)
	if err != nil {
		return nil, ListRemindersOutput{}, s.toolError("list_reminders", err)
	}
	q := reminder.Query{Status: f, AllChats: in.ChatID == nil}
	title := fmt.Sprintf("Reminders (status: %s)", f)
	if in.ChatID != nil {
		q.ChatID = *in.ChatID
		title = fmt.Sprintf("Reminders in chat %d (status: %s)", q.ChatID, f)
	}
	items, err := s.api.List(ctx, q)
	if err != nil {
		return nil, ListRemindersOutput{}, s.toolError("list_reminders", err)
	}
	text := reminders.FormatList(title, items, s.api.Location(), q.AllChats)
	return textResult(text), ListRemindersOutput{Reminders: s.views(items)}, nil
}

type CancelReminderInput struct {
	ReminderID int64 `json:"reminder_id" jsonschema:"ID of the reminder to cancel"`
}

type CancelReminderOutput struct {
	Reminder ReminderView `json:"reminder"`
}

func (s *Server) cancelReminder(ctx context.Context, _ *mcp.CallToolRequest, in CancelReminderInput) (*mcp.CallToolResult, CancelReminderOutput, error) {
	r, err := s.api.Cancel(ctx, in.ReminderID)
	if err != nil {
		if msg := reminders.FormatCancelError(in.ReminderID, err); msg != "" {
			return nil, CancelReminderOutput{}, errors.New(msg)
		}
		return nil, CancelReminderOutput{}, s.toolError("cancel_reminder", err)
	}
	return textResult(fmt.Sprintf("Reminder #%d cancelled.", r.ID)), CancelReminderOutput{Reminder: s.view(r)}, nil
}

type PendingRemindersInput struct{}

func (s *Server) pendingReminders(ctx context.Context, _ *mcp.CallToolRequest, _ PendingRemindersInput) (*mcp.CallToolResult, ListRemindersOutput, error) {
	items, err := s.api.Pending(ctx)
	if err != nil {
		return nil, ListRemindersOutput{}, s.toolError("get_pending_reminders", err)
	}
	text := reminders.FormatList("Pending reminders", items, s.api.Location(), true)
	return textResult(text), ListRemindersOutput{Reminders: s.views(items)}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// toolError turns err into the text the client sees. Domain errors are
// shown as is; anything else is logged and answered with a reference id.
func (s *Server) toolError(tool string, err error) error {
	if msg, ok := reminders.UserMessage(err); ok {
		return errors.New(msg)
	}
	rid := xid.New().String()
	s.log.Error("tool call failed", logx.String("tool", tool), logx.String("guid", rid), logx.Err(err))
	return fmt.Errorf("internal error (reference %s)", rid)
}
