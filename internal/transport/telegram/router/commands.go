package router

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/internal/reminders"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

const remindUsage = "/remind <time> <message>"

func (m *CommandManager) builtinCommands() []Command {
	return []Command{
		{
			Name:        "remind",
			Aliases:     []string{"r"},
			Description: "set a reminder",
			Usage:       remindUsage,
			Handle:      m.handleRemind,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"list"},
			Description: "list reminders in this chat",
			Usage:       "/reminders [pending|triggered|cancelled|all] [all]",
			Handle:      m.handleList,
		},
		{
			Name:        "cancel",
			Description: "cancel a pending reminder",
			Usage:       "/cancel <id>",
			Handle:      m.handleCancel,
		},
		{
			Name:        "help",
			Aliases:     []string{"start", "h"},
			Description: "show help",
			Usage:       "/help [command]",
			Handle:      m.handleHelp,
		},
	}
}

func (m *CommandManager) handleRemind(ctx context.Context, req *Request) error {
	expr, message, ok := timeparse.Split(req.Text)
	if !ok {
		m.reply(ctx, req.Chat, "Could not find a time at the start.\nUsage: "+remindUsage+"\nExamples: /remind +30m stretch, /remind 1 day from now call mom")
		return nil
	}
	if message == "" {
		m.reply(ctx, req.Chat, "What should I remind you about?\nUsage: "+remindUsage)
		return nil
	}

	r, err := m.api.Add(ctx, req.Chat.ChatID, message, expr)
	if err != nil {
		if msg, ok := reminders.UserMessage(err); ok {
			m.reply(ctx, req.Chat, msg)
			return nil
		}
		return err
	}
	m.reply(ctx, req.Chat, reminders.FormatCreated(r, m.api.Location()))
	return nil
}

// handleList accepts an optional status and a trailing "all" for every
// chat. "all" alone is the status filter.
func (m *CommandManager) handleList(ctx context.Context, req *Request) error {
	q := reminder.Query{ChatID: req.Chat.ChatID, Status: reminder.FilterAll}
	args := req.Args
	if len(args) > 2 {
		m.reply(ctx, req.Chat, "Usage: /reminders [pending|triggered|cancelled|all] [all]")
		return nil
	}
	if len(args) >= 1 {
		f, err := reminder.ParseStatusFilter(args[0])
		if err != nil {
			m.reply(ctx, req.Chat, "Unknown status "+strconv.Quote(args[0])+". Use pending, triggered, cancelled or all.")
			return nil
		}
		q.Status = f
	}
	if len(args) == 2 {
		if !strings.EqualFold(args[1], "all") {
			m.reply(ctx, req.Chat, "Usage: /reminders [pending|triggered|cancelled|all] [all]")
			return nil
		}
		if !m.accessSnapshot().operator(req.Chat.ChatID) {
			m.reply(ctx, req.Chat, "Listing every chat is only available in the operator chat.")
			return nil
		}
		q.AllChats = true
	}

	items, err := m.api.List(ctx, q)
	if err != nil {
		return err
	}
	title := "Reminders (" + string(q.Status) + ")"
	if q.AllChats {
		title = "Reminders in all chats (" + string(q.Status) + ")"
	}
	m.reply(ctx, req.Chat, reminders.FormatList(title, items, m.api.Location(), q.AllChats))
	return nil
}

// handleCancel only touches reminders of the requesting chat; the operator
// chat may cancel any.
func (m *CommandManager) handleCancel(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		m.reply(ctx, req.Chat, "Usage: /cancel <id>")
		return nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		m.reply(ctx, req.Chat, "Reminder id must be a positive number.")
		return nil
	}

	cur, err := m.api.Get(ctx, id)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		m.reply(ctx, req.Chat, reminders.FormatCancelError(id, err))
		return nil
	case err != nil:
		return err
	}
	if cur.ChatID != req.Chat.ChatID && !m.accessSnapshot().operator(req.Chat.ChatID) {
		req.Logger.Debug("cancel of foreign reminder refused", logx.Int64("reminder_id", id), logx.Int64("owner_chat_id", cur.ChatID))
		m.reply(ctx, req.Chat, reminders.FormatCancelError(id, reminder.ErrNotFound))
		return nil
	}

	r, err := m.api.Cancel(ctx, id)
	if err != nil {
		if msg := reminders.FormatCancelError(id, err); msg != "" {
			m.reply(ctx, req.Chat, msg)
			return nil
		}
		return err
	}
	m.reply(ctx, req.Chat, "Reminder #"+strconv.FormatInt(r.ID, 10)+" cancelled.")
	return nil
}

func (m *CommandManager) handleHelp(ctx context.Context, req *Request) error {
	m.replyHTML(ctx, req.Chat, m.helpText(req.Args))
	return nil
}
