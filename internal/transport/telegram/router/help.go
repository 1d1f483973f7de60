package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help for Telegram's HTML parse mode.
func (m *CommandManager) helpText(args []string) string {
	if len(args) == 0 {
		return m.helpTopHTML()
	}
	c, ok := m.lookup(strings.ToLower(strings.TrimPrefix(args[0], "/")))
	if !ok {
		return "❓ <b>Unknown command</b>\nType <code>/help</code> for the command list."
	}
	return helpCommandHTML(c)
}

func (m *CommandManager) helpTopHTML() string {
	m.mu.RLock()
	cmds := append([]*Command(nil), m.ordered...)
	m.mu.RUnlock()

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	for _, c := range cmds {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Description != "" {
			line += ": " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"",
		"<b>Time formats</b>",
		"<code>+30m</code>, <code>+2h</code>, <code>+1d</code>",
		"<code>30 minutes from now</code>, <code>1 day from now</code>",
		"<code>+PT1H30M</code> (ISO-8601 duration)",
		"<code>2025-01-15T09:00:00</code> (server time zone)",
	)
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c *Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		aliases := append([]string(nil), c.Aliases...)
		sort.Strings(aliases)
		lines = append(lines, "", "<b>Shortcut</b>")
		for _, a := range aliases {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}
