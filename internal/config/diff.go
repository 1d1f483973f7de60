package config

import (
	"slices"
	"strings"

	logx "remindbot/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections in file order.
	Sections []string
	// Fields are safe log attributes for the new values. Secrets only
	// appear as "<name>_set" booleans.
	Fields []logx.Field
	// RestartRequired lists changed sections that are not applied live.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool { return slices.Contains(c.Sections, section) }

// SummarizeConfigChange compares two configs section by section.
// Logging, scheduler, router and mcp apply live; telegram and storage
// need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		ot.OperatorChatID != nt.OperatorChatID ||
		!slices.Equal(ot.AllowedChatIDs, nt.AllowedChatIDs) {
		mark("telegram", true,
			logx.Bool("telegram.token_set", trim(nt.Token) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
			logx.Bool("telegram.operator_set", nt.OperatorChatID != 0),
			logx.Int("telegram.allowed_chats", len(nt.AllowedChatIDs)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		mark("logging", false,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.chat_enabled", nl.Chat.Enabled),
			logx.String("logging.chat_min_level", nl.Chat.MinLevel),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if !strings.EqualFold(trim(ost.Driver), trim(nst.Driver)) ||
		trim(ost.Path) != trim(nst.Path) ||
		ost.DSN != nst.DSN ||
		trim(ost.BusyTimeout) != trim(nst.BusyTimeout) ||
		ost.CompactEvery != nst.CompactEvery {
		mark("storage", true,
			logx.String("storage.driver", trim(nst.Driver)),
			logx.String("storage.path", trim(nst.Path)),
			logx.Bool("storage.dsn_set", nst.DSN != ""),
		)
	}

	osc, nsc := oldCfg.Scheduler, newCfg.Scheduler
	if osc.IsEnabled() != nsc.IsEnabled() ||
		trim(osc.Interval) != trim(nsc.Interval) ||
		trim(osc.Timezone) != trim(nsc.Timezone) {
		mark("scheduler", false,
			logx.Bool("scheduler.enabled", nsc.IsEnabled()),
			logx.String("scheduler.interval", trim(nsc.Interval)),
			logx.String("scheduler.timezone", trim(nsc.Timezone)),
		)
	}

	if oldCfg.Router != newCfg.Router {
		nr := newCfg.Router
		// workers, queue_size and history_size size the pool at start.
		restart := oldCfg.Router.Workers != nr.Workers ||
			oldCfg.Router.QueueSize != nr.QueueSize ||
			oldCfg.Router.HistorySize != nr.HistorySize
		mark("router", restart,
			logx.Int("router.workers", nr.Workers),
			logx.Int("router.queue_size", nr.QueueSize),
			logx.Int("router.rate_per_sec", nr.RatePerSec),
			logx.String("router.delivery_timeout", trim(nr.DeliveryTimeout)),
		)
	}

	if oldCfg.MCP != newCfg.MCP {
		mark("mcp", false,
			logx.Bool("mcp.enabled", newCfg.MCP.Enabled),
			logx.String("mcp.addr", trim(newCfg.MCP.Addr)),
			logx.String("mcp.path", trim(newCfg.MCP.Path)),
		)
	}

	return ch
}

func trim(s string) string { return strings.TrimSpace(s) }
