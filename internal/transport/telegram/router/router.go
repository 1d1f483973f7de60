package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const defaultCommandTimeout = 30 * time.Second

// Reminders is the command API the chat front-end drives.
type Reminders interface {
	Add(ctx context.Context, chatID int64, message, timeExpr string) (reminder.Reminder, error)
	Get(ctx context.Context, id int64) (reminder.Reminder, error)
	List(ctx context.Context, q reminder.Query) ([]reminder.Reminder, error)
	Cancel(ctx context.Context, id int64) (reminder.Reminder, error)
	Location() *time.Location
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // 0 means defaultCommandTimeout
	Handle      HandlerFunc
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// Command is the canonical command name.
	Command string
	Args    []string
	// Text is everything after the command word, whitespace-trimmed.
	Text string
	// ReqID is an xid; it is logged as "guid" and quoted to the user on
	// unexpected errors.
	ReqID  string
	Logger logx.Logger
}

// Access decides which chats may use the bot.
type Access struct {
	// AllowedChatIDs empty means every chat.
	AllowedChatIDs []int64
	// OperatorChatID may list reminders of every chat.
	OperatorChatID int64
}

func (a Access) allowed(chatID int64) bool {
	if len(a.AllowedChatIDs) == 0 || chatID == a.OperatorChatID {
		return true
	}
	return slices.Contains(a.AllowedChatIDs, chatID)
}

func (a Access) operator(chatID int64) bool {
	return a.OperatorChatID != 0 && chatID == a.OperatorChatID
}

type CommandManager struct {
	log    logx.Logger
	sender kit.Sender
	api    Reminders

	mu       sync.RWMutex
	access   Access
	commands map[string]*Command // name and aliases
	ordered  []*Command

	jobs chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, api Reminders, access Access) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		log:    log,
		sender: sender,
		api:    api,
		jobs:   make(chan func(), 256),
	}
	m.SetAccess(access)
	m.register(m.builtinCommands())
	return m
}

// SetAccess swaps the chat allowlist. Safe during hot reload.
func (m *CommandManager) SetAccess(a Access) {
	a.AllowedChatIDs = append([]int64(nil), a.AllowedChatIDs...)
	m.mu.Lock()
	m.access = a
	m.mu.Unlock()
}

func (m *CommandManager) accessSnapshot() Access {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

func (m *CommandManager) register(cmds []Command) {
	byName := make(map[string]*Command, len(cmds)*2)
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
		ordered = append(ordered, c)
	}
	m.mu.Lock()
	m.commands = byName
	m.ordered = ordered
	m.mu.Unlock()
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commands[word]
	return c, ok
}

// MenuCommands is the command list for the Telegram menu.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.ordered))
	for _, c := range m.ordered {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			m.workerLoop(c, idx)
			return nil
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) workerLoop(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// parseCommand splits "/cmd@bot rest of text" into ("cmd", "rest of text").
func parseCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		tail = head[i:] + " " + tail
		head = head[:i]
	}
	word = strings.ToLower(strings.TrimPrefix(head, "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return word, strings.TrimSpace(tail), word != ""
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, rest, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !m.accessSnapshot().allowed(msg.ChatID) {
		m.log.Debug("command from chat not allowed", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", word))
		m.reply(ctx, chat, "This chat is not allowed to use this bot.")
		return
	}

	cmd, found := m.lookup(word)
	if !found {
		m.reply(ctx, chat, "Unknown command. Try /help")
		return
	}

	rid := xid.New().String()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    strings.Fields(rest),
		Text:    rest,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("guid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(cmd.Handle,
		m.mwUnexpected(),
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.reply(ctx, chat, "Busy, try again in a moment.")
	}
}

// mwUnexpected answers handler errors with the request id the log carries.
func (m *CommandManager) mwUnexpected() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil {
				m.reply(ctx, req.Chat, "Something went wrong. Reference: "+req.ReqID)
			}
			return err
		}
	}
}

func (m *CommandManager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (m *CommandManager) replyHTML(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"}); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
