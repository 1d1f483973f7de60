package router

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/reminders"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sentMessage struct {
	to   kit.ChatTarget
	text string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.sent)}, nil
}

func (r *recordingSender) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].text
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

var testNow = time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

func newManager(t *testing.T, access Access) (*CommandManager, *recordingSender, storage.Store) {
	t.Helper()
	clock := func() time.Time { return testNow }
	st, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "reminders"),
		Now:    clock,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	api := reminders.New(st, logx.Nop(), nil,
		reminders.WithClock(clock),
		reminders.WithLocation(func() *time.Location { return time.UTC }),
	)
	sender := &recordingSender{}
	return NewCommandManager(logx.Nop(), sender, api, access), sender, st
}

func run(t *testing.T, m *CommandManager, chatID int64, text string) {
	t.Helper()
	word, rest, ok := parseCommand(text)
	if !ok {
		t.Fatalf("not a command: %q", text)
	}
	cmd, found := m.lookup(word)
	if !found {
		t.Fatalf("unknown command %q", word)
	}
	req := &Request{
		Chat:    kit.ChatTarget{ChatID: chatID},
		Command: cmd.Name,
		Args:    strings.Fields(rest),
		Text:    rest,
		ReqID:   "test",
		Logger:  logx.Nop(),
	}
	if err := Chain(cmd.Handle, m.mwUnexpected())(context.Background(), req); err != nil {
		t.Fatalf("%s: %v", text, err)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, word, rest string
		ok             bool
	}{
		{"/remind +5m tea", "remind", "+5m tea", true},
		{"/Remind@RemindBot  +5m tea ", "remind", "+5m tea", true},
		{"/reminders", "reminders", "", true},
		{"/remind\n+5m tea", "remind", "+5m tea", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tc := range cases {
		word, rest, ok := parseCommand(tc.in)
		if word != tc.word || rest != tc.rest || ok != tc.ok {
			t.Errorf("parseCommand(%q) = (%q, %q, %v)", tc.in, word, rest, ok)
		}
	}
}

func TestRemindCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want string
	}{
		{"/remind +10m Check the oven", "Reminder #1 set for 2025-03-10 18:10:00 UTC: Check the oven"},
		{"/remind 2 hours from now stretch", "set for 2025-03-10 20:00:00 UTC: stretch"},
		{"/remind + -5m too late", "not in the future"},
		{"/remind tomorrow call mom", "Could not find a time"},
		{"/remind +5m", "What should I remind you about?"},
		{"/remind +5x tea", "Could not find a time"},
	}
	m, sender, _ := newManager(t, Access{})
	for _, tc := range cases {
		run(t, m, 4242, tc.text)
		if got := sender.last(); !strings.Contains(got, tc.want) {
			t.Errorf("%s: reply %q, want it to contain %q", tc.text, got, tc.want)
		}
	}
}

func TestRemindKeepsMessageLayout(t *testing.T) {
	t.Parallel()

	m, _, st := newManager(t, Access{})
	run(t, m, 4242, "/remind +5m buy:\n- milk\n-  eggs")
	r, err := st.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := "buy:\n- milk\n-  eggs"; r.Message != want {
		t.Fatalf("message = %q, want %q", r.Message, want)
	}
}

func TestListCommandScopes(t *testing.T) {
	t.Parallel()

	m, sender, st := newManager(t, Access{OperatorChatID: 1})
	ctx := context.Background()
	for _, c := range []struct {
		chat int64
		msg  string
	}{{10, "mine"}, {20, "theirs"}} {
		if _, err := st.Create(ctx, c.chat, c.msg, testNow.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	run(t, m, 10, "/reminders")
	if got := sender.last(); !strings.Contains(got, "mine") || strings.Contains(got, "theirs") {
		t.Fatalf("per-chat list = %q", got)
	}

	run(t, m, 10, "/reminders pending all")
	if got := sender.last(); !strings.Contains(got, "only available in the operator chat") {
		t.Fatalf("non-operator all-chats list = %q", got)
	}

	run(t, m, 1, "/reminders pending all")
	if got := sender.last(); !strings.Contains(got, "mine") || !strings.Contains(got, "theirs") || !strings.Contains(got, "(chat 20)") {
		t.Fatalf("operator list = %q", got)
	}

	run(t, m, 10, "/reminders done")
	if got := sender.last(); !strings.Contains(got, "Unknown status") {
		t.Fatalf("bad status reply = %q", got)
	}

	run(t, m, 30, "/reminders")
	if got := sender.last(); got != "No reminders found." {
		t.Fatalf("empty list reply = %q", got)
	}
}

func TestCancelCommand(t *testing.T) {
	t.Parallel()

	m, sender, st := newManager(t, Access{})
	ctx := context.Background()
	r, err := st.Create(ctx, 10, "tea", testNow.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	fired, err := st.Create(ctx, 10, "done", testNow.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkTriggered(ctx, fired.ID); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		chat int64
		text string
		want string
	}{
		{20, "/cancel 1", "Reminder #1 not found."},
		{10, "/cancel #1", "Reminder #1 cancelled."},
		{10, "/cancel 1", "Reminder #1 is already cancelled."},
		{10, "/cancel 2", "Reminder #2 has already been triggered."},
		{10, "/cancel 99", "Reminder #99 not found."},
		{10, "/cancel abc", "positive number"},
		{10, "/cancel", "Usage: /cancel <id>"},
	}
	for _, s := range steps {
		run(t, m, s.chat, s.text)
		if got := sender.last(); got != s.want && !strings.Contains(got, s.want) {
			t.Errorf("%s from %d: reply %q, want %q", s.text, s.chat, got, s.want)
		}
	}

	got, _ := st.Get(ctx, r.ID)
	if got.Status != reminder.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

type failingAPI struct{ Reminders }

func (failingAPI) Add(context.Context, int64, string, string) (reminder.Reminder, error) {
	return reminder.Reminder{}, errors.New("disk on fire")
}

func TestUnexpectedErrorRepliesWithReference(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	m := NewCommandManager(logx.Nop(), sender, failingAPI{}, Access{})
	word, rest, _ := parseCommand("/remind +5m tea")
	cmd, _ := m.lookup(word)
	req := &Request{Chat: kit.ChatTarget{ChatID: 1}, Text: rest, Args: strings.Fields(rest), ReqID: "cv1abc", Logger: logx.Nop()}
	err := Chain(cmd.Handle, m.mwUnexpected())(context.Background(), req)
	if err == nil {
		t.Fatal("expected the handler error to propagate")
	}
	if got := sender.last(); got != "Something went wrong. Reference: cv1abc" {
		t.Fatalf("reply = %q", got)
	}
}

func TestDispatchLoopRoutesAndFilters(t *testing.T) {
	m, sender, _ := newManager(t, Access{AllowedChatIDs: []int64{10}})
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	send := func(chat int64, text string) {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, Text: text}}
	}
	send(10, "just chatting")
	send(99, "/help")
	send(10, "/nope")
	send(10, "/help")

	deadline := time.Now().Add(3 * time.Second)
	for sender.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("dispatch loop: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 3 {
		t.Fatalf("replies = %+v", sender.sent)
	}
	var denied, unknown, help bool
	for _, s := range sender.sent {
		switch {
		case s.to.ChatID == 99 && strings.Contains(s.text, "not allowed"):
			denied = true
		case s.to.ChatID == 10 && strings.Contains(s.text, "Unknown command"):
			unknown = true
		case s.to.ChatID == 10 && strings.Contains(s.text, "/remind"):
			help = true
		}
	}
	if !denied || !unknown || !help {
		t.Fatalf("replies = %+v", sender.sent)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, Access{})
	var names []string
	for _, c := range m.MenuCommands() {
		names = append(names, c.Command)
	}
	if got := strings.Join(names, ","); got != "remind,reminders,cancel,help" {
		t.Fatalf("menu = %s", got)
	}
}
