package mcpserver

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"remindbot/internal/reminder"
	"remindbot/internal/reminders"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var testNow = time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*Server, storage.Store) {
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
	return New(api, logx.Nop(), "test"), st
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text
}

func TestAddReminder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      AddReminderInput
		wantErr string
		want    string
	}{
		{
			name: "relative",
			in:   AddReminderInput{Message: "Check the oven", TriggerTime: "+10m", ChatID: 4242},
			want: "Reminder #1 set for 2025-03-10 18:10:00 UTC: Check the oven",
		},
		{
			name: "explicit none recurrence",
			in:   AddReminderInput{Message: "stretch", TriggerTime: "2025-03-11T09:00:00", ChatID: 4242, Recurrence: "none"},
			want: "2025-03-11 09:00:00 UTC: stretch",
		},
		{
			name:    "recurrence rejected",
			in:      AddReminderInput{Message: "x", TriggerTime: "+1d", ChatID: 1, Recurrence: "daily"},
			wantErr: "invalid recurrence",
		},
		{
			name:    "past time",
			in:      AddReminderInput{Message: "x", TriggerTime: "+ -5m", ChatID: 1},
			wantErr: "not in the future",
		},
		{
			name:    "garbage time",
			in:      AddReminderInput{Message: "x", TriggerTime: "soonish", ChatID: 1},
			wantErr: "Could not understand the time",
		},
		{
			name:    "blank message",
			in:      AddReminderInput{Message: "  ", TriggerTime: "+5m", ChatID: 1},
			wantErr: "invalid message",
		},
		{
			name:    "missing chat",
			in:      AddReminderInput{Message: "x", TriggerTime: "+5m"},
			wantErr: "invalid chat_id",
		},
	}

	s, _ := newServer(t)
	for _, tc := range cases {
		res, out, err := s.addReminder(context.Background(), nil, tc.in)
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("%s: err = %v, want %q", tc.name, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := resultText(t, res); !strings.Contains(got, tc.want) {
			t.Errorf("%s: text %q, want %q", tc.name, got, tc.want)
		}
		if out.Reminder.Status != "pending" || out.Reminder.ChatID != tc.in.ChatID {
			t.Errorf("%s: output %+v", tc.name, out.Reminder)
		}
	}
}

func TestListAndPendingReminders(t *testing.T) {
	t.Parallel()

	s, st := newServer(t)
	ctx := context.Background()
	late, _ := st.Create(ctx, 20, "later", testNow.Add(2*time.Hour))
	_, _ = st.Create(ctx, 10, "sooner", testNow.Add(time.Hour))
	done, _ := st.Create(ctx, 10, "fired", testNow.Add(30*time.Minute))
	if _, err := st.MarkTriggered(ctx, done.ID); err != nil {
		t.Fatal(err)
	}

	res, out, err := s.listReminders(ctx, nil, ListRemindersInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Reminders) != 3 || !strings.Contains(resultText(t, res), "(chat 20)") {
		t.Fatalf("all chats: %+v", out.Reminders)
	}

	chat := int64(10)
	_, out, err = s.listReminders(ctx, nil, ListRemindersInput{Status: "pending", ChatID: &chat})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Reminders) != 1 || out.Reminders[0].Message != "sooner" {
		t.Fatalf("chat 10 pending: %+v", out.Reminders)
	}

	if _, _, err := s.listReminders(ctx, nil, ListRemindersInput{Status: "done"}); err == nil {
		t.Fatal("unknown status accepted")
	}

	_, out, err = s.pendingReminders(ctx, nil, PendingRemindersInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Reminders) != 2 || out.Reminders[0].Message != "sooner" || out.Reminders[1].ID != late.ID {
		t.Fatalf("pending = %+v", out.Reminders)
	}
}

func TestCancelReminder(t *testing.T) {
	t.Parallel()

	s, st := newServer(t)
	ctx := context.Background()
	r, _ := st.Create(ctx, 10, "tea", testNow.Add(time.Hour))

	res, out, err := s.cancelReminder(ctx, nil, CancelReminderInput{ReminderID: r.ID})
	if err != nil {
		t.Fatal(err)
	}
	if resultText(t, res) != "Reminder #1 cancelled." || out.Reminder.Status != string(reminder.StatusCancelled) {
		t.Fatalf("cancel = %q %+v", resultText(t, res), out)
	}

	steps := []struct {
		id   int64
		want string
	}{
		{r.ID, "Reminder #1 is already cancelled."},
		{42, "Reminder #42 not found."},
	}
	for _, step := range steps {
		_, _, err := s.cancelReminder(ctx, nil, CancelReminderInput{ReminderID: step.id})
		if err == nil || err.Error() != step.want {
			t.Errorf("cancel %d: err = %v, want %q", step.id, err, step.want)
		}
	}
}

func TestToolsOverInMemorySession(t *testing.T) {
	t.Parallel()

	s, _ := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
		if tool.Name == "list_reminders" && !strings.Contains(tool.Description, "every chat") {
			t.Errorf("list_reminders description %q does not state its scope", tool.Description)
		}
	}
	for _, want := range []string{"add_reminder", "list_reminders", "cancel_reminder", "get_pending_reminders"} {
		if !names[want] {
			t.Errorf("tool %s not listed", want)
		}
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "add_reminder",
		Arguments: map[string]any{"message": "Check the oven", "trigger_time": "+10m", "chat_id": 4242},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(resultText(t, res), "Reminder #1") {
		t.Fatalf("add result = %+v", res)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "cancel_reminder",
		Arguments: map[string]any{"reminder_id": 7},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "not found") {
		t.Fatalf("cancel result = %+v", res)
	}
}

func TestHTTPServerApply(t *testing.T) {
	t.Parallel()

	s, _ := newServer(t)
	h := NewHTTPServer(s)
	ctx := context.Background()

	if err := h.Apply(ctx, HTTPConfig{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	first := h.Addr()
	if first == "" {
		t.Fatal("listener not started")
	}
	if err := h.Apply(ctx, HTTPConfig{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatal(err)
	}
	if h.Addr() != first {
		t.Fatalf("unchanged config restarted the listener: %s -> %s", first, h.Addr())
	}
	if err := h.Apply(ctx, HTTPConfig{}); err != nil {
		t.Fatal(err)
	}
	if h.Addr() != "" {
		t.Fatal("listener still running after disable")
	}
}
