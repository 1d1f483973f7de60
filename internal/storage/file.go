package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const defaultCompactEvery = 256

// fileStore keeps every reminder in memory behind one mutex and persists
// through two files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only, fsynced per write)
//
// The journal is compacted into the snapshot every compactEvery writes.
// Only one process may open a given prefix.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	journalSize  int64

	items  map[int64]reminder.Reminder
	nextID int64

	writes       int
	compactEvery int
}

// fileRecord is the persisted form. Times are unix milliseconds.
type fileRecord struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat_id"`
	Message   string `json:"message"`
	TriggerAt int64  `json:"trigger_at"`
	CreatedAt int64  `json:"created_at"`
	Status    string `json:"status"`
}

type fileSnapshot struct {
	NextID    int64        `json:"next_id"`
	Reminders []fileRecord `json:"reminders"`
}

// journalEntry is either a full create record or a targeted status change.
type journalEntry struct {
	Op       string      `json:"op"`
	Reminder *fileRecord `json:"reminder,omitempty"`
	ID       int64       `json:"id,omitempty"`
	Status   string      `json:"status,omitempty"`
}

const (
	opCreate = "create"
	opStatus = "status"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}

	s := &fileStore{
		log:          log,
		now:          cfg.Now,
		snapshotPath: prefix + ".snapshot.json",
		items:        map[int64]reminder.Reminder{},
		nextID:       1,
		compactEvery: cfg.CompactEvery,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = defaultCompactEvery
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	replayed, skipped, err := s.replayJournal(journalPath)
	if err != nil {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: open journal: %w", err)
	}
	s.journal = jf

	// Fold the replayed journal into a fresh snapshot so torn tails are gone
	// before the first append.
	if replayed > 0 || skipped > 0 {
		if err := s.compactLocked(); err != nil {
			_ = jf.Close()
			return nil, err
		}
	} else if err := s.seekEnd(); err != nil {
		_ = jf.Close()
		return nil, err
	}

	log.Info("file store opened",
		logx.String("path", prefix),
		logx.Int("reminders", len(s.items)),
		logx.Int64("next_id", s.nextID),
		logx.Int("journal_replayed", replayed),
		logx.Int("journal_skipped", skipped),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Create(ctx context.Context, chatID int64, message string, triggerAt time.Time) (reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Reminder{}, ErrClosed
	}

	now := reminder.Normalize(s.now())
	at := reminder.Normalize(triggerAt)
	if err := validateCreate(message, at, now); err != nil {
		return reminder.Reminder{}, err
	}

	r := reminder.Reminder{
		ID:        s.nextID,
		ChatID:    chatID,
		Message:   message,
		TriggerAt: at,
		CreatedAt: now,
		Status:    reminder.StatusPending,
	}
	rec := toFileRecord(r)
	if err := s.appendLocked(journalEntry{Op: opCreate, Reminder: &rec}); err != nil {
		return reminder.Reminder{}, err
	}
	s.items[r.ID] = r
	s.nextID++
	s.maybeCompactLocked()
	return r, nil
}

func (s *fileStore) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Reminder{}, ErrClosed
	}
	r, ok := s.items[id]
	if !ok {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	return r, nil
}

func (s *fileStore) List(ctx context.Context, q reminder.Query) ([]reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]reminder.Reminder, 0, 16)
	for _, r := range s.items {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	sortForQuery(out, q.Status)
	return out, nil
}

func (s *fileStore) Due(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	var out []reminder.Reminder
	for _, r := range s.items {
		if r.Due(now) {
			out = append(out, r)
		}
	}
	sortByTrigger(out)
	return out, nil
}

func (s *fileStore) MarkTriggered(ctx context.Context, id int64) (reminder.Reminder, error) {
	return s.transition(ctx, id, "trigger", reminder.StatusTriggered)
}

func (s *fileStore) Cancel(ctx context.Context, id int64) (reminder.Reminder, error) {
	return s.transition(ctx, id, "cancel", reminder.StatusCancelled)
}

func (s *fileStore) transition(ctx context.Context, id int64, op string, to reminder.Status) (reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Reminder{}, ErrClosed
	}
	r, ok := s.items[id]
	if !ok {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	if r.Status != reminder.StatusPending {
		return reminder.Reminder{}, &reminder.StateError{Op: op, Reminder: r}
	}
	if err := s.appendLocked(journalEntry{Op: opStatus, ID: id, Status: string(to)}); err != nil {
		return reminder.Reminder{}, err
	}
	r.Status = to
	s.items[id] = r
	s.maybeCompactLocked()
	return r, nil
}

// appendLocked writes one journal line and fsyncs it. A failed write is cut
// back so the next append starts on a clean line.
func (s *fileStore) appendLocked(e journalEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("storage: encode journal entry: %w", err)
	}
	b = append(b, '\n')

	off := s.journalSize
	n, err := s.journal.Write(b)
	if err == nil {
		err = s.journal.Sync()
	}
	if err != nil {
		if n > 0 {
			if terr := s.journal.Truncate(off); terr != nil {
				s.log.Error("journal rollback failed", logx.Err(terr))
			}
			_, _ = s.journal.Seek(off, io.SeekStart)
		}
		return fmt.Errorf("storage: append journal: %w", err)
	}
	s.journalSize += int64(n)
	s.writes++
	return nil
}

func (s *fileStore) maybeCompactLocked() {
	if s.writes < s.compactEvery {
		return
	}
	// The journal already holds the write; a failed compaction only delays
	// the next one.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("journal compaction failed", logx.Err(err))
	}
}

// compactLocked writes a full snapshot (tmp + fsync + rename) and then
// truncates the journal. A crash between the two steps replays journal
// entries that the snapshot already contains, which is harmless.
func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{NextID: s.nextID, Reminders: make([]fileRecord, 0, len(s.items))}
	for _, r := range s.items {
		snap.Reminders = append(snap.Reminders, toFileRecord(r))
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("storage: create snapshot: %w", err)
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("storage: install snapshot: %w", err)
	}
	syncDir(filepath.Dir(s.snapshotPath))

	if err := s.journal.Truncate(0); err != nil {
		return fmt.Errorf("storage: truncate journal: %w", err)
	}
	if err := s.journal.Sync(); err != nil {
		return fmt.Errorf("storage: sync journal: %w", err)
	}
	s.journalSize = 0
	s.writes = 0
	_, err = s.journal.Seek(0, io.SeekStart)
	return err
}

func (s *fileStore) seekEnd() error {
	off, err := s.journal.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("storage: seek journal: %w", err)
	}
	s.journalSize = off
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: open snapshot: %w", err)
	}
	defer f.Close()

	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("storage: decode snapshot: %w", err)
	}
	for _, rec := range snap.Reminders {
		s.applyCreate(rec)
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return nil
}

// replayJournal applies journal entries on top of the snapshot. Entries
// are idempotent; lines that do not decode (a torn tail) are skipped.
func (s *fileStore) replayJournal(path string) (replayed, skipped int, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("storage: open journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		switch {
		case e.Op == opCreate && e.Reminder != nil:
			s.applyCreate(*e.Reminder)
		case e.Op == opStatus:
			s.applyStatus(e.ID, reminder.Status(e.Status))
		default:
			skipped++
			continue
		}
		replayed++
	}
	if err := sc.Err(); err != nil {
		return replayed, skipped, fmt.Errorf("storage: read journal: %w", err)
	}
	if skipped > 0 {
		s.log.Warn("skipped unreadable journal lines", logx.Int("lines", skipped))
	}
	return replayed, skipped, nil
}

func (s *fileStore) applyCreate(rec fileRecord) {
	if rec.ID <= 0 {
		return
	}
	if rec.ID >= s.nextID {
		s.nextID = rec.ID + 1
	}
	if _, exists := s.items[rec.ID]; exists {
		return
	}
	r := fromFileRecord(rec)
	if !r.Status.Valid() {
		r.Status = reminder.StatusPending
	}
	s.items[rec.ID] = r
}

func (s *fileStore) applyStatus(id int64, st reminder.Status) {
	r, ok := s.items[id]
	if !ok || !st.Terminal() || r.Status != reminder.StatusPending {
		return
	}
	r.Status = st
	s.items[id] = r
}

func toFileRecord(r reminder.Reminder) fileRecord {
	return fileRecord{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Message:   r.Message,
		TriggerAt: r.TriggerAt.UnixMilli(),
		CreatedAt: r.CreatedAt.UnixMilli(),
		Status:    string(r.Status),
	}
}

func fromFileRecord(rec fileRecord) reminder.Reminder {
	return reminder.Reminder{
		ID:        rec.ID,
		ChatID:    rec.ChatID,
		Message:   rec.Message,
		TriggerAt: time.UnixMilli(rec.TriggerAt).UTC(),
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
		Status:    reminder.Status(rec.Status),
	}
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
