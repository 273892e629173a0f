// Package sessions implements the on-disk JSONL session log described in
// §4.2: one append-only file per session, lazy-flushed until the first
// assistant message, with pure branching and projection layered on top.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/forgehq/engine/pkg/models"
)

// encodeCwd replaces path separators with "-" flanked by "--", per §4.2.1.
// The encoding is lossy but deterministic and is used only as a directory
// key, never reversed.
func encodeCwd(cwd string) string {
	parts := strings.FieldsFunc(cwd, func(r rune) bool { return r == '/' || r == '\\' })
	return "--" + strings.Join(parts, "-") + "--"
}

// Store roots every session under <agentDir>/sessions/<encoded-cwd>/ and
// enforces "one SessionStore owns one session file" (§5) via a per-path
// in-process lock.
type Store struct {
	agentDir string
	locker   *SessionLocker

	mu      sync.Mutex
	watched map[string]*recentCache
}

type recentCache struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	path    string
	mtime   time.Time
	valid   bool
}

// NewStore constructs a Store rooted at agentDir.
func NewStore(agentDir string) *Store {
	return &Store{
		agentDir: agentDir,
		locker:   NewSessionLocker(5 * time.Second),
		watched:  make(map[string]*recentCache),
	}
}

func (s *Store) dir(cwd string) string {
	return filepath.Join(s.agentDir, "sessions", encodeCwd(cwd))
}

// Session is one open session file. Writes are lazy-flushed: nothing
// touches disk until the first assistant message entry is appended, so a
// session the user never turns never leaves a file behind.
type Session struct {
	store *Store

	path string
	id   string
	cwd  string

	mu       sync.Mutex
	entries  []models.SessionEntry
	flushed  bool
	file     *os.File
}

// Path returns the session's on-disk file path (valid even before the file
// exists, since lazy flush may not have created it yet).
func (sess *Session) Path() string { return sess.path }

// ID returns the session's header id.
func (sess *Session) ID() string { return sess.id }

// Entries returns a snapshot of the session's entries.
func (sess *Session) Entries() []models.SessionEntry {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]models.SessionEntry, len(sess.entries))
	copy(out, sess.entries)
	return out
}

// Create starts a fresh session for cwd. The header entry is buffered
// in-memory; no file is created until the first assistant message is
// appended (§4.2.2).
func (s *Store) Create(cwd string) (*Session, error) {
	id := uuid.NewString()
	filename := fmt.Sprintf("%d_%s.jsonl", time.Now().UnixMilli(), id)
	path := filepath.Join(s.dir(cwd), filename)

	if err := s.locker.Lock(path); err != nil {
		return nil, fmt.Errorf("sessions: acquire lock for %s: %w", path, err)
	}

	return &Session{
		store:   s,
		path:    path,
		id:      id,
		cwd:     cwd,
		entries: []models.SessionEntry{models.NewHeaderEntry(id, cwd, "")},
	}, nil
}

// ContinueRecent opens the most recently modified .jsonl file under cwd's
// session directory, falling back to Create when none exists (§4.2.2).
func (s *Store) ContinueRecent(cwd string) (*Session, error) {
	s.watchDir(cwd)

	path, err := s.mostRecentSessionFile(cwd)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return s.Create(cwd)
	}
	return s.Open(path)
}

func (s *Store) mostRecentSessionFile(cwd string) (string, error) {
	dir := s.dir(cwd)

	s.mu.Lock()
	cache := s.watched[dir]
	s.mu.Unlock()

	if cache != nil {
		cache.mu.Lock()
		if cache.valid {
			path := cache.path
			cache.mu.Unlock()
			return path, nil
		}
		cache.mu.Unlock()
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sessions: read dir %s: %w", dir, err)
	}

	var best string
	var bestMTime time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMTime) {
			best = e.Name()
			bestMTime = info.ModTime()
		}
	}

	var path string
	if best != "" {
		path = filepath.Join(dir, best)
	}

	if cache != nil {
		cache.mu.Lock()
		cache.path = path
		cache.mtime = bestMTime
		cache.valid = true
		cache.mu.Unlock()
	}

	return path, nil
}

// Open reads the entire file at path into memory, skipping malformed
// trailing lines (§4.2.1: crash recovery discards a partial last line),
// and adopts the header's id (§4.2.2).
func (s *Store) Open(path string) (*Session, error) {
	if err := s.locker.Lock(path); err != nil {
		return nil, fmt.Errorf("sessions: acquire lock for %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		s.locker.Unlock(path)
		return nil, fmt.Errorf("sessions: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []models.SessionEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var entry models.SessionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Malformed line: either a torn final write after a crash, or
			// corruption. Readers tolerate it by skipping (§4.2.1, §6).
			continue
		}
		entries = append(entries, entry)
	}

	id := ""
	cwd := ""
	if len(entries) > 0 && entries[0].Type == models.EntrySessionHeader && entries[0].Header != nil {
		id = entries[0].Header.ID
		cwd = entries[0].Header.Cwd
	}

	return &Session{
		store:   s,
		path:    path,
		id:      id,
		cwd:     cwd,
		entries: entries,
		flushed: true,
	}, nil
}

// Append adds entry to the session. Before the first assistant message,
// entries only accumulate in memory; the first assistant message entry
// triggers an atomic flush of the full buffered history, and every entry
// after that is appended line-by-line (§4.2.2).
func (sess *Session) Append(entry models.SessionEntry) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.entries = append(sess.entries, entry)

	if sess.flushed {
		return sess.appendLineLocked(entry)
	}

	if entry.Type == models.EntryMessage && entry.Message != nil && entry.Message.Role == models.RoleAssistant {
		return sess.flushLocked()
	}
	return nil
}

func (sess *Session) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(sess.path), 0o755); err != nil {
		return fmt.Errorf("sessions: mkdir for %s: %w", sess.path, err)
	}
	f, err := os.OpenFile(sess.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: create %s: %w", sess.path, err)
	}
	w := bufio.NewWriter(f)
	for _, e := range sess.entries {
		b, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return fmt.Errorf("sessions: marshal entry: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			f.Close()
			return fmt.Errorf("sessions: write %s: %w", sess.path, err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			f.Close()
			return fmt.Errorf("sessions: write %s: %w", sess.path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("sessions: flush %s: %w", sess.path, err)
	}
	sess.file = f
	sess.flushed = true
	return nil
}

func (sess *Session) appendLineLocked(entry models.SessionEntry) error {
	if sess.file == nil {
		f, err := os.OpenFile(sess.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("sessions: reopen %s: %w", sess.path, err)
		}
		sess.file = f
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("sessions: marshal entry: %w", err)
	}
	b = append(b, '\n')
	if _, err := sess.file.Write(b); err != nil {
		return fmt.Errorf("sessions: append %s: %w", sess.path, err)
	}
	return nil
}

// Close releases the session's file handle and its store-wide lock. A
// Session MUST NOT be used after Close.
func (sess *Session) Close() error {
	sess.mu.Lock()
	var err error
	if sess.file != nil {
		err = sess.file.Close()
		sess.file = nil
	}
	sess.mu.Unlock()

	sess.store.locker.Unlock(sess.path)
	return err
}

// watchDir starts (once per directory) an fsnotify watcher whose only
// effect is invalidating ContinueRecent's mtime cache for that directory —
// it never drives store behavior directly (§4.2.2).
func (s *Store) watchDir(cwd string) {
	dir := s.dir(cwd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[dir]; ok {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return
	}

	cache := &recentCache{watcher: watcher}
	s.watched[dir] = cache

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				cache.mu.Lock()
				cache.valid = false
				cache.mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}
