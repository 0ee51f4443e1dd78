// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/authguard/internal/util"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultWindow is the observation window for pattern analysis.
	DefaultWindow = 15 * time.Minute

	// DefaultThreshold is the failed-login count that must be exceeded before
	// a pattern alert is raised.
	DefaultThreshold = 3

	// maxLineSize bounds a single encrypted line when reading the log back.
	maxLineSize = 4 * 1024 * 1024
)

// ErrClosed is returned by operations on a closed trail.
var ErrClosed = errors.New("audit trail closed")

// =============================================================================
// TRAIL
// =============================================================================

// Trail is the append-only, encrypted audit trail (NIST 800-53 AU-2, AU-9).
//
// Every appended event is kept in memory for analysis, written to disk as
// one independently decryptable line, mirrored to the operational logger and
// handed to the shipper. A single mutex serializes appends and log reads;
// callers holding other locks must acquire them before calling into the
// trail, never after.
type Trail struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	size   int64
	codec  Codec
	node   string
	nextID uint64
	events []Event
	closed bool

	redactors []Redactor
	logger    *slog.Logger
	mirror    bool
	shipper   *Shipper
	querier   Querier
	window    time.Duration
	threshold int
	now       func() time.Time

	watcher     *Watcher
	lockTimeout time.Duration

	decryptFailures atomic.Uint64
	writeFailures   atomic.Uint64
}

// Option configures a Trail.
type Option func(*Trail)

// WithNode sets the origin node recorded on every event.
func WithNode(node string) Option {
	return func(t *Trail) { t.node = node }
}

// WithLogger sets the operational logger used for diagnostics and mirroring.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMirror enables the plaintext mirror of every event to the logger.
func WithMirror(enabled bool) Option {
	return func(t *Trail) { t.mirror = enabled }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithWindow sets the observation window for pattern analysis.
func WithWindow(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithThreshold sets the failed-login count an alert must exceed.
func WithThreshold(n int) Option {
	return func(t *Trail) { t.threshold = n }
}

// WithRedactor adds a redactor applied to messages and detail values.
func WithRedactor(r Redactor) Option {
	return func(t *Trail) { t.redactors = append(t.redactors, r) }
}

// WithLockTimeout bounds the wait for the file lock on each append. An
// append that times out keeps the event in memory and returns the error.
func WithLockTimeout(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.lockTimeout = d
		}
	}
}

// WithShipper forwards every appended event to a central node.
func WithShipper(s *Shipper) Option {
	return func(t *Trail) { t.shipper = s }
}

// WithQuerier enables distributed pattern analysis.
func WithQuerier(q Querier) Option {
	return func(t *Trail) { t.querier = q }
}

// Open opens (creating if needed) the audit log at path and records an
// AUDIT_OPENED event. Event ids continue after the highest id this node has
// already written to the file.
func Open(path string, codec Codec, opts ...Option) (*Trail, error) {
	if codec == nil {
		return nil, errors.New("audit codec is required")
	}
	t := &Trail{
		path:        path,
		codec:       codec,
		redactors:   defaultRedactors(),
		logger:      slog.Default(),
		window:      DefaultWindow,
		threshold:   DefaultThreshold,
		now:         time.Now,
		lockTimeout: util.DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.node == "" {
		t.node = util.NewNodeID()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if err := t.resumeIDs(); err != nil {
		return nil, err
	}
	if err := t.openFileLocked(); err != nil {
		return nil, err
	}

	if _, err := t.Append(LevelInfo, "Audit trail opened", WithAction(ActionAuditOpened),
		WithDetails(map[string]string{"path": path})); err != nil {
		t.file.Close()
		return nil, err
	}
	return t, nil
}

func (t *Trail) openFileLocked() error {
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	t.file = f
	t.size = info.Size()
	return nil
}

// resumeIDs scans an existing log for the highest id written by this node.
func (t *Trail) resumeIDs() error {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	defer f.Close()

	return scanLines(f, func(line string) {
		plain, err := t.codec.Decode(line)
		if err != nil {
			return
		}
		var ev Event
		if json.Unmarshal(plain, &ev) == nil && ev.Origin == t.node && ev.ID > t.nextID {
			t.nextID = ev.ID
		}
	})
}

func scanLines(f *os.File, fn func(line string)) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			fn(line)
		}
	}
	return scanner.Err()
}

// Node returns the origin node id.
func (t *Trail) Node() string {
	return t.node
}

// Path returns the audit log path.
func (t *Trail) Path() string {
	return t.path
}

// =============================================================================
// APPEND
// =============================================================================

// Append records an event. The event is always kept in memory and mirrored;
// a disk write failure is reported on stderr and returned alongside the
// event so the caller can decide whether to halt.
func (t *Trail) Append(level Level, message string, opts ...EventOption) (Event, error) {
	ev := Event{Level: level, Message: message}
	for _, opt := range opts {
		opt(&ev)
	}
	ev.Message = t.redact(ev.Message)
	for k, v := range ev.Details {
		ev.Details[k] = t.redact(v)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Event{}, ErrClosed
	}
	t.nextID++
	ev.ID = t.nextID
	ev.Timestamp = t.now()
	ev.Origin = t.node
	writeErr := t.persistLocked(ev)
	t.events = append(t.events, ev)
	t.mu.Unlock()

	t.mirrorEvent(ev)
	if t.shipper != nil {
		t.shipper.Enqueue(ev.clone())
	}

	if writeErr != nil {
		t.writeFailures.Add(1)
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: %v\n", writeErr)
		return ev.clone(), writeErr
	}
	return ev.clone(), nil
}

func (t *Trail) persistLocked(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line, err := t.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt audit event: %w", err)
	}
	size, err := util.AppendSync(t.file, []byte(line+"\n"), t.lockTimeout)
	if err != nil {
		return err
	}
	t.size = size
	return nil
}

func (t *Trail) redact(s string) string {
	for _, r := range t.redactors {
		s = r.Redact(s)
	}
	return s
}

func (t *Trail) mirrorEvent(ev Event) {
	if !t.mirror {
		return
	}
	attrs := []slog.Attr{
		slog.Uint64("audit_id", ev.ID),
		slog.String("node", ev.Origin),
	}
	if ev.Action != "" {
		attrs = append(attrs, slog.String("action", ev.Action))
	}
	if ev.Subject != "" {
		attrs = append(attrs, slog.String("user", ev.Subject))
	}
	for k, v := range ev.Details {
		attrs = append(attrs, slog.String(k, v))
	}
	t.logger.LogAttrs(context.Background(), slogLevel(ev.Level), ev.Message, attrs...)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelCritical:
		return slog.LevelError
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Events returns a copy of the events appended since the trail was opened.
func (t *Trail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	for i, ev := range t.events {
		out[i] = ev.clone()
	}
	return out
}

// GetCritical returns the CRITICAL events appended since the trail was opened.
func (t *Trail) GetCritical() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Event
	for _, ev := range t.events {
		if ev.Level == LevelCritical {
			out = append(out, ev.clone())
		}
	}
	return out
}

// LogView is the decrypted content of the on-disk log.
type LogView struct {
	// Lines holds one human-readable line per decrypted record.
	Lines []string
	// Events holds the records that parsed as structured events.
	Events []Event
	// Failures counts lines that could not be decrypted and were skipped.
	Failures int
}

// ViewLogs decrypts the on-disk log line by line. Corrupt lines are counted
// and skipped; they never abort the read.
func (t *Trail) ViewLogs() (*LogView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	view := &LogView{}
	err = scanLines(f, func(line string) {
		plain, err := t.codec.Decode(line)
		if err != nil {
			view.Failures++
			t.decryptFailures.Add(1)
			return
		}
		var ev Event
		if json.Unmarshal(plain, &ev) == nil && !ev.Timestamp.IsZero() {
			view.Events = append(view.Events, ev)
			view.Lines = append(view.Lines, ev.Line())
			return
		}
		view.Lines = append(view.Lines, string(plain))
	})
	if err != nil {
		return view, fmt.Errorf("failed to read audit log: %w", err)
	}
	return view, nil
}

// Stats reports trail counters.
type Stats struct {
	Events          int
	Critical        int
	DecryptFailures uint64
	WriteFailures   uint64
	LogSize         int64
}

// Stats returns current counters.
func (t *Trail) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		Events:          len(t.events),
		DecryptFailures: t.decryptFailures.Load(),
		WriteFailures:   t.writeFailures.Load(),
		LogSize:         t.size,
	}
	for _, ev := range t.events {
		if ev.Level == LevelCritical {
			s.Critical++
		}
	}
	return s
}

// DecryptFailures returns the number of lines skipped by ViewLogs so far.
func (t *Trail) DecryptFailures() uint64 {
	return t.decryptFailures.Load()
}

// =============================================================================
// FILE CHECKS
// =============================================================================

// checkFile compares the log on disk with what this trail has written. It
// returns a description when the file was truncated, extended, replaced or
// removed by someone else, and resynchronizes so a change is reported once.
func (t *Trail) checkFile() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", false
	}

	info, err := os.Stat(t.path)
	if err != nil {
		desc := fmt.Sprintf("audit log %s removed", t.path)
		t.reopenLocked()
		return desc, true
	}
	if open, err := t.file.Stat(); err == nil && !os.SameFile(info, open) {
		desc := fmt.Sprintf("audit log %s replaced", t.path)
		t.reopenLocked()
		return desc, true
	}

	size := info.Size()
	var desc string
	switch {
	case size < t.size:
		desc = fmt.Sprintf("audit log truncated from %d to %d bytes", t.size, size)
	case size > t.size:
		desc = fmt.Sprintf("audit log grew by %d bytes not written by this trail", size-t.size)
	default:
		return "", false
	}
	t.size = size
	return desc, true
}

func (t *Trail) reopenLocked() {
	t.file.Close()
	if err := t.openFileLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: %v\n", err)
	}
}

// Close stops the watcher, if any, and closes the log file. Further appends
// return ErrClosed.
func (t *Trail) Close() error {
	t.mu.Lock()
	w := t.watcher
	t.watcher = nil
	t.mu.Unlock()
	if w != nil {
		w.Close()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.file.Close()
}
