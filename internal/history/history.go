// Package history records finished and in-flight runs in the store so they
// can be listed and replayed after the live session has moved on.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mtzanidakis/teamfeed/internal/event"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/store"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"github.com/mtzanidakis/teamfeed/internal/vault"
)

// ErrSealed is returned when a stored transcript is sealed and the recorder
// has no vault to open it.
var ErrSealed = errors.New("history: transcript is sealed")

// Record is one stored run with its transcript.
type Record struct {
	Run     store.Run          `json:"run"`
	Entries []transcript.Entry `json:"entries"`
}

type entryMetadata struct {
	Subtasks    []event.Subtask    `json:"subtasks,omitempty"`
	CurrentTask *event.CurrentTask `json:"current_task,omitempty"`
}

// Recorder is a session observer. Snapshots are coalesced per run and
// written by Run, so a slow disk never holds up the stream reader.
type Recorder struct {
	store *store.Store
	vault *vault.Vault

	mu      sync.Mutex
	ids     map[uint64]string
	pending map[uint64]session.Snapshot
	last    session.Snapshot
	wake    chan struct{}

	writeMu sync.Mutex
}

// New returns a recorder writing to s. Transcript text is sealed when v is
// not nil.
func New(s *store.Store, v *vault.Vault) *Recorder {
	return &Recorder{
		store:   s,
		vault:   v,
		ids:     make(map[uint64]string),
		pending: make(map[uint64]session.Snapshot),
		wake:    make(chan struct{}, 1),
	}
}

func (r *Recorder) OnSnapshot(s session.Snapshot) {
	if s.RunID() == 0 {
		return
	}

	r.mu.Lock()
	prev := r.last
	if prev.RunID() != 0 && prev.RunID() != s.RunID() && prev.Outcome == session.OutcomeNone {
		// A new run replaced prev before it published an outcome.
		prev.Session.Running = false
		prev.Session.MainSlot = transcript.NoSlot
		prev.Outcome = session.OutcomeCancelled
		r.pending[prev.RunID()] = prev
	}
	if _, ok := r.ids[s.RunID()]; !ok {
		r.ids[s.RunID()] = uuid.NewString()
	}
	r.pending[s.RunID()] = s
	r.last = s
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run writes pending snapshots until ctx is cancelled, then flushes once
// more.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				slog.Error("history flush failed", "error", err)
			}
			return
		case <-r.wake:
			if err := r.Flush(); err != nil {
				slog.Error("history flush failed", "error", err)
			}
		}
	}
}

// Flush writes every pending snapshot.
func (r *Recorder) Flush() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]session.Snapshot)
	ids := make(map[uint64]string, len(pending))
	for seq := range pending {
		ids[seq] = r.ids[seq]
	}
	r.mu.Unlock()

	var errs []error
	for seq, snap := range pending {
		if err := r.persist(ids[seq], snap); err != nil {
			errs = append(errs, fmt.Errorf("run %d: %w", seq, err))
		}
	}
	return errors.Join(errs...)
}

// StoredID returns the store id of live run seq, if it has been seen.
func (r *Recorder) StoredID(seq uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[seq]
	return id, ok
}

func (r *Recorder) persist(id string, snap session.Snapshot) error {
	run := &store.Run{
		ID:     id,
		Seq:    snap.RunID(),
		Task:   snap.Session.Task,
		Source: snap.Source,
		Status: status(snap),
	}
	if snap.Err != nil {
		run.Error = snap.Err.Error()
	}
	if err := r.store.SaveRun(run); err != nil {
		return err
	}

	entries := make([]store.Entry, 0, len(snap.Session.Entries))
	for _, e := range snap.Session.Entries {
		se, err := r.encode(e)
		if err != nil {
			return err
		}
		entries = append(entries, se)
	}
	return r.store.ReplaceEntries(id, entries)
}

func (r *Recorder) encode(e transcript.Entry) (store.Entry, error) {
	se := store.Entry{
		Kind:      string(e.Kind),
		Agent:     e.AgentName,
		Content:   e.Text,
		Timestamp: e.Timestamp,
	}
	if len(e.Subtasks) > 0 || e.CurrentTask != nil {
		md, err := json.Marshal(entryMetadata{Subtasks: e.Subtasks, CurrentTask: e.CurrentTask})
		if err != nil {
			return se, fmt.Errorf("marshal metadata: %w", err)
		}
		se.Metadata = md
	}
	if r.vault != nil {
		sealed, err := r.vault.Seal(e.Text)
		if err != nil {
			return se, fmt.Errorf("seal entry: %w", err)
		}
		se.Content = sealed
		se.Sealed = true
	}
	return se, nil
}

func status(s session.Snapshot) string {
	switch s.Outcome {
	case session.OutcomeCompleted:
		return store.RunCompleted
	case session.OutcomeCancelled:
		return store.RunCancelled
	case session.OutcomeFailed:
		return store.RunFailed
	default:
		return store.RunRunning
	}
}

// List returns the most recent runs, newest first.
func (r *Recorder) List(limit int) ([]store.Run, error) {
	return r.store.ListRuns(limit)
}

// Get loads run id and its transcript. It returns nil when the run does not
// exist.
func (r *Recorder) Get(id string) (*Record, error) {
	run, err := r.store.GetRun(id)
	if err != nil || run == nil {
		return nil, err
	}
	stored, err := r.store.GetEntries(id)
	if err != nil {
		return nil, err
	}

	rec := &Record{Run: *run, Entries: make([]transcript.Entry, 0, len(stored))}
	for _, se := range stored {
		e, err := r.decode(se)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", se.Position, err)
		}
		rec.Entries = append(rec.Entries, e)
	}
	return rec, nil
}

func (r *Recorder) decode(se store.Entry) (transcript.Entry, error) {
	e := transcript.Entry{
		Kind:      event.Kind(se.Kind),
		AgentName: se.Agent,
		Text:      se.Content,
		Timestamp: se.Timestamp,
	}
	if se.Sealed {
		if r.vault == nil {
			return e, ErrSealed
		}
		text, err := r.vault.Open(se.Content)
		if err != nil {
			return e, err
		}
		e.Text = text
	}
	if len(se.Metadata) > 0 {
		var md entryMetadata
		if err := json.Unmarshal(se.Metadata, &md); err != nil {
			return e, fmt.Errorf("unmarshal metadata: %w", err)
		}
		e.Subtasks = md.Subtasks
		e.CurrentTask = md.CurrentTask
	}
	return e, nil
}

// Interrupted fails runs a previous process left running.
func (r *Recorder) Interrupted() (int64, error) {
	return r.store.MarkInterruptedRuns()
}
