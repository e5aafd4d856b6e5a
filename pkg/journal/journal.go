package journal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/cmtbridge/pkg/buffer"
	"github.com/haivivi/cmtbridge/pkg/cmtspeech"
)

const batchSize = 64

var (
	prefixJournal = Key{"cmtspeech", "journal"}
	prefixSession = Key{"cmtspeech", "session"}
)

// Session describes one journal session, normally one bridge run.
type Session struct {
	ID      string    `json:"id" yaml:"id" msgpack:"id"`
	Started time.Time `json:"started" yaml:"started" msgpack:"started"`
	Label   string    `json:"label,omitempty" yaml:"label,omitempty" msgpack:"label,omitempty"`
}

// RecordEntry is a stored record with its position in the session.
type RecordEntry struct {
	Seq    uint64           `json:"seq" yaml:"seq"`
	Record cmtspeech.Record `json:"record" yaml:"record"`
}

// Options configures a Journal.
type Options struct {
	// Label is stored with the session.
	Label string

	Logger cmtspeech.Logger
}

// Journal writes connection records to a Store. It implements
// cmtspeech.Recorder; Record never blocks, records are written by a
// background goroutine in batches.
type Journal struct {
	store   Store
	session Session
	logger  cmtspeech.Logger

	seq     atomic.Uint64
	pending *buffer.Buffer[RecordEntry]
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	written atomic.Uint64
	failed  atomic.Uint64
}

// Open starts a new session in store.
func Open(ctx context.Context, store Store, opts *Options) (*Journal, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = cmtspeech.SlogLogger(slog.Default())
	}
	s := Session{ID: uuid.NewString(), Started: time.Now(), Label: opts.Label}
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("journal: encode session: %w", err)
	}
	if err := store.Set(ctx, sessionKey(s.ID), data); err != nil {
		return nil, fmt.Errorf("journal: store session: %w", err)
	}
	j := &Journal{
		store:   store,
		session: s,
		logger:  logger,
		pending: buffer.N[RecordEntry](batchSize),
		done:    make(chan struct{}),
	}
	go j.writeLoop()
	return j, nil
}

// Session returns the session being written.
func (j *Journal) Session() Session {
	return j.session
}

// Record implements cmtspeech.Recorder. Records after Close are dropped.
func (j *Journal) Record(rec cmtspeech.Record) {
	e := RecordEntry{Seq: j.seq.Add(1), Record: rec}
	if err := j.pending.Add(e); err != nil {
		j.failed.Add(1)
	}
}

// Written returns the number of records stored and the number lost.
func (j *Journal) Written() (stored, lost uint64) {
	return j.written.Load(), j.failed.Load()
}

// Close flushes pending records and stops the writer. The store is not
// closed.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.pending.CloseWrite()
		<-j.done
	})
	return j.closeErr
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	batch := make([]Entry, 0, batchSize)
	for {
		e, err := j.pending.Next()
		if err != nil {
			return
		}
		batch = append(batch[:0], j.encode(e)...)
		for len(batch) < batchSize {
			e, ok := j.pending.TryNext()
			if !ok {
				break
			}
			batch = append(batch, j.encode(e)...)
		}
		if len(batch) == 0 {
			continue
		}
		if err := j.store.BatchSet(context.Background(), batch); err != nil {
			j.failed.Add(uint64(len(batch)))
			j.closeErr = err
			j.logger.ErrorPrintf("journal: write %d records: %v", len(batch), err)
			continue
		}
		j.written.Add(uint64(len(batch)))
	}
}

func (j *Journal) encode(e RecordEntry) []Entry {
	data, err := msgpack.Marshal(&e.Record)
	if err != nil {
		j.failed.Add(1)
		j.logger.ErrorPrintf("journal: encode record %d: %v", e.Seq, err)
		return nil
	}
	return []Entry{{Key: recordKey(j.session.ID, e.Seq), Value: data}}
}

func sessionKey(id string) Key {
	return Key{prefixSession[0], prefixSession[1], id}
}

// recordKey zero-pads seq so that keys sort in write order.
func recordKey(session string, seq uint64) Key {
	return Key{prefixJournal[0], prefixJournal[1], session, fmt.Sprintf("%016x", seq)}
}

// Sessions lists the sessions in store, ordered by ID.
func Sessions(ctx context.Context, store Store) iter.Seq2[Session, error] {
	return func(yield func(Session, error) bool) {
		for e, err := range store.List(ctx, prefixSession) {
			if err != nil {
				yield(Session{}, err)
				return
			}
			var s Session
			if err := msgpack.Unmarshal(e.Value, &s); err != nil {
				if !yield(Session{}, fmt.Errorf("journal: decode session %s: %w", e.Key, err)) {
					return
				}
				continue
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Records lists the records of a session in write order.
func Records(ctx context.Context, store Store, session string) iter.Seq2[RecordEntry, error] {
	prefix := Key{prefixJournal[0], prefixJournal[1], session}
	return func(yield func(RecordEntry, error) bool) {
		for e, err := range store.List(ctx, prefix) {
			if err != nil {
				yield(RecordEntry{}, err)
				return
			}
			var out RecordEntry
			seq, err := strconv.ParseUint(e.Key[len(e.Key)-1], 16, 64)
			if err == nil {
				out.Seq = seq
				err = msgpack.Unmarshal(e.Value, &out.Record)
			}
			if err != nil {
				if !yield(RecordEntry{}, fmt.Errorf("journal: decode %s: %w", e.Key, err)) {
					return
				}
				continue
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

// Delete removes a session and all its records.
func Delete(ctx context.Context, store Store, session string) error {
	keys := []Key{sessionKey(session)}
	for e, err := range store.List(ctx, Key{prefixJournal[0], prefixJournal[1], session}) {
		if err != nil {
			return err
		}
		keys = append(keys, e.Key)
	}
	if _, err := store.Get(ctx, keys[0]); errors.Is(err, ErrNotFound) {
		return fmt.Errorf("journal: session %s: %w", session, ErrNotFound)
	}
	return store.BatchDelete(ctx, keys)
}
