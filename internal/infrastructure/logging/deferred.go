package logging

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

const defaultDeferredLimit = 1000

type deferredLevel int

const (
	deferredDebug deferredLevel = iota
	deferredInfo
	deferredWarn
	deferredError
)

type deferredEntry struct {
	ctx    context.Context
	level  deferredLevel
	msg    string
	fields []interface{}
}

// Deferred holds log entries while the terminal is owned by the status view
// and replays them afterwards. When full, the oldest entries are dropped.
type Deferred struct {
	mu      sync.Mutex
	limit   int
	entries []deferredEntry
	fields  []interface{}
	root    *Deferred
}

// NewDeferred creates a deferred logger retaining at most limit entries.
func NewDeferred(limit int) *Deferred {
	if limit <= 0 {
		limit = defaultDeferredLimit
	}
	d := &Deferred{limit: limit}
	d.root = d
	return d
}

func (d *Deferred) Debug(ctx context.Context, msg string, fields ...interface{}) {
	d.add(ctx, deferredDebug, msg, fields)
}

func (d *Deferred) Info(ctx context.Context, msg string, fields ...interface{}) {
	d.add(ctx, deferredInfo, msg, fields)
}

func (d *Deferred) Warn(ctx context.Context, msg string, fields ...interface{}) {
	d.add(ctx, deferredWarn, msg, fields)
}

func (d *Deferred) Error(ctx context.Context, msg string, fields ...interface{}) {
	d.add(ctx, deferredError, msg, fields)
}

// With returns a child sharing the same buffer.
func (d *Deferred) With(fields ...interface{}) ports.Logger {
	next := append(append([]interface{}{}, d.fields...), fields...)
	return &Deferred{fields: next, root: d.root}
}

// Len returns the number of retained entries.
func (d *Deferred) Len() int {
	root := d.root
	root.mu.Lock()
	defer root.mu.Unlock()
	return len(root.entries)
}

func (d *Deferred) add(ctx context.Context, level deferredLevel, msg string, fields []interface{}) {
	root := d.root
	entry := deferredEntry{
		ctx:    ctx,
		level:  level,
		msg:    msg,
		fields: append(append([]interface{}{}, d.fields...), fields...),
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	if len(root.entries) == root.limit {
		copy(root.entries, root.entries[1:])
		root.entries[len(root.entries)-1] = entry
		return
	}
	root.entries = append(root.entries, entry)
}

// Flush replays retained entries into delegate in order and empties the buffer.
func (d *Deferred) Flush(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	root := d.root
	root.mu.Lock()
	entries := root.entries
	root.entries = nil
	root.mu.Unlock()

	for _, entry := range entries {
		switch entry.level {
		case deferredDebug:
			delegate.Debug(entry.ctx, entry.msg, entry.fields...)
		case deferredWarn:
			delegate.Warn(entry.ctx, entry.msg, entry.fields...)
		case deferredError:
			delegate.Error(entry.ctx, entry.msg, entry.fields...)
		default:
			delegate.Info(entry.ctx, entry.msg, entry.fields...)
		}
	}
}

var _ ports.Logger = (*Deferred)(nil)
