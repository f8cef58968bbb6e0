package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority of a request. Lower values are serviced first.
type Priority int

const (
	Interactive Priority = 1
	Feature     Priority = 2
	Background  Priority = 3
)

func (p Priority) Valid() bool {
	return p >= Interactive && p <= Background
}

func (p Priority) String() string {
	switch p {
	case Interactive:
		return "interactive"
	case Feature:
		return "feature"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Operation is one upstream call. It must honour ctx, which carries the
// per-call timeout.
type Operation func(ctx context.Context) (any, error)

type result struct {
	val any
	err error
}

type request struct {
	id       uuid.UUID
	priority Priority
	seq      int64
	op       Operation
	timeout  time.Duration
	ctx      context.Context

	// attempts counts rate-limit requeues, retries counts transient ones.
	attempts int
	retries  int

	done chan result
}

func (r *request) deliver(val any, err error) {
	select {
	case r.done <- result{val: val, err: err}:
	default:
	}
}

type priorityKey struct{}

// WithPriority returns a context whose scheduled calls use p.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority stored in ctx, or def.
func PriorityFrom(ctx context.Context, def Priority) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok && p.Valid() {
		return p
	}
	return def
}
