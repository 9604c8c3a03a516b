// Package hooks implements the interception pipeline around ledger
// operations. Modules register ordered before/after hooks per operation;
// before-hooks may rewrite input, short-circuit, or abort, after-hooks may
// replace the result but can never fail the call.
package hooks

import (
	"context"
	"log/slog"
	"sync"
)

// Operation identifies an interceptable ledger call.
type Operation string

const (
	OpAppend      Operation = "append"
	OpGet         Operation = "get"
	OpQuery       Operation = "query"
	OpVerifyChain Operation = "verify_chain"
)

type decisionKind int

const (
	kindContinue decisionKind = iota
	kindShortCircuit
	kindAbort
)

// Decision is the outcome of a before-hook. Exactly one of the three
// constructors produces it.
type Decision struct {
	kind   decisionKind
	input  any
	result any
	err    error
}

// Continue proceeds to the next hook. A non-nil input replaces the
// effective input for the rest of the pipeline and the core operation.
func Continue(input any) Decision {
	return Decision{kind: kindContinue, input: input}
}

// ShortCircuit skips the remaining hooks and the core operation entirely,
// making result the final result (after-hooks still run).
func ShortCircuit(result any) Decision {
	return Decision{kind: kindShortCircuit, result: result}
}

// Abort stops the operation with err. Fatal on the append path; on read
// paths the failing hook is logged and skipped.
func Abort(err error) Decision {
	return Decision{kind: kindAbort, err: err}
}

// BeforeHook inspects or rewrites the operation input.
type BeforeHook func(ctx context.Context, input any) Decision

// AfterHook receives the result and may return a replacement. An error is
// logged and ignored.
type AfterHook func(ctx context.Context, input, result any) (any, error)

type namedBefore struct {
	name string
	fn   BeforeHook
}

type namedAfter struct {
	name string
	fn   AfterHook
}

// Pipeline holds the ordered hook sets for one ledger instance.
type Pipeline struct {
	mu     sync.RWMutex
	before map[Operation][]namedBefore
	after  map[Operation][]namedAfter
	logger *slog.Logger
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		before: make(map[Operation][]namedBefore),
		after:  make(map[Operation][]namedAfter),
		logger: logger,
	}
}

// RegisterBefore appends a before-hook for op. Dispatch follows
// registration order.
func (p *Pipeline) RegisterBefore(op Operation, name string, fn BeforeHook) {
	p.mu.Lock()
	p.before[op] = append(p.before[op], namedBefore{name: name, fn: fn})
	p.mu.Unlock()
}

// RegisterAfter appends an after-hook for op.
func (p *Pipeline) RegisterAfter(op Operation, name string, fn AfterHook) {
	p.mu.Lock()
	p.after[op] = append(p.after[op], namedAfter{name: name, fn: fn})
	p.mu.Unlock()
}

// BeforeOutcome is the aggregate of a before-hook run.
type BeforeOutcome struct {
	Input          any
	ShortCircuited bool
	Result         any
}

// RunBefore dispatches all before-hooks for op in order. Abort decisions
// are fatal only for append; read-path aborts are logged and skipped since
// a misbehaving plugin must not take reads down.
func (p *Pipeline) RunBefore(ctx context.Context, op Operation, input any) (BeforeOutcome, error) {
	p.mu.RLock()
	hooks := p.before[op]
	p.mu.RUnlock()

	out := BeforeOutcome{Input: input}
	for _, h := range hooks {
		d := h.fn(ctx, out.Input)
		switch d.kind {
		case kindContinue:
			if d.input != nil {
				out.Input = d.input
			}
		case kindShortCircuit:
			out.ShortCircuited = true
			out.Result = d.result
			return out, nil
		case kindAbort:
			if op == OpAppend {
				return out, d.err
			}
			p.logger.Warn("before hook failed, skipping",
				"operation", string(op), "hook", h.name, "error", d.err)
		}
	}
	return out, nil
}

// RunAfter dispatches all after-hooks for op in order. Each hook may
// replace the result; a failing hook is logged and its replacement ignored.
func (p *Pipeline) RunAfter(ctx context.Context, op Operation, input, result any) any {
	p.mu.RLock()
	hooks := p.after[op]
	p.mu.RUnlock()

	for _, h := range hooks {
		replaced, err := h.fn(ctx, input, result)
		if err != nil {
			p.logger.Warn("after hook failed, ignoring",
				"operation", string(op), "hook", h.name, "error", err)
			continue
		}
		if replaced != nil {
			result = replaced
		}
	}
	return result
}
