// Package policymod gates appends with per-stream CEL policies from the
// ledger profile. A policy expression sees the decoded payload plus the
// stream and status of the pending entry, and must evaluate to true for
// the append to proceed. Evaluation failures fail closed.
package policymod

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/onoal/nucleus/pkg/config"
	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/engine"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
)

const moduleVersion = "1.0.0"

// Module holds the shared CEL environment and one cached program per
// policy expression.
type Module struct {
	streams  []config.StreamProfile
	policies map[string]string

	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func New(streams []config.StreamProfile) *Module {
	return &Module{streams: streams}
}

func (m *Module) Name() string    { return "policy" }
func (m *Module) Version() string { return moduleVersion }

// Load builds the CEL environment and compiles every declared policy so
// malformed expressions surface at startup, not on the first append.
func (m *Module) Load(ctx context.Context) error {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.DynType),
		cel.Variable("stream", cel.StringType),
		cel.Variable("status", cel.StringType),
	)
	if err != nil {
		return &ledger.ConfigurationError{Msg: fmt.Sprintf("policy environment: %v", err)}
	}
	m.env = env
	m.prgCache = make(map[string]cel.Program)
	m.policies = make(map[string]string)
	for _, sp := range m.streams {
		if sp.Policy == "" {
			continue
		}
		if _, err := m.compile(sp.Policy); err != nil {
			return &ledger.ConfigurationError{Msg: fmt.Sprintf("stream %q: %v", sp.Stream, err)}
		}
		m.policies[sp.Stream] = sp.Policy
	}
	return nil
}

func (m *Module) RegisterServices(c *container.ServiceContainer) error { return nil }

func (m *Module) RegisterHooks(p *hooks.Pipeline) {
	p.RegisterBefore(hooks.OpAppend, "policy.enforce", m.beforeAppend)
}

func (m *Module) Start(ctx context.Context) error { return nil }
func (m *Module) Stop(ctx context.Context) error  { return nil }

func (m *Module) beforeAppend(ctx context.Context, input any) hooks.Decision {
	req, ok := input.(*engine.AppendRequest)
	if !ok {
		return hooks.Continue(nil)
	}
	expr, ok := m.policies[req.Stream]
	if !ok {
		return hooks.Continue(nil)
	}

	var payload any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload is not valid JSON: %v", req.Stream, err)})
	}
	status := string(req.Status)
	if status == "" {
		status = string(ledger.StatusActive)
	}
	allowed, err := m.evaluate(expr, map[string]any{
		"payload": payload,
		"stream":  req.Stream,
		"status":  status,
	})
	if err != nil {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: policy evaluation failed: %v", req.Stream, err)})
	}
	if !allowed {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: append denied by policy", req.Stream)})
	}
	return hooks.Continue(nil)
}

func (m *Module) compile(expr string) (cel.Program, error) {
	m.mu.RLock()
	prg, hit := m.prgCache[expr]
	m.mu.RUnlock()
	if hit {
		return prg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prg, hit = m.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy compile: %w", issues.Err())
	}
	prg, err := m.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("policy program: %w", err)
	}
	m.prgCache[expr] = prg
	return prg, nil
}

func (m *Module) evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := m.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("policy eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy result is not a boolean")
	}
	return val, nil
}
