// Package assetsmod guards the assets stream. Every asset entry names
// its owner via owner_oid, and transfer entries must also name the
// receiving party.
package assetsmod

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/engine"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
)

const (
	moduleVersion = "1.0.0"

	// DefaultStream is the stream this module guards when none is
	// configured.
	DefaultStream = "assets"
)

type Module struct {
	stream string
}

// New configures the module for the given stream; empty means
// DefaultStream.
func New(stream string) *Module {
	if stream == "" {
		stream = DefaultStream
	}
	return &Module{stream: stream}
}

func (m *Module) Name() string    { return "assets" }
func (m *Module) Version() string { return moduleVersion }

func (m *Module) Load(ctx context.Context) error                       { return nil }
func (m *Module) RegisterServices(c *container.ServiceContainer) error { return nil }

func (m *Module) RegisterHooks(p *hooks.Pipeline) {
	p.RegisterBefore(hooks.OpAppend, "assets.require_owner", m.beforeAppend)
}

func (m *Module) Start(ctx context.Context) error { return nil }
func (m *Module) Stop(ctx context.Context) error  { return nil }

// FilterByOwner narrows query results to assets owned by ownerOID. Entries
// whose payload cannot be decoded are dropped.
func FilterByOwner(entries []ledger.Entry, ownerOID string) []ledger.Entry {
	out := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		var payload map[string]any
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			continue
		}
		if owner, _ := payload["owner_oid"].(string); owner == ownerOID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Module) beforeAppend(ctx context.Context, input any) hooks.Decision {
	req, ok := input.(*engine.AppendRequest)
	if !ok || req.Stream != m.stream {
		return hooks.Continue(nil)
	}
	var payload map[string]any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload must be a JSON object: %v", m.stream, err)})
	}
	owner, ok := payload["owner_oid"].(string)
	if !ok || owner == "" {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload missing required field %q", m.stream, "owner_oid")})
	}
	// A transfer must name both sides so ownership can be replayed from
	// the chain alone.
	if to, present := payload["transfer_to"]; present {
		recipient, ok := to.(string)
		if !ok || recipient == "" {
			return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: transfer_to must be a non-empty oid", m.stream)})
		}
		if recipient == owner {
			return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: transfer_to must differ from owner_oid", m.stream)})
		}
	}
	return hooks.Continue(nil)
}
