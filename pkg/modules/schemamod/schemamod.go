// Package schemamod validates append payloads against per-stream JSON
// Schemas declared in the ledger profile. Streams without a schema are
// not touched.
package schemamod

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/onoal/nucleus/pkg/config"
	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/engine"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
)

const moduleVersion = "1.0.0"

// Module compiles the stream schemas once at load time and rejects
// appends whose payload does not validate.
type Module struct {
	streams  []config.StreamProfile
	compiled map[string]*jsonschema.Schema
}

func New(streams []config.StreamProfile) *Module {
	return &Module{streams: streams}
}

func (m *Module) Name() string    { return "schema" }
func (m *Module) Version() string { return moduleVersion }

// Load compiles every declared schema. A schema that does not compile is
// a configuration error and aborts ledger startup.
func (m *Module) Load(ctx context.Context) error {
	m.compiled = make(map[string]*jsonschema.Schema)
	for _, sp := range m.streams {
		if len(sp.Schema) == 0 {
			continue
		}
		raw, err := json.Marshal(sp.Schema)
		if err != nil {
			return &ledger.ConfigurationError{Msg: fmt.Sprintf("stream %q: schema not serializable: %v", sp.Stream, err)}
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://nucleus.onoal.local/streams/%s.schema.json", sp.Stream)
		if err := c.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
			return &ledger.ConfigurationError{Msg: fmt.Sprintf("stream %q: schema load failed: %v", sp.Stream, err)}
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return &ledger.ConfigurationError{Msg: fmt.Sprintf("stream %q: schema compile failed: %v", sp.Stream, err)}
		}
		m.compiled[sp.Stream] = compiled
	}
	return nil
}

func (m *Module) RegisterServices(c *container.ServiceContainer) error { return nil }

func (m *Module) RegisterHooks(p *hooks.Pipeline) {
	p.RegisterBefore(hooks.OpAppend, "schema.validate", m.beforeAppend)
}

func (m *Module) Start(ctx context.Context) error { return nil }
func (m *Module) Stop(ctx context.Context) error  { return nil }

func (m *Module) beforeAppend(ctx context.Context, input any) hooks.Decision {
	req, ok := input.(*engine.AppendRequest)
	if !ok {
		return hooks.Continue(nil)
	}
	schema, ok := m.compiled[req.Stream]
	if !ok {
		return hooks.Continue(nil)
	}
	var doc any
	if err := json.Unmarshal(req.Payload, &doc); err != nil {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload is not valid JSON: %v", req.Stream, err)})
	}
	if err := schema.Validate(doc); err != nil {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload schema validation failed: %v", req.Stream, err)})
	}
	return hooks.Continue(nil)
}
