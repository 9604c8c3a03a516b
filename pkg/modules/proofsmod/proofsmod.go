// Package proofsmod manages the proofs stream: entries that attest a fact
// about a subject on behalf of an issuer. Payloads must carry subject_oid
// and issuer_oid, and the module publishes a prooftoken issuer so proofs
// can be exported as signed JWTs.
package proofsmod

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/crypto"
	"github.com/onoal/nucleus/pkg/engine"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/prooftoken"
)

const (
	moduleVersion = "1.0.0"

	// DefaultStream is the stream this module guards when none is
	// configured.
	DefaultStream = "proofs"

	// IssuerService is the container name of the published token issuer.
	IssuerService = "prooftoken.issuer"
)

// Config configures the proofs module.
type Config struct {
	// Stream overrides DefaultStream.
	Stream string
	// LedgerName becomes the iss claim of exported proof tokens.
	LedgerName string
	// TokenTTL overrides prooftoken.DefaultTTL.
	TokenTTL time.Duration
}

type Module struct {
	cfg    Config
	issuer *prooftoken.Issuer
}

func New(cfg Config) *Module {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	return &Module{cfg: cfg}
}

func (m *Module) Name() string    { return "proofs" }
func (m *Module) Version() string { return moduleVersion }

func (m *Module) Load(ctx context.Context) error {
	if m.cfg.LedgerName == "" {
		return &ledger.ConfigurationError{Msg: "proofs module requires a ledger name"}
	}
	return nil
}

// RegisterServices builds the token issuer from the ledger signer and
// publishes it for other modules and callers.
func (m *Module) RegisterServices(c *container.ServiceContainer) error {
	svc, err := c.Resolve("signer")
	if err != nil {
		return fmt.Errorf("proofs module: %w", err)
	}
	signer, ok := svc.(*crypto.Ed25519Signer)
	if !ok {
		return &ledger.ConfigurationError{Msg: "proofs module: signer service has unexpected type"}
	}
	m.issuer = prooftoken.NewIssuer(signer, m.cfg.LedgerName, m.cfg.TokenTTL)
	return c.RegisterOwned(IssuerService, m.issuer, m.Name())
}

func (m *Module) RegisterHooks(p *hooks.Pipeline) {
	p.RegisterBefore(hooks.OpAppend, "proofs.require_oids", m.beforeAppend)
}

func (m *Module) Start(ctx context.Context) error { return nil }
func (m *Module) Stop(ctx context.Context) error  { return nil }

// Issuer returns the published token issuer. Nil before RegisterServices.
func (m *Module) Issuer() *prooftoken.Issuer { return m.issuer }

// FilterBySubject narrows query results to proofs about subjectOID.
// Entries whose payload cannot be decoded are dropped.
func FilterBySubject(entries []ledger.Entry, subjectOID string) []ledger.Entry {
	out := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		var payload map[string]any
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			continue
		}
		if subject, _ := payload["subject_oid"].(string); subject == subjectOID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Module) beforeAppend(ctx context.Context, input any) hooks.Decision {
	req, ok := input.(*engine.AppendRequest)
	if !ok || req.Stream != m.cfg.Stream {
		return hooks.Continue(nil)
	}
	var payload map[string]any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload must be a JSON object: %v", m.cfg.Stream, err)})
	}
	for _, field := range []string{"subject_oid", "issuer_oid"} {
		v, ok := payload[field].(string)
		if !ok || v == "" {
			return hooks.Abort(&ledger.ValidationError{Msg: fmt.Sprintf("stream %q: payload missing required field %q", m.cfg.Stream, field)})
		}
	}
	return hooks.Continue(nil)
}
