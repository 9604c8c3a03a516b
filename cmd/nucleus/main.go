// Command nucleus is the maintenance CLI for a nucleus ledger: append
// entries, verify the chain, create and check Merkle checkpoints, and
// inspect per-stream statistics. Configuration comes from the environment
// (see pkg/config) plus an optional YAML ledger profile.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/onoal/nucleus/pkg/archive"
	"github.com/onoal/nucleus/pkg/cache"
	"github.com/onoal/nucleus/pkg/config"
	"github.com/onoal/nucleus/pkg/crypto"
	"github.com/onoal/nucleus/pkg/engine"
	"github.com/onoal/nucleus/pkg/hooks"
	"github.com/onoal/nucleus/pkg/ledger"
	"github.com/onoal/nucleus/pkg/modules/assetsmod"
	"github.com/onoal/nucleus/pkg/modules/policymod"
	"github.com/onoal/nucleus/pkg/modules/proofsmod"
	"github.com/onoal/nucleus/pkg/modules/schemamod"
	"github.com/onoal/nucleus/pkg/observability"
	"github.com/onoal/nucleus/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "append":
		return runAppend(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "verify-entry":
		return runVerifyEntry(args[2:], stdout, stderr)
	case "checkpoint":
		return runCheckpoint(args[2:], stdout, stderr)
	case "stats":
		return runStats(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "nucleus - append-only self-verifying ledger")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  nucleus <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  append        Append one entry (--stream, --payload, --status, --json)")
	fmt.Fprintln(w, "  verify        Verify the hash chain (--start-id, --limit, --json)")
	fmt.Fprintln(w, "  verify-entry  Verify a single entry (--id, --json)")
	fmt.Fprintln(w, "  checkpoint    Create or verify a Merkle checkpoint (--start, --end | --verify <id>)")
	fmt.Fprintln(w, "  stats         Show entry counts (--stream, --json)")
	fmt.Fprintln(w, "  help          Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Storage, cache, signing key, and telemetry come from the environment;")
	fmt.Fprintln(w, "pass --profile to enable stream modules from a YAML ledger profile.")
}

// openEngine wires storage, cache, signer, archive, telemetry, and profile
// modules into a ledger engine from process configuration.
func openEngine(ctx context.Context, profilePath string, stderr io.Writer) (*engine.Engine, error) {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, stderr)

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	var cacheStore cache.Store
	if cfg.CacheBackend == "redis" {
		cacheStore = cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.LedgerName)
	}

	var signer *crypto.Ed25519Signer
	if cfg.SigningSeed != "" {
		seed, err := hex.DecodeString(cfg.SigningSeed)
		if err != nil {
			return nil, fmt.Errorf("NUCLEUS_SIGNING_SEED is not valid hex: %w", err)
		}
		signer, err = crypto.DeriveEd25519Signer(seed, cfg.LedgerName)
		if err != nil {
			return nil, fmt.Errorf("derive signing key: %w", err)
		}
	} else {
		logger.Warn("no NUCLEUS_SIGNING_SEED set; using an ephemeral key, existing chains will not verify")
	}

	arch, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint archive: %w", err)
	}

	var obs *observability.Provider
	if cfg.TelemetryEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.Enabled = true
		if cfg.OTLPEndpoint != "" {
			obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		}
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	modules, err := loadModules(profilePath, cfg.LedgerName)
	if err != nil {
		return nil, err
	}

	return engine.New(ctx, engine.Options{
		Name:          cfg.LedgerName,
		Backend:       backend,
		Signer:        signer,
		Cache:         cacheStore,
		Archive:       arch,
		Modules:       modules,
		Logger:        logger,
		Observability: obs,
	})
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Storage {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres storage requires DATABASE_URL")
		}
		return store.OpenPostgres(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// loadModules maps profile module entries to their implementations. An
// enabled module the binary does not know is an error, not a silent skip.
func loadModules(profilePath, ledgerName string) ([]hooks.Module, error) {
	if profilePath == "" {
		return nil, nil
	}
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}

	var modules []hooks.Module
	for _, mc := range profile.Modules {
		if !mc.Enabled {
			continue
		}
		switch mc.Name {
		case "schema":
			modules = append(modules, schemamod.New(profile.Streams))
		case "policy":
			modules = append(modules, policymod.New(profile.Streams))
		case "proofs":
			stream, _ := mc.Options["stream"].(string)
			modules = append(modules, proofsmod.New(proofsmod.Config{
				Stream:     stream,
				LedgerName: ledgerName,
			}))
		case "assets":
			stream, _ := mc.Options["stream"].(string)
			modules = append(modules, assetsmod.New(stream))
		default:
			return nil, fmt.Errorf("profile %q enables unknown module %q", profile.Name, mc.Name)
		}
	}
	return modules, nil
}

func writeResult(w io.Writer, asJSON bool, v any, plain func(io.Writer)) int {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return 1
		}
		return 0
	}
	plain(w)
	return 0
}

func runAppend(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("append", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		stream      string
		payload     string
		status      string
		requester   string
		jsonOutput  bool
	)
	cmd.StringVar(&profilePath, "profile", "", "Ledger profile YAML (enables stream modules)")
	cmd.StringVar(&stream, "stream", "", "Stream name (REQUIRED)")
	cmd.StringVar(&payload, "payload", "", "Entry payload as a JSON document (REQUIRED)")
	cmd.StringVar(&status, "status", "", "Entry status (default active)")
	cmd.StringVar(&requester, "requester", "", "Requester OID for access checks")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the stored entry as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if stream == "" || payload == "" {
		fmt.Fprintln(stderr, "Error: --stream and --payload are required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	e, err := openEngine(ctx, profilePath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close(ctx)

	entry, err := e.Append(ctx, engine.AppendRequest{
		Stream:       stream,
		Payload:      json.RawMessage(payload),
		Status:       ledger.Status(status),
		RequesterOID: requester,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: append failed: %v\n", err)
		return 1
	}

	return writeResult(stdout, jsonOutput, entry, func(w io.Writer) {
		fmt.Fprintf(w, "appended %s to %s (hash %s)\n", entry.ID, entry.Stream, entry.Hash)
	})
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		startID     string
		limit       int
		jsonOutput  bool
	)
	cmd.StringVar(&profilePath, "profile", "", "Ledger profile YAML")
	cmd.StringVar(&startID, "start-id", "", "Start verification at this entry instead of genesis")
	cmd.IntVar(&limit, "limit", -1, "Maximum entries to check (negative = all)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := openEngine(ctx, profilePath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close(ctx)

	result, err := e.VerifyChain(ctx, engine.VerifyOptions{StartID: startID, Limit: limit})
	if err != nil {
		fmt.Fprintf(stderr, "Error: verification failed to run: %v\n", err)
		return 1
	}

	code := writeResult(stdout, jsonOutput, result, func(w io.Writer) {
		if result.Valid {
			fmt.Fprintf(w, "chain OK: %d entries checked in %s\n", result.EntriesChecked, result.Duration)
			return
		}
		fmt.Fprintf(w, "chain INVALID after %d entries: %s\n", result.EntriesChecked, result.Error)
		for _, ve := range result.Errors {
			fmt.Fprintf(w, "  %s %s: %s\n", ve.Type, ve.EntryID, ve.Message)
		}
	})
	if code == 0 && !result.Valid {
		return 1
	}
	return code
}

func runVerifyEntry(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-entry", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		id          string
		jsonOutput  bool
	)
	cmd.StringVar(&profilePath, "profile", "", "Ledger profile YAML")
	cmd.StringVar(&id, "id", "", "Entry id to verify (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	e, err := openEngine(ctx, profilePath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close(ctx)

	valid, problems, err := e.VerifyEntry(ctx, id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out := struct {
		ID     string          `json:"id"`
		Valid  bool            `json:"valid"`
		Errors []verifyProblem `json:"errors,omitempty"`
	}{ID: id, Valid: valid}
	for _, p := range problems {
		out.Errors = append(out.Errors, verifyProblem{Type: string(p.Type), Message: p.Message})
	}

	code := writeResult(stdout, jsonOutput, out, func(w io.Writer) {
		if valid {
			fmt.Fprintf(w, "entry %s OK\n", id)
			return
		}
		fmt.Fprintf(w, "entry %s INVALID\n", id)
		for _, p := range problems {
			fmt.Fprintf(w, "  %s: %s\n", p.Type, p.Message)
		}
	})
	if code == 0 && !valid {
		return 1
	}
	return code
}

type verifyProblem struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func runCheckpoint(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		startTS     int64
		endTS       int64
		verifyID    string
		jsonOutput  bool
	)
	cmd.StringVar(&profilePath, "profile", "", "Ledger profile YAML")
	cmd.Int64Var(&startTS, "start", 0, "Range start, unix milliseconds")
	cmd.Int64Var(&endTS, "end", 0, "Range end, unix milliseconds (default now)")
	cmd.StringVar(&verifyID, "verify", "", "Verify the checkpoint with this id instead of creating one")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the checkpoint as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := openEngine(ctx, profilePath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close(ctx)

	if verifyID != "" {
		ok, err := e.VerifyCheckpoint(ctx, verifyID)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintf(stdout, "checkpoint %s INVALID\n", verifyID)
			return 1
		}
		fmt.Fprintf(stdout, "checkpoint %s OK\n", verifyID)
		return 0
	}

	if endTS == 0 {
		endTS = time.Now().UnixMilli()
	}
	cp, err := e.CreateCheckpoint(ctx, startTS, endTS)
	if err != nil {
		fmt.Fprintf(stderr, "Error: checkpoint failed: %v\n", err)
		return 1
	}

	return writeResult(stdout, jsonOutput, cp, func(w io.Writer) {
		fmt.Fprintf(w, "checkpoint %s: %d entries, root %s\n", cp.ID, cp.EntriesCount, cp.RootHash)
	})
}

func runStats(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		stream      string
		jsonOutput  bool
	)
	cmd.StringVar(&profilePath, "profile", "", "Ledger profile YAML")
	cmd.StringVar(&stream, "stream", "", "Limit to one stream")
	cmd.BoolVar(&jsonOutput, "json", false, "Output stats as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := openEngine(ctx, profilePath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close(ctx)

	if stream != "" {
		st, err := e.Stats(ctx, stream)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return writeResult(stdout, jsonOutput, st, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %d entries\n", st.Stream, st.TotalEntries)
		})
	}

	total, err := e.CountEntries(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	tip, err := e.Tip(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	out := struct {
		Total   int64  `json:"total"`
		TipID   string `json:"tip_id,omitempty"`
		TipHash string `json:"tip_hash,omitempty"`
	}{Total: total}
	if tip != nil {
		out.TipID = tip.EntryID
		out.TipHash = tip.Hash
	}
	return writeResult(stdout, jsonOutput, out, func(w io.Writer) {
		fmt.Fprintf(w, "total entries: %d\n", out.Total)
		if out.TipID != "" {
			fmt.Fprintf(w, "tip: %s (%s)\n", out.TipID, out.TipHash)
		}
	})
}
