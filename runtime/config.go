package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/kiln/adapter"
	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/generator"
	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/policy"
	"github.com/pithecene-io/kiln/types"
	"github.com/pithecene-io/kiln/worker"
)

// Budget defaults used when the corresponding Config field is nil.
const (
	DefaultGuardrailBudget = 2
	DefaultOutcomeBudget   = 2
	// ExecutionRepairBudget is the fixed number of retries after a runtime
	// exception.
	ExecutionRepairBudget = 1
	// PromptVersion is recorded on artifacts generated by this runtime.
	PromptVersion = "kiln-prompt-v1"
)

// Attempt telemetry bounds.
const (
	maxAttemptFailures = 8
	maxFailureMessage  = 400
)

// WorkerPool runs dependency-bearing programs out of process.
// *worker.Supervisor implements it.
type WorkerPool interface {
	Execute(ctx context.Context, req *ipc.Request) worker.Result
}

// SourceWriter archives generated program source.
// *lode.Client implements it.
type SourceWriter interface {
	PutSource(ctx context.Context, role, method, checksum string, code []byte) error
}

// Config configures an Executor.
type Config struct {
	// Role names the role whose methods this executor dispatches.
	Role string
	// Capabilities is the role's capability map: declared methods and
	// their optional contracts. Methods missing from it are dispatched
	// dynamically.
	Capabilities map[string]*Capability
	// Generator produces programs (required).
	Generator generator.Generator
	// Store persists artifacts (required).
	Store *artifact.Store
	// Guardrail checks programs and outcomes. Nil uses the default policy.
	Guardrail *guardrail.Policy
	// Workers runs programs that declare dependencies. Nil makes such
	// programs fail with dependency_activation_failed.
	Workers WorkerPool
	// RegistryPath is the tool registry file. It is snapshotted with the
	// working state before every attempt. Empty disables it.
	RegistryPath string
	// GoPath resolves third-party imports of in-process programs.
	GoPath string

	// GuardrailBudget bounds retries after recoverable violations.
	// Nil means DefaultGuardrailBudget.
	GuardrailBudget *int
	// OutcomeBudget bounds retries after retriable error outcomes.
	// Nil means DefaultOutcomeBudget.
	OutcomeBudget *int

	// Enforcement lets the promotion lifecycle gate selection.
	Enforcement bool
	// PromotionPolicy holds the gate thresholds. Zero means
	// artifact.DefaultPolicy.
	PromotionPolicy artifact.Policy

	// Telemetry receives call, attempt and promotion records. May be nil.
	Telemetry policy.Policy
	// Sources archives the source of every new generation. May be nil.
	Sources SourceWriter
	// Adapter is notified of every completed call. May be nil.
	Adapter adapter.Adapter
	// AdapterTimeout bounds each notification (default 5s).
	AdapterTimeout time.Duration

	// ProgramOutput receives stdout and stderr of in-process programs.
	// Nil discards.
	ProgramOutput io.Writer
	Logger        *log.Logger
	Collector     *metrics.Collector
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Capability is one declared method of a role.
type Capability struct {
	Purpose  string
	Contract *types.Contract
}

func (c *Config) validate() error {
	if c.Generator == nil {
		return errors.New("runtime: generator is required")
	}
	if c.Store == nil {
		return errors.New("runtime: artifact store is required")
	}
	if c.Role == "" {
		return errors.New("runtime: role is required")
	}
	for name, budget := range map[string]*int{
		"guardrail_recovery_budget":   c.GuardrailBudget,
		"fresh_outcome_repair_budget": c.OutcomeBudget,
	} {
		if budget != nil && *budget < 0 {
			return fmt.Errorf("runtime: %s must be >= 0, got %d", name, *budget)
		}
	}
	if c.AdapterTimeout < 0 {
		return fmt.Errorf("runtime: adapter timeout must be >= 0, got %s", c.AdapterTimeout)
	}
	return nil
}
