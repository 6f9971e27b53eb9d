// Package engine wraps job bodies with the safety machinery: safe-mode
// gate, durable single-flight lock, per-job timeout and transient-error
// classification. It is the only place that decides to latch safe mode.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rawblock/flywheel-engine/internal/db"
)

// Status of one wrapped job invocation.
type Status int

const (
	StatusCompleted Status = iota
	StatusSkipped
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusSkipped:
		return "skipped"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

// Outcome is the classified result of one invocation.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// rpcTransientPatterns mark errors that count toward the safe-mode
// threshold. Timeouts from our own deadline are classified separately and
// never counted.
var rpcTransientPatterns = []string{"503", "429", "timeout", "ECONNREFUSED", "fetch failed"}

// Engine executes jobs under the durable lock table and the safe-mode latch.
type Engine struct {
	store        *db.Store
	maxRPCErrors int
	onSafeMode   func(reason string)
}

func New(store *db.Store, maxRPCErrors int, onSafeMode func(reason string)) *Engine {
	return &Engine{store: store, maxRPCErrors: maxRPCErrors, onSafeMode: onSafeMode}
}

// Execute runs the job body under gate → lock → timeout → classify →
// release. The lock is always released, even on panic-free failure paths.
func (e *Engine) Execute(ctx context.Context, lockType string, timeout time.Duration, run func(ctx context.Context) error) Outcome {
	safe, err := e.store.IsSafeMode()
	if err != nil {
		return Outcome{Status: StatusFailed, Reason: "safe-mode check failed", Err: err}
	}
	if safe {
		reason, _ := e.store.SafeModeReason()
		log.Printf("[Engine] %s skipped: safe mode latched (%s)", lockType, reason)
		return Outcome{Status: StatusSkipped, Reason: "safe mode latched"}
	}

	acquired, err := e.store.AcquireLock(lockType, os.Getpid())
	if err != nil {
		return Outcome{Status: StatusFailed, Reason: "lock acquire failed", Err: err}
	}
	if !acquired {
		log.Printf("[Engine] %s skipped: lock held", lockType)
		return Outcome{Status: StatusSkipped, Reason: "lock held"}
	}
	defer func() {
		if err := e.store.ReleaseLock(lockType); err != nil {
			log.Printf("[Engine] Failed to release %s lock: %v", lockType, err)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runErr := run(jobCtx)
	if runErr == nil {
		if err := e.store.ResetRPCErrorCount(); err != nil {
			log.Printf("[Engine] Failed to reset rpc error count: %v", err)
		}
		return Outcome{Status: StatusCompleted}
	}

	if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) || jobCtx.Err() != nil {
		log.Printf("[Engine] %s timed out after %s", lockType, timeout)
		return Outcome{Status: StatusTimedOut, Reason: "job deadline exceeded", Err: runErr}
	}

	if isRPCTransient(runErr) {
		e.countRPCError(runErr)
	}
	return Outcome{Status: StatusFailed, Reason: runErr.Error(), Err: runErr}
}

func isRPCTransient(err error) bool {
	msg := err.Error()
	for _, p := range rpcTransientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func (e *Engine) countRPCError(cause error) {
	count, err := e.store.RPCErrorCount()
	if err != nil {
		log.Printf("[Engine] Failed to read rpc error count: %v", err)
		return
	}
	count++
	if err := e.store.SetRPCErrorCount(count); err != nil {
		log.Printf("[Engine] Failed to store rpc error count: %v", err)
		return
	}
	log.Printf("[Engine] Transient RPC failure %d/%d: %v", count, e.maxRPCErrors, cause)

	if count >= e.maxRPCErrors {
		reason := fmt.Sprintf("%d consecutive RPC errors (last: %s)", count, truncate(cause.Error(), 160))
		if err := e.store.EnterSafeMode(reason); err != nil {
			log.Printf("[Engine] Failed to latch safe mode: %v", err)
			return
		}
		log.Printf("[Engine] SAFE MODE LATCHED: %s", reason)
		if e.onSafeMode != nil {
			e.onSafeMode(reason)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
