package routing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hiveroute/hiveroute/internal/database/models"
)

// ErrDepthExceeded marks a routing attempt rejected because discovery hit the
// depth bound on some branch.
var ErrDepthExceeded = errors.New("discovery depth limit exceeded")

// DiscoveryFailedError carries the discovery log of a rejected attempt.
// It unwraps to ErrDepthExceeded.
type DiscoveryFailedError struct {
	Caller string
	Called string
	Log    []string
}

func (e *DiscoveryFailedError) Error() string {
	return fmt.Sprintf("routing %s -> %s: discovery depth limit exceeded", e.Caller, e.Called)
}

func (e *DiscoveryFailedError) Unwrap() error { return ErrDepthExceeded }

// MediaStorage checks ringback media existence on local storage.
type MediaStorage interface {
	Exists(path string) bool
}

// SessionIDFunc produces the per-call session identifier stamped on every
// generated target. Injected so tests can supply deterministic ids.
type SessionIDFunc func() string

func defaultSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CallParametersFunc computes cross-cutting parameters merged into every
// produced target of one attempt. Extension point for concerns like forced
// caller id or language tagging.
type CallParametersFunc func(source, target *models.Extension) map[string]string

// Router computes routing programs for call attempts. One Router serves many
// concurrent attempts; each attempt loads and mutates its own private graph
// snapshot, so no synchronization is needed.
type Router struct {
	directory   Directory
	storage     MediaStorage
	ringbackDir string
	maxDepth    int
	logger      *slog.Logger

	sessionID      SessionIDFunc
	callParameters CallParametersFunc
}

// NewRouter creates a router over the given directory. storage may be nil to
// disable ringback injection entirely.
func NewRouter(directory Directory, storage MediaStorage, ringbackDir string, maxDepth int, logger *slog.Logger) *Router {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Router{
		directory:   directory,
		storage:     storage,
		ringbackDir: ringbackDir,
		maxDepth:    maxDepth,
		logger:      logger.With("subsystem", "routing"),
		sessionID:   defaultSessionID,
	}
}

// RouteResult is the outcome of one routing computation: the program to
// execute and the deferred sub-results to persist for stage-two resolution.
type RouteResult struct {
	SessionID string
	Main      *IntermediateRoutingResult
	Cache     map[string]*IntermediateRoutingResult
	// Pruned is true if discovery had to neutralize at least one cycle.
	Pruned bool
	// Log is the ordered discovery anomaly log.
	Log []string
}

// Route computes the routing program for a call from caller to called.
// localSwitchID and switches are the caller-supplied read-only cluster
// snapshot; Route never mutates them.
func (r *Router) Route(ctx context.Context, caller, called string, localSwitchID int64, switches map[int64]*models.Switch) (*RouteResult, error) {
	source, err := r.directory.LoadExtension(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("loading caller %s: %w", caller, err)
	}
	target, err := r.directory.LoadExtension(ctx, called)
	if err != nil {
		return nil, fmt.Errorf("loading called %s: %w", called, err)
	}

	// The caller's own extension is excluded up front so no forward can
	// route the call back to its origin.
	visitor := NewDiscoveryVisitor(target, []string{source.Extension}, r.maxDepth)
	if err := visitor.Discover(ctx, r.directory); err != nil {
		return nil, fmt.Errorf("discovering routing graph for %s: %w", called, err)
	}
	for _, line := range visitor.Log() {
		r.logger.Warn("discovery anomaly", "caller", caller, "called", called, "detail", line)
	}
	if visitor.Failed() {
		return nil, &DiscoveryFailedError{Caller: caller, Called: called, Log: visitor.Log()}
	}

	compiler := NewCompiler(localSwitchID, switches, r.sessionID())
	main, err := compiler.Compile(target)
	if err != nil {
		return nil, fmt.Errorf("compiling routing program for %s: %w", called, err)
	}

	result := &RouteResult{
		SessionID: compiler.sessionID,
		Main:      main,
		Cache:     compiler.Cache(),
		Pruned:    visitor.Pruned(),
		Log:       visitor.Log(),
	}
	r.injectRingback(target, result)
	r.stampCallParameters(source, target, result)
	return result, nil
}

// injectRingback wraps the result so the configured ringback media plays
// while the callee is being reached. A configured but missing file is not an
// error; it is skipped.
func (r *Router) injectRingback(target *models.Extension, result *RouteResult) {
	if target.Ringback == "" || r.storage == nil {
		return
	}
	path := filepath.Join(r.ringbackDir, target.Ringback)
	if !r.storage.Exists(path) {
		r.logger.Debug("ringback file missing, skipping", "called", target.Extension, "path", path)
		return
	}
	ringback := makeRingbackTarget(path, result.SessionID)
	if result.Main.IsSimple() {
		// A simple result becomes a two-element fork, media first, with the
		// original target's parameters preserved on the synthetic target.
		result.Main = NewForkResult(
			&CallTarget{Target: "fork", Parameters: result.Main.Target.Parameters},
			[]*CallTarget{ringback, result.Main.Target},
		)
		return
	}
	// Already a fork: the media target joins the first group.
	result.Main.ForkTargets = append([]*CallTarget{ringback}, result.Main.ForkTargets...)
}

func makeRingbackTarget(path, sessionID string) *CallTarget {
	return &CallTarget{
		Target: "wave/play/" + path,
		Parameters: map[string]string{
			"fork.calltype":    "persistent",
			"fork.autoring":    "true",
			"fork.automessage": "call.progress",
			"x_eventphone_id":  sessionID,
		},
	}
}

// stampCallParameters merges the cross-cutting call parameters into the
// top-level target and every cached deferred result.
func (r *Router) stampCallParameters(source, target *models.Extension, result *RouteResult) {
	if r.callParameters == nil {
		return
	}
	params := r.callParameters(source, target)
	if len(params) == 0 {
		return
	}
	result.Main.Target.MergeParameters(params)
	for _, cached := range result.Cache {
		cached.Target.MergeParameters(params)
	}
}
