package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hiveroute/hiveroute/internal/database/models"
)

// ErrExtensionNotFound is returned (wrapped) by Directory implementations
// when an extension number does not exist in the cluster directory.
var ErrExtensionNotFound = errors.New("extension not found")

// Directory is the external lookup interface over the cluster directory.
// LoadForwardingTarget and LoadCallgroupRanks mutate the given extension
// snapshot in place.
type Directory interface {
	LoadExtension(ctx context.Context, number string) (*models.Extension, error)
	LoadForwardingTarget(ctx context.Context, ext *models.Extension) error
	LoadCallgroupRanks(ctx context.Context, ext *models.Extension) error
}

// DefaultMaxDepth bounds discovery recursion.
const DefaultMaxDepth = 10

// DiscoveryVisitor walks the forwarding/membership graph below a root
// extension depth-first, resolving each node lazily from the directory.
// Visited tracking is path-local: the same extension may appear in two
// unrelated branches, just not twice on one branch. A cycle is broken by
// disabling the offending forward or membership on the snapshot; a branch
// deeper than the depth bound marks the whole discovery failed.
type DiscoveryVisitor struct {
	root     *models.Extension
	excluded []string
	maxDepth int

	failed bool
	pruned bool
	log    []string
}

// NewDiscoveryVisitor creates a visitor rooted at root. excluded seeds the
// path with extension numbers that must not be reached again (the original
// caller). maxDepth <= 0 selects DefaultMaxDepth.
func NewDiscoveryVisitor(root *models.Extension, excluded []string, maxDepth int) *DiscoveryVisitor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &DiscoveryVisitor{
		root:     root,
		excluded: excluded,
		maxDepth: maxDepth,
	}
}

// Failed reports whether any branch hit the depth bound. A failed discovery
// rejects the whole routing attempt.
func (v *DiscoveryVisitor) Failed() bool { return v.failed }

// Pruned reports whether any cycle was detected and neutralized.
func (v *DiscoveryVisitor) Pruned() bool { return v.pruned }

// Log returns the ordered anomaly log accumulated during discovery.
func (v *DiscoveryVisitor) Log() []string { return v.log }

// Discover runs the traversal. Directory errors abort it; depth and cycle
// conditions are recorded on the visitor instead.
func (v *DiscoveryVisitor) Discover(ctx context.Context, dir Directory) error {
	return v.visit(ctx, dir, v.root, 0, v.excluded)
}

func (v *DiscoveryVisitor) visit(ctx context.Context, dir Directory, node *models.Extension, depth int, path []string) error {
	if depth >= v.maxDepth {
		v.failed = true
		v.logf("discovery aborted at %s: depth limit %d reached", node, v.maxDepth)
		return nil
	}

	// Each branch extends its own copy of the path so siblings do not
	// interfere with each other.
	local := append(slices.Clone(path), node.Extension)

	if node.Type != models.ExtensionTypeExternal && node.ForwardingMode != models.ForwardingDisabled {
		if err := dir.LoadForwardingTarget(ctx, node); err != nil {
			return fmt.Errorf("resolving forward of %s: %w", node.Extension, err)
		}
	}
	// Group members are only discovered when no immediate forward masks them.
	if (node.Type == models.ExtensionTypeGroup || node.Type == models.ExtensionTypeMultiring) &&
		(node.ForwardingMode != models.ForwardingEnabled || node.ForwardingDelay > 0) {
		if err := dir.LoadCallgroupRanks(ctx, node); err != nil {
			return fmt.Errorf("populating ranks of %s: %w", node.Extension, err)
		}
	}

	if fwd := node.ForwardingExtension; fwd != nil {
		if slices.Contains(local, fwd.Extension) {
			v.pruned = true
			v.logf("forward %s -> %s closes a loop (path %s), disabling forward",
				node.Extension, fwd.Extension, strings.Join(local, " -> "))
			node.ForwardingMode = models.ForwardingDisabled
		} else if err := v.visit(ctx, dir, fwd, depth+1, local); err != nil {
			return err
		}
	}

	for _, rank := range node.CallgroupRanks {
		for _, member := range rank.Members {
			if !member.Active {
				continue
			}
			ext := member.Extension
			if slices.Contains(local, ext.Extension) {
				v.pruned = true
				v.logf("membership of %s in rank %d of %s closes a loop (path %s), deactivating membership",
					ext.Extension, rank.Position, node.Extension, strings.Join(local, " -> "))
				member.Active = false
				continue
			}
			if err := v.visit(ctx, dir, ext, depth+1, local); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *DiscoveryVisitor) logf(format string, args ...any) {
	v.log = append(v.log, fmt.Sprintf(format, args...))
}
