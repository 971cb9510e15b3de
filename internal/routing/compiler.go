package routing

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hiveroute/hiveroute/internal/database/models"
)

// Compiler turns a discovered, cycle-free extension graph into the routing
// program executed by the switching engine. One Compiler serves one routing
// computation: every target it produces carries the same session identifier
// as a default parameter. Non-simple sub-results are collected in a cache
// keyed by their deferred-route label for later stage-two resolution.
type Compiler struct {
	localSwitchID int64
	switches      map[int64]*models.Switch
	sessionID     string
	cache         map[string]*IntermediateRoutingResult
}

// NewCompiler creates a compiler for one routing computation on the switch
// identified by localSwitchID. switches is the read-only cluster switch table.
func NewCompiler(localSwitchID int64, switches map[int64]*models.Switch, sessionID string) *Compiler {
	return &Compiler{
		localSwitchID: localSwitchID,
		switches:      switches,
		sessionID:     sessionID,
		cache:         make(map[string]*IntermediateRoutingResult),
	}
}

// Cache returns the deferred results collected during compilation, keyed by
// their deferred-route label. Simple results are never cached.
func (c *Compiler) Cache() map[string]*IntermediateRoutingResult { return c.cache }

// Compile compiles the routing program rooted at the target extension.
// The graph must have been discovered first; inconsistencies it could still
// contain (an unresolved forward, an unknown home switch) are programming
// errors and surface as errors here.
func (c *Compiler) Compile(target *models.Extension) (*IntermediateRoutingResult, error) {
	return c.compileNode(target, nil)
}

func (c *Compiler) compileNode(node *models.Extension, path []int64) (*IntermediateRoutingResult, error) {
	local := append(slices.Clone(path), node.ID)

	// An immediate forward masks the node entirely; the forward target's
	// routing is returned verbatim.
	if node.ImmediateForward() {
		if node.ForwardingExtension == nil {
			return nil, fmt.Errorf("extension %s: immediate forward without resolved target", node.Extension)
		}
		return c.compileNode(node.ForwardingExtension, local)
	}

	if HasSimpleRouting(node) {
		target, err := c.simpleTarget(node)
		if err != nil {
			return nil, err
		}
		return NewSimpleResult(target), nil
	}

	var forkTargets []*CallTarget
	accumulatedDelay := 0
	// A pending delayed forward truncates ranks that would only start
	// ringing after the forward has already fired.
	delayedForward := node.ForwardingMode == models.ForwardingEnabled && node.ForwardingDelay > 0

rankLoop:
	for i, rank := range node.CallgroupRanks {
		// The separator between two tiers encodes how the previous tier
		// terminates: drop or advance after its delay, or nothing for
		// parallel tiers.
		if i > 0 && len(forkTargets) > 0 {
			prev := node.CallgroupRanks[i-1]
			var separator string
			switch prev.Mode {
			case models.RankModeDrop:
				separator = fmt.Sprintf("|drop=%d", prev.Delay)
				accumulatedDelay += prev.Delay
			case models.RankModeNext:
				separator = fmt.Sprintf("|next=%d", prev.Delay)
				accumulatedDelay += prev.Delay
			default:
				separator = "|"
			}
			if delayedForward && accumulatedDelay >= node.ForwardingDelay {
				break rankLoop
			}
			// Pseudo targets carry no default parameters.
			forkTargets = append(forkTargets, &CallTarget{Target: separator})
		}
		for _, member := range rank.Members {
			if !member.Active {
				continue
			}
			memberResult, err := c.compileNode(member.Extension, local)
			if err != nil {
				return nil, err
			}
			if override, ok := member.CallType.ForkCallType(); ok {
				memberResult.Target.SetParameter("fork.calltype", override)
			}
			// Only the member's top-level reference target joins the fork;
			// a sub-fork is cached and resolved later by its label.
			forkTargets = append(forkTargets, memberResult.Target)
			c.cacheResult(memberResult)
		}
	}

	// A multiring extension's own device rings alongside the first rank.
	if node.Type == models.ExtensionTypeMultiring {
		own, err := c.simpleTarget(node)
		if err != nil {
			return nil, err
		}
		forkTargets = append([]*CallTarget{own}, forkTargets...)
	}

	if node.ForwardingMode == models.ForwardingEnabled {
		if node.ForwardingExtension == nil {
			return nil, fmt.Errorf("extension %s: delayed forward without resolved target", node.Extension)
		}
		forwardResult, err := c.compileNode(node.ForwardingExtension, local)
		if err != nil {
			return nil, err
		}
		// The truncated ranks may already have consumed the forwarding
		// delay; then the forward is due without a further separator.
		if remaining := node.ForwardingDelay - accumulatedDelay; remaining > 0 {
			forkTargets = append(forkTargets, &CallTarget{Target: fmt.Sprintf("|drop=%d", remaining)})
		}
		forkTargets = append(forkTargets, forwardResult.Target)
		c.cacheResult(forwardResult)
	}

	return NewForkResult(c.makeCallTarget(c.deferredRouteString(local), nil), forkTargets), nil
}

// HasSimpleRouting reports whether the extension routes to exactly one call
// target. External lines always do; an immediate forward is as simple as its
// target; devices and multirings are simple only without forwarding and (for
// multirings) without active members. Groups always fork, even with a single
// member.
func HasSimpleRouting(node *models.Extension) bool {
	if node.Type == models.ExtensionTypeExternal {
		return true
	}
	if node.ImmediateForward() {
		if node.ForwardingExtension == nil {
			return false
		}
		return HasSimpleRouting(node.ForwardingExtension)
	}
	switch node.Type {
	case models.ExtensionTypeSimple:
		// Any forward with delay or busy condition forces a fork.
		return node.ForwardingMode == models.ForwardingDisabled
	case models.ExtensionTypeMultiring:
		return !node.HasActiveGroupMembers() && node.ForwardingMode == models.ForwardingDisabled
	default:
		return false
	}
}

// simpleTarget produces the direct address of an extension's device: a
// locally resolved second-stage reference when it lives on this switch, or a
// signaling URI over the inter-switch trunk otherwise.
func (c *Compiler) simpleTarget(node *models.Extension) (*CallTarget, error) {
	if node.SwitchID == c.localSwitchID {
		return c.makeCallTarget("lateroute/stage2-"+node.Extension, nil), nil
	}
	sw, ok := c.switches[node.SwitchID]
	if !ok {
		return nil, fmt.Errorf("extension %s: unknown home switch %d", node.Extension, node.SwitchID)
	}
	return c.makeCallTarget(
		fmt.Sprintf("sip/sip:%s@%s", node.Extension, sw.Hostname),
		map[string]string{"oconnection_id": sw.TrunkConnection},
	), nil
}

// makeCallTarget builds a target carrying the session default parameters.
func (c *Compiler) makeCallTarget(target string, parameters map[string]string) *CallTarget {
	if parameters == nil {
		parameters = make(map[string]string)
	}
	parameters["x_eventphone_id"] = c.sessionID
	return &CallTarget{Target: target, Parameters: parameters}
}

func (c *Compiler) cacheResult(result *IntermediateRoutingResult) {
	if !result.IsSimple() {
		c.cache[result.Target.Target] = result
	}
}

// deferredRouteString is the target string under which a fork is deferred.
func (c *Compiler) deferredRouteString(path []int64) string {
	return "lateroute/" + c.nodeRouteLabel(path)
}

// nodeRouteLabel derives the deterministic stage-one label for a node path.
// Determinism over the id path lets the downstream engine reference the exact
// sub-tree by string alone.
func (c *Compiler) nodeRouteLabel(path []int64) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("stage1-%s-%s", c.sessionID, strings.Join(parts, "-"))
}
