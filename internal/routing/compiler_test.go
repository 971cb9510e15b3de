package routing

import (
	"strings"
	"testing"

	"github.com/hiveroute/hiveroute/internal/database/models"
)

const testSession = "cafebabe0000000000000000000000ff"

func testSwitches() map[int64]*models.Switch {
	return map[int64]*models.Switch{
		1: {ID: 1, Hostname: "nodea.cluster", TrunkConnection: "trunk-nodea"},
		2: {ID: 2, Hostname: "nodeb.cluster", TrunkConnection: "trunk-nodeb"},
	}
}

func testCompiler() *Compiler {
	return NewCompiler(1, testSwitches(), testSession)
}

// attachRank wires a pre-discovered rank directly onto an extension. Compiler
// tests build graphs in the state discovery leaves them in.
func attachRank(ext *models.Extension, mode models.RankMode, delay int, members ...*models.CallgroupMember) {
	ext.CallgroupRanks = append(ext.CallgroupRanks, &models.CallgroupRank{
		ID:       int64(100*ext.ID + int64(len(ext.CallgroupRanks))),
		Position: len(ext.CallgroupRanks),
		Mode:     mode,
		Delay:    delay,
		Members:  members,
	})
}

func attachForward(ext, target *models.Extension, mode models.ForwardingMode, delay int) {
	id := target.ID
	ext.ForwardingMode = mode
	ext.ForwardingDelay = delay
	ext.ForwardingExtensionID = &id
	ext.ForwardingExtension = target
}

func forkTargetStrings(result *IntermediateRoutingResult) []string {
	out := make([]string, len(result.ForkTargets))
	for i, target := range result.ForkTargets {
		out[i] = target.Target
	}
	return out
}

func assertTargets(t *testing.T, result *IntermediateRoutingResult, want ...string) {
	t.Helper()
	got := forkTargetStrings(result)
	if len(got) != len(want) {
		t.Fatalf("fork targets %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fork target %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestHasSimpleRouting(t *testing.T) {
	external := &models.Extension{Type: models.ExtensionTypeExternal, ForwardingMode: models.ForwardingEnabled}
	if !HasSimpleRouting(external) {
		t.Error("external line must be simple regardless of forwarding")
	}

	plain := simpleExt(1, "1001")
	if !HasSimpleRouting(plain) {
		t.Error("device without forwarding must be simple")
	}

	delayed := simpleExt(2, "1002")
	attachForward(delayed, plain, models.ForwardingEnabled, 10)
	if HasSimpleRouting(delayed) {
		t.Error("delayed forward must force a fork")
	}

	onBusy := simpleExt(3, "1003")
	attachForward(onBusy, plain, models.ForwardingOnBusy, 0)
	if HasSimpleRouting(onBusy) {
		t.Error("busy forward must force a fork")
	}

	immediate := simpleExt(4, "1004")
	attachForward(immediate, plain, models.ForwardingEnabled, 0)
	if !HasSimpleRouting(immediate) {
		t.Error("immediate forward to a device must stay simple")
	}

	group := groupExt(40, "4000")
	attachRank(group, models.RankModeParallel, 0, activeMember(plain))
	if HasSimpleRouting(group) {
		t.Error("group must fork even with one member")
	}

	immediateToGroup := simpleExt(5, "1005")
	attachForward(immediateToGroup, group, models.ForwardingEnabled, 0)
	if HasSimpleRouting(immediateToGroup) {
		t.Error("immediate forward to a group must fork")
	}

	multiring := &models.Extension{ID: 6, Extension: "1006", Type: models.ExtensionTypeMultiring, ForwardingMode: models.ForwardingDisabled, SwitchID: 1}
	if !HasSimpleRouting(multiring) {
		t.Error("multiring without members must be simple")
	}
	attachRank(multiring, models.RankModeParallel, 0, activeMember(plain))
	if HasSimpleRouting(multiring) {
		t.Error("multiring with an active member must fork")
	}
}

func TestCompileLocalDevice(t *testing.T) {
	result, err := testCompiler().Compile(simpleExt(1, "1001"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.IsSimple() {
		t.Fatalf("result type = %s, want simple", result.Type)
	}
	if result.Target.Target != "lateroute/stage2-1001" {
		t.Errorf("target = %q", result.Target.Target)
	}
	if got := result.Target.Parameters["x_eventphone_id"]; got != testSession {
		t.Errorf("x_eventphone_id = %q, want %q", got, testSession)
	}
}

func TestCompileRemoteDevice(t *testing.T) {
	remote := simpleExt(2, "1002")
	remote.SwitchID = 2
	result, err := testCompiler().Compile(remote)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Target.Target != "sip/sip:1002@nodeb.cluster" {
		t.Errorf("target = %q", result.Target.Target)
	}
	if got := result.Target.Parameters["oconnection_id"]; got != "trunk-nodeb" {
		t.Errorf("oconnection_id = %q", got)
	}
	if got := result.Target.Parameters["x_eventphone_id"]; got != testSession {
		t.Errorf("x_eventphone_id = %q", got)
	}
}

func TestCompileUnknownSwitch(t *testing.T) {
	orphan := simpleExt(3, "1003")
	orphan.SwitchID = 99
	if _, err := testCompiler().Compile(orphan); err == nil || !strings.Contains(err.Error(), "unknown home switch") {
		t.Fatalf("expected unknown switch error, got %v", err)
	}
}

func TestCompileGroupFork(t *testing.T) {
	a := simpleExt(1, "1001")
	b := simpleExt(2, "1002")
	c := simpleExt(3, "1003")
	g := groupExt(40, "4000")
	attachRank(g, models.RankModeDrop, 5, activeMember(a))
	attachRank(g, models.RankModeParallel, 0, activeMember(b), activeMember(c))

	compiler := testCompiler()
	result, err := compiler.Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.IsSimple() {
		t.Fatal("group compiled to a simple result")
	}
	if want := "lateroute/stage1-" + testSession + "-40"; result.Target.Target != want {
		t.Errorf("deferred target = %q, want %q", result.Target.Target, want)
	}
	assertTargets(t, result,
		"lateroute/stage2-1001",
		"|drop=5",
		"lateroute/stage2-1002",
		"lateroute/stage2-1003",
	)
	// Separators are pseudo targets without parameters.
	if result.ForkTargets[1].Parameters != nil {
		t.Errorf("separator carries parameters: %v", result.ForkTargets[1].Parameters)
	}
	if len(compiler.Cache()) != 0 {
		t.Errorf("simple members must not be cached: %v", compiler.Cache())
	}
}

func TestCompileNextSeparator(t *testing.T) {
	g := groupExt(40, "4000")
	attachRank(g, models.RankModeNext, 12, activeMember(simpleExt(1, "1001")))
	attachRank(g, models.RankModeParallel, 0, activeMember(simpleExt(2, "1002")))

	result, err := testCompiler().Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	assertTargets(t, result, "lateroute/stage2-1001", "|next=12", "lateroute/stage2-1002")
}

func TestCompileSkipsInactiveMembers(t *testing.T) {
	g := groupExt(40, "4000")
	inactive := activeMember(simpleExt(1, "1001"))
	inactive.Active = false
	attachRank(g, models.RankModeDrop, 5, inactive)
	attachRank(g, models.RankModeParallel, 0, activeMember(simpleExt(2, "1002")))

	result, err := testCompiler().Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// The first tier contributed nothing, so no separator is emitted either.
	assertTargets(t, result, "lateroute/stage2-1002")
}

func TestCompileDelayedForward(t *testing.T) {
	fwd := simpleExt(8, "1008")
	ext := simpleExt(7, "1007")
	attachForward(ext, fwd, models.ForwardingEnabled, 8)

	compiler := testCompiler()
	result, err := compiler.Compile(ext)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if want := "lateroute/stage1-" + testSession + "-7"; result.Target.Target != want {
		t.Errorf("deferred target = %q, want %q", result.Target.Target, want)
	}
	assertTargets(t, result, "|drop=8", "lateroute/stage2-1008")
	if len(compiler.Cache()) != 0 {
		t.Errorf("simple forward target must not be cached: %v", compiler.Cache())
	}
}

func TestCompileDelayedForwardAfterRanks(t *testing.T) {
	g := groupExt(40, "4000")
	attachRank(g, models.RankModeDrop, 5, activeMember(simpleExt(1, "1001")))
	attachRank(g, models.RankModeParallel, 0, activeMember(simpleExt(2, "1002")))
	attachForward(g, simpleExt(9, "1009"), models.ForwardingEnabled, 10)

	result, err := testCompiler().Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	assertTargets(t, result,
		"lateroute/stage2-1001",
		"|drop=5",
		"lateroute/stage2-1002",
		"|drop=5",
		"lateroute/stage2-1009",
	)
}

func TestCompileForwardDelayCutoff(t *testing.T) {
	g := groupExt(40, "4000")
	attachRank(g, models.RankModeDrop, 5, activeMember(simpleExt(1, "1001")))
	attachRank(g, models.RankModeParallel, 0, activeMember(simpleExt(2, "1002")))
	attachForward(g, simpleExt(9, "1009"), models.ForwardingEnabled, 5)

	result, err := testCompiler().Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// The second tier would only start after the forward has fired, so it is
	// dropped, and the forward follows without a further separator.
	assertTargets(t, result,
		"lateroute/stage2-1001",
		"lateroute/stage2-1009",
	)
}

func TestCompileMultiringPrependsOwnDevice(t *testing.T) {
	m := &models.Extension{ID: 9, Extension: "1009", Type: models.ExtensionTypeMultiring, ForwardingMode: models.ForwardingDisabled, SwitchID: 1}
	remote := simpleExt(2, "1002")
	remote.SwitchID = 2
	attachRank(m, models.RankModeParallel, 0, activeMember(remote))

	result, err := testCompiler().Compile(m)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	assertTargets(t, result, "lateroute/stage2-1009", "sip/sip:1002@nodeb.cluster")
}

func TestCompileImmediateForwardPassthrough(t *testing.T) {
	device := simpleExt(2, "1002")
	ext := simpleExt(1, "1001")
	attachForward(ext, device, models.ForwardingEnabled, 0)

	result, err := testCompiler().Compile(ext)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.IsSimple() || result.Target.Target != "lateroute/stage2-1002" {
		t.Fatalf("pass-through result = %+v", result)
	}

	// Forwarding into a group keeps the full id path in the fork's label.
	g := groupExt(40, "4000")
	attachRank(g, models.RankModeParallel, 0, activeMember(simpleExt(3, "1003")))
	ext2 := simpleExt(5, "1005")
	attachForward(ext2, g, models.ForwardingEnabled, 0)

	result, err = testCompiler().Compile(ext2)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if want := "lateroute/stage1-" + testSession + "-5-40"; result.Target.Target != want {
		t.Errorf("deferred target = %q, want %q", result.Target.Target, want)
	}
}

func TestCompileNestedForkCached(t *testing.T) {
	inner := groupExt(42, "4200")
	attachRank(inner, models.RankModeParallel, 0, activeMember(simpleExt(2, "1002")))
	outer := groupExt(41, "4100")
	attachRank(outer, models.RankModeParallel, 0, activeMember(simpleExt(1, "1001")), activeMember(inner))

	compiler := testCompiler()
	result, err := compiler.Compile(outer)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	innerLabel := "lateroute/stage1-" + testSession + "-41-42"
	assertTargets(t, result, "lateroute/stage2-1001", innerLabel)

	cache := compiler.Cache()
	if len(cache) != 1 {
		t.Fatalf("cache entries = %d, want 1 (%v)", len(cache), cache)
	}
	cached, ok := cache[innerLabel]
	if !ok {
		t.Fatalf("inner fork not cached under %q", innerLabel)
	}
	assertTargets(t, cached, "lateroute/stage2-1002")
}

func TestCompileMemberCallType(t *testing.T) {
	g := groupExt(40, "4000")
	ordinary := activeMember(simpleExt(1, "1001"))
	special := activeMember(simpleExt(2, "1002"))
	special.CallType = models.MemberCallTypePersistent
	attachRank(g, models.RankModeParallel, 0, ordinary, special)

	result, err := testCompiler().Compile(g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := result.ForkTargets[0].Parameters["fork.calltype"]; ok {
		t.Error("ordinary member must not carry fork.calltype")
	}
	if got := result.ForkTargets[1].Parameters["fork.calltype"]; got != "persistent" {
		t.Errorf("fork.calltype = %q, want persistent", got)
	}
}

func TestCompileDeterministicLabels(t *testing.T) {
	build := func() *models.Extension {
		inner := groupExt(42, "4200")
		attachRank(inner, models.RankModeParallel, 0, activeMember(simpleExt(2, "1002")))
		outer := groupExt(41, "4100")
		attachRank(outer, models.RankModeParallel, 0, activeMember(inner))
		return outer
	}

	first := testCompiler()
	second := testCompiler()
	r1, err := first.Compile(build())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	r2, err := second.Compile(build())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if r1.Target.Target != r2.Target.Target {
		t.Errorf("labels differ: %q vs %q", r1.Target.Target, r2.Target.Target)
	}
	for label := range first.Cache() {
		if _, ok := second.Cache()[label]; !ok {
			t.Errorf("label %q missing from second compilation", label)
		}
	}
}
