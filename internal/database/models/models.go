package models

import "fmt"

// ExtensionType classifies how an extension is routed.
type ExtensionType string

const (
	// ExtensionTypeSimple is a single registered device.
	ExtensionTypeSimple ExtensionType = "simple"
	// ExtensionTypeGroup is a ranked hunt group with no own device.
	ExtensionTypeGroup ExtensionType = "group"
	// ExtensionTypeMultiring is a group that also rings the extension's own device.
	ExtensionTypeMultiring ExtensionType = "multiring"
	// ExtensionTypeExternal is an opaque outside line, always routed directly.
	ExtensionTypeExternal ExtensionType = "external"
)

// ForwardingMode controls whether and when calls to an extension are forwarded.
type ForwardingMode string

const (
	ForwardingDisabled ForwardingMode = "disabled"
	ForwardingEnabled  ForwardingMode = "enabled"
	ForwardingOnBusy   ForwardingMode = "on_busy"
)

// RankMode controls the timed transition out of one hunt group tier.
type RankMode string

const (
	// RankModeDrop stops ringing the tier after its delay and abandons it.
	RankModeDrop RankMode = "drop"
	// RankModeNext stops the tier after its delay and advances to the next tier.
	RankModeNext RankMode = "next"
	// RankModeParallel has no timed transition; tiers are ordering hints only.
	RankModeParallel RankMode = "parallel"
)

// MemberCallType classifies a callgroup membership for fork dialing.
type MemberCallType string

const (
	MemberCallTypeDefault    MemberCallType = "default"
	MemberCallTypeAuxiliary  MemberCallType = "auxiliary"
	MemberCallTypePersistent MemberCallType = "persistent"
)

// forkCallTypeOverrides maps the special member call types to the fork
// call-type value they force onto the member's target.
var forkCallTypeOverrides = map[MemberCallType]string{
	MemberCallTypeAuxiliary:  "auxiliary",
	MemberCallTypePersistent: "persistent",
}

// ForkCallType returns the fork call-type override for special member call
// types. ok is false for ordinary members.
func (t MemberCallType) ForkCallType() (override string, ok bool) {
	override, ok = forkCallTypeOverrides[t]
	return override, ok
}

// Extension is an addressable routing node in the cluster directory: a
// device, a hunt group, or an external line. Instances are per-attempt
// snapshots; discovery mutates ForwardingMode and member Active flags on the
// snapshot only, nothing is persisted back.
type Extension struct {
	ID        int64
	Extension string // extension number
	Name      string
	Type      ExtensionType

	ForwardingMode        ForwardingMode
	ForwardingDelay       int // seconds; 0 means the forward fires immediately
	ForwardingExtensionID *int64
	// ForwardingExtension is resolved lazily by the directory during
	// discovery. Non-nil only after resolution.
	ForwardingExtension *Extension

	// CallgroupRanks is populated by the directory for group/multiring
	// extensions when no immediate forward masks them.
	CallgroupRanks []*CallgroupRank

	// Ringback names a media file to play while the callee is being reached.
	// Empty if none is configured. Only meaningful on the called extension.
	Ringback string

	// SwitchID is the cluster switch this extension's device is registered on.
	SwitchID int64
}

// ImmediateForward reports whether the extension forwards unconditionally
// with no delay, masking its own routing entirely.
func (e *Extension) ImmediateForward() bool {
	return e.ForwardingMode == ForwardingEnabled && e.ForwardingDelay == 0
}

// HasActiveGroupMembers reports whether any rank still carries an active
// membership.
func (e *Extension) HasActiveGroupMembers() bool {
	for _, rank := range e.CallgroupRanks {
		for _, member := range rank.Members {
			if member.Active {
				return true
			}
		}
	}
	return false
}

func (e *Extension) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Extension)
}

// CallgroupRank is one timed tier of a hunt group.
type CallgroupRank struct {
	ID       int64
	Position int
	Mode     RankMode
	// Delay in seconds before the tier's drop/next transition fires.
	// Meaningless for parallel ranks.
	Delay   int
	Members []*CallgroupMember
}

// CallgroupMember is one membership of an extension in a callgroup rank.
type CallgroupMember struct {
	Extension *Extension
	// Active memberships participate in routing. Discovery deactivates a
	// membership when it would close a loop.
	Active   bool
	CallType MemberCallType
}

// Switch is one node of the switching cluster.
type Switch struct {
	ID       int64
	Hostname string
	// TrunkConnection identifies the inter-switch signaling trunk used when
	// routing to this switch from elsewhere in the cluster.
	TrunkConnection string
}
