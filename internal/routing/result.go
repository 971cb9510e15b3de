package routing

// CallTarget is one executable leaf or pseudo-directive of a compiled routing
// program: a target string (endpoint, media-play directive, or timed fork
// separator) plus string parameters understood by the switching engine.
// Targets are mutable until the program is handed off.
type CallTarget struct {
	Target     string            `json:"target"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// SetParameter sets a single parameter, allocating the map if needed.
func (t *CallTarget) SetParameter(key, value string) {
	if t.Parameters == nil {
		t.Parameters = make(map[string]string)
	}
	t.Parameters[key] = value
}

// MergeParameters copies all given parameters into the target, overwriting
// existing keys.
func (t *CallTarget) MergeParameters(params map[string]string) {
	for key, value := range params {
		t.SetParameter(key, value)
	}
}

// ResultType discriminates simple and fork routing results.
type ResultType string

const (
	ResultSimple ResultType = "simple"
	ResultFork   ResultType = "fork"
)

// IntermediateRoutingResult is one node of a compiled routing program:
// either a single call target, or an ordered fork of targets dialed together.
// For forks, Target is the synthetic target whose target string is the
// deferred-route label under which the fork is cached.
type IntermediateRoutingResult struct {
	Type        ResultType    `json:"type"`
	Target      *CallTarget   `json:"target"`
	ForkTargets []*CallTarget `json:"fork_targets,omitempty"`
}

// NewSimpleResult wraps a single call target.
func NewSimpleResult(target *CallTarget) *IntermediateRoutingResult {
	return &IntermediateRoutingResult{Type: ResultSimple, Target: target}
}

// NewForkResult builds a fork result from its synthetic reference target and
// the ordered fork target sequence.
func NewForkResult(target *CallTarget, forkTargets []*CallTarget) *IntermediateRoutingResult {
	return &IntermediateRoutingResult{Type: ResultFork, Target: target, ForkTargets: forkTargets}
}

// IsSimple reports whether the result wraps exactly one target.
func (r *IntermediateRoutingResult) IsSimple() bool {
	return r.Type == ResultSimple
}
