package training

// Phase identifies which half of an epoch is running. Each epoch visits
// Train then Val, in that order.
type Phase int

const (
	Train Phase = iota
	Val
)

func (p Phase) String() string {
	switch p {
	case Train:
		return "train"
	case Val:
		return "val"
	default:
		return "unknown"
	}
}

// phasePolicy captures what a phase is allowed to do. Keeping this in a
// table means adding a phase cannot silently inherit the wrong behavior.
type phasePolicy struct {
	gradEnabled   bool
	optimizerStep bool
	schedulerStep bool
}

var phasePolicies = map[Phase]phasePolicy{
	Train: {gradEnabled: true, optimizerStep: true, schedulerStep: true},
	Val:   {gradEnabled: false, optimizerStep: false, schedulerStep: false},
}

// phases is the fixed per-epoch order.
var phases = []Phase{Train, Val}
