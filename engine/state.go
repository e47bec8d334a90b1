package engine

import "fmt"

// State is the engine lifecycle:
//
//	Idle -> Running -> Completed | Halted
type State uint8

const (
	Idle State = iota
	Running
	Completed
	Halted
)

var stateNames = [...]string{
	Idle:      "idle",
	Running:   "running",
	Completed: "completed",
	Halted:    "halted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) Terminal() bool { return s == Completed || s == Halted }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown engine state %q", b)
}

// GapPolicy decides what a feed sequence gap does to a run.
type GapPolicy uint8

const (
	// GapHalt stops the run on the first gap.
	GapHalt GapPolicy = iota
	// GapFlag marks the event with market.FlagGap and keeps going.
	GapFlag
)

func (p GapPolicy) String() string {
	if p == GapFlag {
		return "flag"
	}
	return "halt"
}

func ParseGapPolicy(s string) (GapPolicy, error) {
	switch s {
	case "", "halt", "fatal":
		return GapHalt, nil
	case "flag", "continue":
		return GapFlag, nil
	}
	return 0, fmt.Errorf("unknown gap policy %q", s)
}

func (p GapPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *GapPolicy) UnmarshalText(b []byte) error {
	v, err := ParseGapPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Halt reasons reported in Result.HaltReason.
const (
	HaltGap          = "feed-gap"
	HaltFeedError    = "feed-error"
	HaltVenueRejects = "venue-reject-limit"
	HaltVenueDown    = "venue-down"
	HaltCancelled    = "cancelled"
)
