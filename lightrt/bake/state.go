package bake

import "fmt"

type State int32

const (
	StateCreated State = iota
	StateResourcesBuilt
	StateWorldBaked
	StateGridBaking
	StateCubeBaking
	StateResourcesTornDown
	StateFinished
)

var stateNames = [...]string{
	StateCreated:           "created",
	StateResourcesBuilt:    "resources-built",
	StateWorldBaked:        "world-baked",
	StateGridBaking:        "grid-baking",
	StateCubeBaking:        "cube-baking",
	StateResourcesTornDown: "resources-torn-down",
	StateFinished:          "finished",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
