package bridge

import "time"

// State is the orchestrator lifecycle position.
type State string

const (
	StateStarting     State = "starting"
	StateStreaming    State = "streaming"
	StateRestarting   State = "restarting"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

var allStates = []string{
	string(StateStarting),
	string(StateStreaming),
	string(StateRestarting),
	string(StateShuttingDown),
	string(StateStopped),
}

// Transition records one state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
	Cause string    `json:"cause,omitempty"`
}

const maxHistory = 256
