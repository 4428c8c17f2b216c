package types

// ConsumerState is the liveness a consumer advertises through its heartbeat key.
type ConsumerState int8

const (
	ConsumerStateActive ConsumerState = iota
	ConsumerStateInactive
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerStateActive:
		return "active"
	case ConsumerStateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

func ParseConsumerState(stateStr string) ConsumerState {
	switch stateStr {
	case "active":
		return ConsumerStateActive
	case "inactive":
		return ConsumerStateInactive
	default:
		return -1
	}
}

// GroupState tracks whether a consumer group is known to exist on a stream.
// GroupStateReady is terminal: groups are never torn down.
type GroupState int8

const (
	GroupStateNone GroupState = iota
	GroupStateReady
)

func (s GroupState) String() string {
	if s == GroupStateReady {
		return "ready"
	}
	return "none"
}
