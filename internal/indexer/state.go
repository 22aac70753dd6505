package indexer

import "fmt"

// State is the phase of an index pass
type State int32

const (
	StateIdle State = iota
	StateWalking
	StateDiffing
	StateEmbedding
	StateWriting
	StatePruning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWalking:
		return "walking"
	case StateDiffing:
		return "diffing"
	case StateEmbedding:
		return "embedding"
	case StateWriting:
		return "writing"
	case StatePruning:
		return "pruning"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
