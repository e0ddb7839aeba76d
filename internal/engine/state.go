package engine

// State is a dataset's lifecycle state.
type State int32

// Lifecycle states. Progression is Created, Analyzing, Loaded, Indexing,
// then Ready; Ready and Hibernated alternate. Error absorbs everything;
// only Unload leaves it.
const (
	StateCreated State = iota
	StateAnalyzing
	StateLoaded
	StateIndexing
	StateReady
	StateHibernated
	StateError
)

// String returns the state name used on the wire and in logs.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAnalyzing:
		return "analyzing"
	case StateLoaded:
		return "loaded"
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	case StateHibernated:
		return "hibernated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) oneOf(states ...State) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}
