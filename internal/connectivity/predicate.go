package connectivity

// Predicate filters snapshots.
type Predicate func(Snapshot) bool

// HasState matches snapshots whose state is one of states.
func HasState(states ...State) Predicate {
	return func(s Snapshot) bool {
		for _, st := range states {
			if s.State() == st {
				return true
			}
		}
		return false
	}
}

// HasType matches snapshots whose type is one of types. UnknownType always
// matches so the initial empty snapshot passes through type filters.
func HasType(types ...int) Predicate {
	extended := AppendUnknownType(types)
	return func(s Snapshot) bool {
		for _, t := range extended {
			if s.Type() == t {
				return true
			}
		}
		return false
	}
}

// AppendUnknownType returns a copy of types with UnknownType appended.
func AppendUnknownType(types []int) []int {
	out := make([]int, 0, len(types)+1)
	out = append(out, types...)
	return append(out, UnknownType)
}
