package engine

import "tailctl"

// exitIntent is the user's desired egress selection. It exists only while
// the set/clear command is in flight or its confirmation has not yet been
// observed in a snapshot; it is cleared once confirmed or superseded.
type exitIntent struct {
	enabled bool
	target  string // canonical argument, empty when enabled is false
}

// activeArg resolves the canonical command argument for the snapshot's
// active exit node: alias-map lookup first, then the device's own
// preferred argument when no alias matches.
func activeArg(st *tailctl.Status, aliases map[string]string) string {
	if st == nil || st.ActiveExitNode == nil {
		return ""
	}
	for _, a := range st.ActiveExitNode.Aliases() {
		if arg, ok := aliases[a]; ok {
			return arg
		}
	}
	return st.ActiveExitNode.PreferredArg()
}

// satisfied reports whether the snapshot confirms the intent. For enable,
// the active device must resolve to the target or carry the target among
// its aliases (the bridge for naming differences between the snapshot and
// the command argument). For disable, no device may be active.
func (in *exitIntent) satisfied(st *tailctl.Status, aliases map[string]string) bool {
	if in == nil || st == nil {
		return false
	}
	if !in.enabled {
		return st.ActiveExitNode == nil
	}
	if st.ActiveExitNode == nil {
		return false
	}
	arg := activeArg(st, aliases)
	if arg == in.target {
		return true
	}
	if st.ActiveExitNode.HasAlias(in.target) {
		return true
	}
	// Both names may map to the same canonical argument.
	return in.target != "" && aliases[in.target] == arg
}

// ResolveEnableTarget picks the argument for an enable request that named
// no explicit device: the last successfully applied target still present
// in the eligible list, else the first eligible device. Empty when no
// device is eligible.
func ResolveEnableTarget(requested, lastApplied string, exitNodes []tailctl.Device) string {
	if requested != "" {
		return requested
	}
	if lastApplied != "" {
		for _, d := range exitNodes {
			if d.HasAlias(lastApplied) {
				return lastApplied
			}
		}
	}
	for _, d := range exitNodes {
		if arg := d.PreferredArg(); arg != "" {
			return arg
		}
	}
	return ""
}
