package tailctl

// BuildAliasMap maps every alias of every exit-node-eligible device to that
// device's preferred command argument. The map is rebuilt from scratch on
// each snapshot and bridges naming differences between what status reports
// and what `set --exit-node` accepts.
//
// When two eligible devices share an alias the first writer (snapshot
// order) wins. Eligible devices are disjoint in practice; this is a
// documented simplification, not a guarantee.
func BuildAliasMap(devices []Device) map[string]string {
	aliases := make(map[string]string)
	for _, d := range devices {
		arg := d.PreferredArg()
		if arg == "" {
			continue
		}
		for _, a := range d.Aliases() {
			if _, taken := aliases[a]; taken {
				continue
			}
			aliases[a] = arg
		}
	}
	return aliases
}
