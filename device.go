package tailctl

// Hostinfo keys surfaced by the tailscale status JSON that identify a device.
const (
	HostinfoHostname = "Hostname"
	HostinfoDNSName  = "DNSName"
)

// Device is one node visible in a status snapshot: ourselves or a peer.
// Devices are rebuilt wholesale on every snapshot and never mutated in
// place across snapshots.
type Device struct {
	Name           string   // short display name, may be empty
	Addrs          []string // tailnet IPv4/IPv6 addresses
	OS             string   // operating system label, may be empty
	Online         bool
	ExitNodeOption bool              // eligible to act as an exit node
	ActiveExitNode bool              // currently routing our traffic
	Hostinfo       map[string]string // advertised host metadata
	ID             string            // stable device id, may be empty
}

// Aliases returns every identifier this device may be referred to by:
// name, stable id, each non-empty tailnet address, and the advertised
// Hostname/DNSName metadata values.
func (d Device) Aliases() []string {
	out := make([]string, 0, len(d.Addrs)+4)
	seen := make(map[string]struct{}, len(d.Addrs)+4)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(d.Name)
	add(d.ID)
	for _, addr := range d.Addrs {
		add(addr)
	}
	add(d.Hostinfo[HostinfoHostname])
	add(d.Hostinfo[HostinfoDNSName])
	return out
}

// PreferredArg selects the identifier passed to `tailscale set --exit-node`.
// Priority: advertised hostname, DNS name, display name, first tailnet
// address, stable id. The most stable human-meaningful identifier wins.
// Empty when the device carries no identifier at all.
func (d Device) PreferredArg() string {
	if v := d.Hostinfo[HostinfoHostname]; v != "" {
		return v
	}
	if v := d.Hostinfo[HostinfoDNSName]; v != "" {
		return v
	}
	if d.Name != "" {
		return d.Name
	}
	for _, addr := range d.Addrs {
		if addr != "" {
			return addr
		}
	}
	return d.ID
}

// HasAlias reports whether s is one of the device's aliases.
func (d Device) HasAlias(s string) bool {
	if s == "" {
		return false
	}
	for _, a := range d.Aliases() {
		if a == s {
			return true
		}
	}
	return false
}
