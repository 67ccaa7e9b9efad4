package tailscale

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"tailctl"
)

// parseStatus turns raw `tailscale status --json` output into a snapshot.
func parseStatus(raw []byte) (tailctl.Status, error) {
	var data statusJSON
	if err := json.Unmarshal(raw, &data); err != nil {
		return tailctl.Status{}, fmt.Errorf("parse status json: %w", err)
	}

	st := tailctl.Status{BackendState: data.BackendState}

	hasSelf := data.Self != nil
	if hasSelf {
		st.Devices = append(st.Devices, parseDevice(data.Self.ID, *data.Self))
	}
	// Peer is a JSON object; sort keys so snapshot order (and therefore
	// alias-map tie-breaking) is deterministic.
	keys := make([]string, 0, len(data.Peer))
	for key := range data.Peer {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		st.Devices = append(st.Devices, parseDevice(key, data.Peer[key]))
	}

	// All appends are done; indexes and pointers are stable from here on.
	byID := make(map[string]int, len(st.Devices))
	for i := range st.Devices {
		if id := st.Devices[i].ID; id != "" {
			byID[id] = i
		}
	}
	if hasSelf {
		st.Self = &st.Devices[0]
	}

	// Resolve the active exit node: the ExitNodeStatus id candidates first,
	// then the per-peer ExitNode flag as a fallback for older CLIs.
	for _, id := range data.ExitNodeStatus.candidates() {
		if i, ok := byID[id]; ok {
			st.Devices[i].ActiveExitNode = true
			st.ActiveExitNode = &st.Devices[i]
			break
		}
	}
	if st.ActiveExitNode == nil {
		for i := range st.Devices {
			if st.Devices[i].ActiveExitNode {
				st.ActiveExitNode = &st.Devices[i]
				break
			}
		}
	}

	for i := range st.Devices {
		if st.Devices[i].ExitNodeOption {
			st.ExitNodes = append(st.ExitNodes, st.Devices[i])
		}
	}

	st.Connected = tailctl.Derived(st.BackendState, st.Self)
	return st, nil
}

func parseDevice(key string, p peerJSON) tailctl.Device {
	hostinfo := make(map[string]string)
	for k, v := range p.Hostinfo {
		if s, ok := v.(string); ok && s != "" {
			hostinfo[k] = s
		}
	}
	if p.DNSName != "" && hostinfo[tailctl.HostinfoDNSName] == "" {
		hostinfo[tailctl.HostinfoDNSName] = strings.TrimSuffix(p.DNSName, ".")
	}

	rawName := hostinfo[tailctl.HostinfoHostname]
	if rawName == "" {
		rawName = p.HostName
	}
	if rawName == "" {
		rawName = p.DNSName
	}
	if rawName == "" {
		rawName = key
	}

	osName := hostinfo["OS"]
	if osName == "" {
		osName = p.OS
	}

	id := p.ID
	if id == "" {
		id = key
	}

	return tailctl.Device{
		Name:           shortHostname(rawName),
		Addrs:          p.TailscaleIPs,
		OS:             osName,
		Online:         p.Online == nil || *p.Online,
		ExitNodeOption: p.ExitNodeOption,
		ActiveExitNode: p.ExitNode,
		Hostinfo:       hostinfo,
		ID:             id,
	}
}

// shortHostname strips the tailnet DNS suffix:
// "kubuntu-pc.tail1234.ts.net" -> "kubuntu-pc".
func shortHostname(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
