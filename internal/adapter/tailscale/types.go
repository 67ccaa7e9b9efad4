package tailscale

// Raw wire types for `tailscale status --json`. Only the fields the
// snapshot needs are decoded; the CLI emits far more.

type statusJSON struct {
	BackendState   string              `json:"BackendState"`
	Self           *peerJSON           `json:"Self"`
	Peer           map[string]peerJSON `json:"Peer"`
	ExitNodeStatus *exitNodeJSON       `json:"ExitNodeStatus"`
}

type peerJSON struct {
	ID             string         `json:"ID"`
	HostName       string         `json:"HostName"`
	DNSName        string         `json:"DNSName"`
	OS             string         `json:"OS"`
	TailscaleIPs   []string       `json:"TailscaleIPs"`
	Online         *bool          `json:"Online"`
	ExitNode       bool           `json:"ExitNode"`
	ExitNodeOption bool           `json:"ExitNodeOption"`
	Hostinfo       map[string]any `json:"Hostinfo"`
}

// exitNodeJSON is the ExitNodeStatus block. Different tailscale versions
// have reported the active node id under different keys, so every known
// spelling is collected as a candidate.
type exitNodeJSON struct {
	ID           string   `json:"ID"`
	PeerID       string   `json:"PeerID"`
	ExitNodeID   string   `json:"ExitNodeID"`
	Active       *bool    `json:"Active"`
	TailscaleIPs []string `json:"TailscaleIPs"`
}

// candidates returns every non-empty id this block may name the active
// exit node by, in precedence order.
func (e *exitNodeJSON) candidates() []string {
	if e == nil {
		return nil
	}
	if e.Active != nil && !*e.Active {
		return nil
	}
	var out []string
	for _, id := range []string{e.ExitNodeID, e.ID, e.PeerID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
