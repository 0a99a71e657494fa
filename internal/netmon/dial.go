package netmon

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/matheus3301/courier/internal/model"
)

// DialProber treats the device as connected when a non-loopback interface is
// up, and as reachable when a TCP dial to Addr succeeds within Timeout.
type DialProber struct {
	Addr    string
	Timeout time.Duration

	// Interfaces and Dial default to the net package.
	Interfaces func() ([]net.Interface, error)
	Dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Probe implements Prober.
func (p *DialProber) Probe(ctx context.Context) model.NetworkState {
	kind, up := p.activeInterface()
	if !up {
		return model.NetworkState{IsConnected: false, IsInternetReachable: model.Reachable(false), Type: "none"}
	}
	state := model.NetworkState{IsConnected: true, Type: kind}
	if p.Addr == "" {
		return state
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := p.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	conn, err := dial(ctx, "tcp", p.Addr)
	if err != nil {
		state.IsInternetReachable = model.Reachable(false)
		return state
	}
	_ = conn.Close()
	state.IsInternetReachable = model.Reachable(true)
	return state
}

func (p *DialProber) activeInterface() (string, bool) {
	list := p.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return "", false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		return interfaceType(iface.Name), true
	}
	return "", false
}

func interfaceType(name string) string {
	switch {
	case strings.HasPrefix(name, "wl"), strings.HasPrefix(name, "ww"):
		return "wifi"
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return "ethernet"
	default:
		return "other"
	}
}
