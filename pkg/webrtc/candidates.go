package webrtc

import (
	"net"

	"redalf.de/corestream/pkg/errs"
)

// CandidateDiscoveryConfig names the three address sources the spec's
// fallback chain tries in order.
type CandidateDiscoveryConfig struct {
	Fixed             []string // explicit operator-configured host candidates
	FromInterfaces    bool     // enumerate non-loopback local interfaces
	AllowPrivate      bool     // include RFC1918 addresses from interface enumeration
	AllowIPv6         bool
	ResolvedAPIHost   string // last resort: resolve this host (e.g. the public API hostname)
}

// DiscoverCandidates implements the spec's three-step fallback: fixed
// list, then non-loopback interface enumeration (private ranges opt-
// in, IPv6 opt-in), then a resolved API host as the last resort.
func DiscoverCandidates(cfg CandidateDiscoveryConfig) ([]string, error) {
	if len(cfg.Fixed) > 0 {
		return cfg.Fixed, nil
	}

	if cfg.FromInterfaces {
		ips, err := interfaceIPs(cfg.AllowPrivate, cfg.AllowIPv6)
		if err != nil {
			return nil, errs.Wrap(errs.KindResource, err, "webrtc: enumerate interfaces")
		}
		if len(ips) > 0 {
			return ips, nil
		}
	}

	if cfg.ResolvedAPIHost != "" {
		addrs, err := net.LookupHost(cfg.ResolvedAPIHost)
		if err != nil {
			return nil, errs.Wrap(errs.KindResource, err, "webrtc: resolve api host")
		}
		return addrs, nil
	}

	return nil, errs.New(errs.KindProtocol, "webrtc: no candidate source configured")
}

func interfaceIPs(allowPrivate, allowIPv6 bool) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip.To4() == nil && !allowIPv6 {
				continue
			}
			if isPrivate(ip) && !allowPrivate {
				continue
			}
			out = append(out, ip.String())
		}
	}
	return out, nil
}

func isPrivate(ip net.IP) bool {
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}
