package model

import "net"

// IPBan is one CIDR-masked ban range, persisted independently of any
// account (§ supplemented from the original's IPBanDAO/IPBanCache: a
// login attempt can be refused by source address alone, before any
// username is even looked up).
type IPBan struct {
	IP   string // base address of the range, e.g. "198.51.106.51"
	CIDR int    // prefix length, e.g. 8, 24, 32
}

// IPBanList is an in-memory snapshot of the ban table, checked once per
// connection attempt. Ranges are pre-parsed into net.IPNet at load time
// so IsBanned never touches the network package's string parsing on the
// hot path.
type IPBanList struct {
	nets []*net.IPNet
}

// NewIPBanList parses bans into a checkable snapshot, silently skipping
// any entry whose IP/CIDR fails to parse — a malformed row shouldn't
// take down every other ban in the list.
func NewIPBanList(bans []IPBan) *IPBanList {
	nets := make([]*net.IPNet, 0, len(bans))
	for _, b := range bans {
		ip := net.ParseIP(b.IP)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		} else {
			ip = ip.To4()
		}
		if b.CIDR < 0 || b.CIDR > bits {
			continue
		}
		nets = append(nets, &net.IPNet{IP: ip.Mask(net.CIDRMask(b.CIDR, bits)), Mask: net.CIDRMask(b.CIDR, bits)})
	}
	return &IPBanList{nets: nets}
}

// IsBanned reports whether addr falls inside any banned range. An
// unparseable addr is never matched.
func (l *IPBanList) IsBanned(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
