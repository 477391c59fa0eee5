package feed

import (
	"sort"
	"strings"

	"github.com/blikh/session-sniffer/internal/registry"
)

// Sortable field keys accepted in the configuration.
const (
	SortFirstSeen    = "first_seen"
	SortLastRejoin   = "last_rejoin"
	SortLastSeen     = "last_seen"
	SortUsernames    = "usernames"
	SortRejoins      = "rejoins"
	SortTotalPackets = "total_packets"
	SortPackets      = "packets"
	SortRate         = "rate"
	SortIPAddress    = "ip_address"
	SortCountry      = "country"
	SortCity         = "city"
	SortASN          = "asn"
)

// ValidSortField reports whether key names a sortable field.
func ValidSortField(key string) bool {
	switch key {
	case SortFirstSeen, SortLastRejoin, SortLastSeen, SortUsernames,
		SortRejoins, SortTotalPackets, SortPackets, SortRate,
		SortIPAddress, SortCountry, SortCity, SortASN:
		return true
	}
	return false
}

// sortPeers orders peers by the given field key, in place. Numeric
// traffic fields sort descending, everything else ascending; IP
// addresses compare numerically, not lexicographically.
func sortPeers(peers []*registry.Peer, key string) {
	less := lessFunc(key)
	sort.SliceStable(peers, func(i, j int) bool {
		return less(peers[i], peers[j])
	})
}

func lessFunc(key string) func(a, b *registry.Peer) bool {
	switch key {
	case SortTotalPackets:
		return func(a, b *registry.Peer) bool { return a.TotalPackets > b.TotalPackets }
	case SortPackets:
		return func(a, b *registry.Peer) bool { return a.Packets > b.Packets }
	case SortRate:
		return func(a, b *registry.Peer) bool { return a.Rate.Value > b.Rate.Value }
	case SortRejoins:
		return func(a, b *registry.Peer) bool { return a.Rejoins < b.Rejoins }
	case SortFirstSeen:
		return func(a, b *registry.Peer) bool { return a.Times.FirstSeen.Before(b.Times.FirstSeen) }
	case SortLastRejoin:
		return func(a, b *registry.Peer) bool { return a.Times.LastRejoin.Before(b.Times.LastRejoin) }
	case SortLastSeen:
		return func(a, b *registry.Peer) bool { return a.Times.LastSeen.Before(b.Times.LastSeen) }
	case SortUsernames:
		return func(a, b *registry.Peer) bool {
			return strings.Join(a.Usernames, ", ") < strings.Join(b.Usernames, ", ")
		}
	case SortCountry:
		return func(a, b *registry.Peer) bool { return a.Local.Country < b.Local.Country }
	case SortCity:
		return func(a, b *registry.Peer) bool { return a.Local.City < b.Local.City }
	case SortASN:
		return func(a, b *registry.Peer) bool { return a.Local.ASN < b.Local.ASN }
	default: // SortIPAddress
		return func(a, b *registry.Peer) bool { return a.Addr.Compare(b.Addr) < 0 }
	}
}
