package feed

import (
	"time"

	"github.com/blikh/session-sniffer/internal/ipapi"
	"github.com/blikh/session-sniffer/internal/registry"
)

// PeerView is the display-ready projection of one peer record. All
// optional enrichment fields are rendered with placeholders so renderers
// never see a null.
type PeerView struct {
	IP     string
	IsHost bool

	Usernames    []string
	Rejoins      int
	Packets      int
	TotalPackets int
	Rate         int

	FirstSeen  time.Time
	LastRejoin time.Time
	LastSeen   time.Time
	Left       time.Time

	FirstPort         uint16
	LastPort          uint16
	IntermediatePorts []uint16

	// Local database lookup.
	Country     string
	CountryCode string
	City        string
	ASN         string

	// Remote batch lookup.
	Continent     string
	ContinentCode string
	Region        string
	RegionCode    string
	District      string
	Zip           string
	Lat           string
	Lon           string
	TimeZone      string
	Offset        string
	Currency      string
	ISP           string
	Org           string
	AS            string
	ASName        string
	Mobile        string
	Proxy         string
	Hosting       string

	// Trust-list association.
	Database      string
	Color         string
	DetectionTime time.Time
}

func makeView(p *registry.Peer, host *registry.Peer) PeerView {
	v := PeerView{
		IP:     p.IP,
		IsHost: p == host && host != nil,

		Usernames:    append([]string(nil), p.Usernames...),
		Rejoins:      p.Rejoins,
		Packets:      p.Packets,
		TotalPackets: p.TotalPackets,
		Rate:         p.Rate.Value,

		FirstSeen:  p.Times.FirstSeen,
		LastRejoin: p.Times.LastRejoin,
		LastSeen:   p.Times.LastSeen,
		Left:       p.Times.Left,

		FirstPort:         p.Ports.First,
		LastPort:          p.Ports.Last,
		IntermediatePorts: p.Ports.Intermediate(),

		Country:     orPlaceholder(p.Local.Country),
		CountryCode: orPlaceholder(p.Local.CountryCode),
		City:        orPlaceholder(p.Local.City),
		ASN:         orPlaceholder(p.Local.ASN),

		Database:      p.UserIP.DatabaseName,
		DetectionTime: p.UserIP.Detection.Time,
	}

	if p.UserIP.Settings != nil {
		v.Color = p.UserIP.Settings.Color
	}

	r := &p.Remote
	v.Continent = ipapi.String(r.Continent)
	v.ContinentCode = ipapi.String(r.ContinentCode)
	v.Region = ipapi.String(r.Region)
	v.RegionCode = ipapi.String(r.RegionCode)
	v.District = ipapi.String(r.District)
	v.Zip = ipapi.String(r.Zip)
	v.Lat = ipapi.Float(r.Lat)
	v.Lon = ipapi.Float(r.Lon)
	v.TimeZone = ipapi.String(r.TimeZone)
	v.Offset = ipapi.Int(r.Offset)
	v.Currency = ipapi.String(r.Currency)
	v.ISP = ipapi.String(r.ISP)
	v.Org = ipapi.String(r.Org)
	v.AS = ipapi.String(r.AS)
	v.ASName = ipapi.String(r.ASName)
	v.Mobile = ipapi.Bool(r.Mobile)
	v.Proxy = ipapi.Bool(r.Proxy)
	v.Hosting = ipapi.Bool(r.Hosting)

	return v
}

func orPlaceholder(s string) string {
	if s == "" {
		return ipapi.Placeholder
	}
	return s
}
