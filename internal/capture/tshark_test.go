package capture

import (
	"net/netip"
	"testing"
	"time"
)

func TestParseTSharkLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Packet
		ok   bool
	}{
		{
			name: "valid line",
			line: "1724582400.500000|192.168.1.10|203.0.113.7|50000|6672",
			want: Packet{
				Timestamp: time.Unix(1724582400, int64(500*time.Millisecond)),
				SrcIP:     netip.MustParseAddr("192.168.1.10"),
				DstIP:     netip.MustParseAddr("203.0.113.7"),
				SrcPort:   50000,
				DstPort:   6672,
			},
			ok: true,
		},
		{
			name: "trailing whitespace",
			line: "1724582400.0|192.168.1.10|203.0.113.7|50000|6672\n",
			want: Packet{
				Timestamp: time.Unix(1724582400, 0),
				SrcIP:     netip.MustParseAddr("192.168.1.10"),
				DstIP:     netip.MustParseAddr("203.0.113.7"),
				SrcPort:   50000,
				DstPort:   6672,
			},
			ok: true,
		},
		{name: "missing ports", line: "1724582400.0|192.168.1.10|203.0.113.7||", ok: false},
		{name: "too few fields", line: "1724582400.0|192.168.1.10|203.0.113.7", ok: false},
		{name: "empty line", line: "", ok: false},
		{name: "bad epoch", line: "yesterday|192.168.1.10|203.0.113.7|50000|6672", ok: false},
		{name: "bad address", line: "1724582400.0|not-an-ip|203.0.113.7|50000|6672", ok: false},
		{name: "port out of range", line: "1724582400.0|192.168.1.10|203.0.113.7|70000|6672", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTSharkLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if !got.Timestamp.Equal(tt.want.Timestamp) {
				t.Errorf("timestamp = %v, want %v", got.Timestamp, tt.want.Timestamp)
			}
			if got.SrcIP != tt.want.SrcIP || got.DstIP != tt.want.DstIP {
				t.Errorf("addresses = %s/%s, want %s/%s", got.SrcIP, got.DstIP, tt.want.SrcIP, tt.want.DstIP)
			}
			if got.SrcPort != tt.want.SrcPort || got.DstPort != tt.want.DstPort {
				t.Errorf("ports = %d/%d, want %d/%d", got.SrcPort, got.DstPort, tt.want.SrcPort, tt.want.DstPort)
			}
		})
	}
}
