package statistic

import (
	"encoding/json"
	"errors"
	"net"
	"testing"

	"Go2NetFlow/internal/model"
)

func mustKey(t *testing.T, proto uint8, src, dst string, srcPort, dstPort uint16) Key {
	t.Helper()
	key, err := NewKey(proto, src, dst, srcPort, dstPort)
	if err != nil {
		t.Fatalf("Failed to build key: %v", err)
	}
	return key
}

// sameFlow is the direct-or-swapped definition of flow identity.
func sameFlow(a, b Key) bool {
	if a.TransportProtocol != b.TransportProtocol {
		return false
	}
	direct := a.Src == b.Src && a.SrcPort == b.SrcPort && a.Dst == b.Dst && a.DstPort == b.DstPort
	swapped := a.Src == b.Dst && a.SrcPort == b.DstPort && a.Dst == b.Src && a.DstPort == b.SrcPort
	return direct || swapped
}

func TestKey_Symmetry(t *testing.T) {
	tests := []struct {
		name     string
		src, dst string
		sp, dp   uint16
	}{
		{"ipv4", "192.168.0.1", "127.0.0.1", 8001, 8002},
		{"ipv6", "2001:db8::1", "fe80::2", 443, 51234},
		{"same host", "10.0.0.1", "10.0.0.1", 9000, 80},
		{"same endpoint", "10.0.0.1", "10.0.0.1", 80, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward := mustKey(t, 6, tt.src, tt.dst, tt.sp, tt.dp)
			backward := mustKey(t, 6, tt.dst, tt.src, tt.dp, tt.sp)

			if !forward.Equal(backward) || !backward.Equal(forward) {
				t.Errorf("Expected %s and %s to be the same flow", forward, backward)
			}
			if forward.Hash() != backward.Hash() {
				t.Errorf("Expected equal hashes, got %x and %x", forward.Hash(), backward.Hash())
			}
			if forward.Canonical() != backward.Canonical() {
				t.Errorf("Expected one canonical orientation, got %s and %s", forward.Canonical(), backward.Canonical())
			}
			if forward.Reverse() != backward {
				t.Errorf("Expected Reverse(%s) = %s", forward, backward)
			}
		})
	}
}

func TestKey_ProtocolSeparation(t *testing.T) {
	tcp := mustKey(t, 6, "10.0.0.1", "10.0.0.2", 1000, 80)
	udp := mustKey(t, 17, "10.0.0.1", "10.0.0.2", 1000, 80)

	if tcp.Equal(udp) || tcp.Equal(udp.Reverse()) {
		t.Errorf("Keys differing in protocol must never be equal: %s vs %s", tcp, udp)
	}
	if tcp.Hash() == udp.Hash() {
		t.Errorf("Expected distinct hashes for %s and %s", tcp, udp)
	}
}

func TestKey_EqualMatchesDefinition(t *testing.T) {
	addrs := []string{"10.0.0.1", "10.0.0.2", "::1"}
	ports := []uint16{80, 443}
	var keys []Key
	for _, proto := range []uint8{6, 17} {
		for _, src := range addrs {
			for _, dst := range addrs {
				for _, sp := range ports {
					for _, dp := range ports {
						keys = append(keys, mustKey(t, proto, src, dst, sp, dp))
					}
				}
			}
		}
	}

	for _, a := range keys {
		for _, b := range keys {
			if got, want := a.Equal(b), sameFlow(a, b); got != want {
				t.Fatalf("Equal(%s, %s) = %t, want %t", a, b, got, want)
			}
			if a.Equal(b) && a.Hash() != b.Hash() {
				t.Fatalf("Equal keys %s and %s hash differently", a, b)
			}
		}
	}
}

func TestKey_InvalidAddress(t *testing.T) {
	_, err := NewKey(6, "999.1.1.1", "10.0.0.1", 1, 2)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
	_, err = NewKey(6, "10.0.0.1", "not-an-ip", 1, 2)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
	_, err = KeyFromTuple(model.FiveTuple{SrcIP: net.IP{1, 2, 3}, DstIP: net.IPv4(10, 0, 0, 1), Protocol: 6})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress for a truncated address, got %v", err)
	}
}

func TestKeyFromTuple_UnmapsIPv4(t *testing.T) {
	key, err := KeyFromTuple(model.FiveTuple{
		SrcIP:    net.ParseIP("192.168.0.1"), // 16-byte form
		DstIP:    net.IP{8, 8, 8, 8},
		SrcPort:  12345,
		DstPort:  53,
		Protocol: 17,
	})
	if err != nil {
		t.Fatalf("Failed to build key: %v", err)
	}
	if key != mustKey(t, 17, "192.168.0.1", "8.8.8.8", 12345, 53) {
		t.Errorf("Expected an unmapped IPv4 key, got %s", key)
	}
}

func TestNewKey_UnmapsIPv4(t *testing.T) {
	mapped := mustKey(t, 6, "::ffff:10.0.0.1", "10.0.0.2", 40000, 80)
	plain := mustKey(t, 6, "10.0.0.1", "10.0.0.2", 40000, 80)
	if mapped != plain || mapped.Hash() != plain.Hash() {
		t.Errorf("Expected %s and %s to be the same key", mapped, plain)
	}
	if !mapped.Src.Is4() {
		t.Errorf("Expected an IPv4 source, got %s", mapped.Src)
	}

	var decoded Key
	input := `{"transport_protocol":6,"src":"::ffff:10.0.0.1","src_port":40000,"dst":"10.0.0.2","dst_port":80}`
	if err := json.Unmarshal([]byte(input), &decoded); err != nil {
		t.Fatalf("Failed to decode key: %v", err)
	}
	if !decoded.Equal(plain) {
		t.Errorf("Expected the decoded key to equal %s, got %s", plain, decoded)
	}
}

func TestKey_StringAndJSON(t *testing.T) {
	key := mustKey(t, 17, "127.0.0.1", "192.168.0.1", 8001, 8002)
	if got := key.String(); got != "127.0.0.1-192.168.0.1-8001-8002-17" {
		t.Errorf("Unexpected key string %q", got)
	}

	out, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Failed to encode key: %v", err)
	}
	want := `{"transport_protocol":17,"src":"127.0.0.1","src_port":8001,"dst":"192.168.0.1","dst_port":8002}`
	if string(out) != want {
		t.Errorf("Unexpected encoding:\n got %s\nwant %s", out, want)
	}

	var back Key
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Failed to decode key: %v", err)
	}
	if back != key {
		t.Errorf("Expected %s, got %s", key, back)
	}

	for _, bad := range []string{
		`{"transport_protocol":17,"src":"127.0.0.1","src_port":8001,"dst":"192.168.0.1"}`,
		`{"transport_protocol":17,"src":"127.0.0.1","src_port":8001,"dst":"192.168.0.1","dst_port":70000}`,
		`{"transport_protocol":17,"src":"localhost","src_port":8001,"dst":"192.168.0.1","dst_port":1}`,
		`{"transport_protocol":17,"src":"127.0.0.1","src_port":8001,"dst":"192.168.0.1","dst_port":1,"vlan":3}`,
	} {
		var k Key
		if err := json.Unmarshal([]byte(bad), &k); err == nil {
			t.Errorf("Expected %s to be rejected", bad)
		}
	}
}
