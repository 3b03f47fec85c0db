package statistic

import (
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"Go2NetFlow/internal/model"
)

// Aggregate holds the running totals for one direction of a flow.
// Counts and the protocol set only grow; FirstSeen only moves earlier and LastSeen only later.
type Aggregate struct {
	PacketCount uint64
	ByteCount   uint64
	URGCount    uint64
	PSHCount    uint64
	protocols   map[uint16]struct{}
	seen        bool
	FirstSeen   model.Timestamp
	LastSeen    model.Timestamp

	// InitWindow is the TCP window of the first packet that carried one.
	InitWindow *uint16
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{protocols: make(map[uint16]struct{})}
}

// Record folds one packet into the aggregate.
func (a *Aggregate) Record(p model.Packet) {
	a.PacketCount++
	a.ByteCount += p.Length
	if a.protocols == nil {
		a.protocols = make(map[uint16]struct{})
	}
	a.protocols[p.NetworkProtocol] = struct{}{}
	if a.InitWindow == nil && p.Window != nil {
		window := *p.Window
		a.InitWindow = &window
	}
	if p.Flags.Has(model.FlagURG) {
		a.URGCount++
	}
	if p.Flags.Has(model.FlagPSH) {
		a.PSHCount++
	}
	a.UpdateBounds(p.Timestamp)
}

// UpdateBounds widens the first/last seen bounds to include t.
// A timestamp that extends neither bound is noted at debug level and otherwise ignored.
func (a *Aggregate) UpdateBounds(t model.Timestamp) (firstMoved, lastMoved bool) {
	if !a.seen {
		a.seen, a.FirstSeen, a.LastSeen = true, t, t
		return true, true
	}
	if t.Before(a.FirstSeen) {
		a.FirstSeen, firstMoved = t, true
	} else {
		slog.Debug("timestamp does not precede first seen", "timestamp", t.Nanoseconds(), "first_seen", a.FirstSeen.Nanoseconds())
	}
	if t.After(a.LastSeen) {
		a.LastSeen, lastMoved = t, true
	} else {
		slog.Debug("timestamp does not follow last seen", "timestamp", t.Nanoseconds(), "last_seen", a.LastSeen.Nanoseconds())
	}
	return firstMoved, lastMoved
}

// Seen reports whether the bounds have been set.
func (a *Aggregate) Seen() bool { return a.seen }

// NetworkProtocols lists the observed network-layer protocols in ascending order.
func (a *Aggregate) NetworkProtocols() []uint16 {
	protos := slices.Sorted(maps.Keys(a.protocols))
	if protos == nil {
		protos = []uint16{}
	}
	return protos
}

// Equal compares two aggregates.
func (a *Aggregate) Equal(other *Aggregate) bool {
	return a.PacketCount == other.PacketCount &&
		a.ByteCount == other.ByteCount &&
		equalWindow(a.InitWindow, other.InitWindow) &&
		a.URGCount == other.URGCount &&
		a.PSHCount == other.PSHCount &&
		a.seen == other.seen &&
		a.FirstSeen == other.FirstSeen &&
		a.LastSeen == other.LastSeen &&
		slices.Equal(a.NetworkProtocols(), other.NetworkProtocols())
}

type aggregateJSON struct {
	PacketCount      uint64           `json:"packet_count"`
	ByteCount        uint64           `json:"byte_count"`
	NetworkProtocols []uint16         `json:"network_protocols"`
	InitWindow       *uint16          `json:"init_window,omitempty"`
	URGCount         uint64           `json:"urg_count,omitempty"`
	PSHCount         uint64           `json:"psh_count,omitempty"`
	FirstSeen        *model.Timestamp `json:"first_seen,omitempty"`
	LastSeen         *model.Timestamp `json:"last_seen,omitempty"`
}

func (a *Aggregate) MarshalJSON() ([]byte, error) {
	wire := aggregateJSON{
		PacketCount:      a.PacketCount,
		ByteCount:        a.ByteCount,
		NetworkProtocols: a.NetworkProtocols(),
		InitWindow:       a.InitWindow,
		URGCount:         a.URGCount,
		PSHCount:         a.PSHCount,
	}
	if a.seen {
		first, last := a.FirstSeen, a.LastSeen
		wire.FirstSeen, wire.LastSeen = &first, &last
	}
	return json.Marshal(wire)
}

func (a *Aggregate) UnmarshalJSON(data []byte) error {
	var wire struct {
		PacketCount      *uint64          `json:"packet_count"`
		ByteCount        *uint64          `json:"byte_count"`
		NetworkProtocols *[]uint16        `json:"network_protocols"`
		InitWindow       *uint16          `json:"init_window"`
		URGCount         uint64           `json:"urg_count"`
		PSHCount         uint64           `json:"psh_count"`
		FirstSeen        *model.Timestamp `json:"first_seen"`
		LastSeen         *model.Timestamp `json:"last_seen"`
	}
	if err := model.DecodeStrict(data, &wire); err != nil {
		return err
	}
	if wire.PacketCount == nil || wire.ByteCount == nil || wire.NetworkProtocols == nil {
		return errMissing("aggregate", "packet_count", "byte_count", "network_protocols")
	}
	if (wire.FirstSeen == nil) != (wire.LastSeen == nil) {
		return errMissing("aggregate bounds", "first_seen", "last_seen")
	}
	if (*wire.PacketCount > 0) != (wire.FirstSeen != nil) {
		return errors.New("aggregate bounds must be present exactly when packet_count is non-zero")
	}
	if *wire.PacketCount == 0 && (*wire.ByteCount != 0 || len(*wire.NetworkProtocols) != 0) {
		return errors.New("aggregate without packets has bytes or protocols")
	}
	if wire.URGCount > *wire.PacketCount || wire.PSHCount > *wire.PacketCount {
		return errors.New("aggregate flag counters exceed packet_count")
	}
	if *wire.PacketCount == 0 && wire.InitWindow != nil {
		return errors.New("aggregate without packets has an initial window")
	}
	if wire.FirstSeen != nil && wire.FirstSeen.After(*wire.LastSeen) {
		return errors.New("aggregate first_seen is after last_seen")
	}
	agg := NewAggregate()
	agg.PacketCount, agg.ByteCount = *wire.PacketCount, *wire.ByteCount
	agg.InitWindow, agg.URGCount, agg.PSHCount = wire.InitWindow, wire.URGCount, wire.PSHCount
	for _, proto := range *wire.NetworkProtocols {
		agg.protocols[proto] = struct{}{}
	}
	if wire.FirstSeen != nil {
		agg.seen, agg.FirstSeen, agg.LastSeen = true, *wire.FirstSeen, *wire.LastSeen
	}
	*a = *agg
	return nil
}

func equalWindow(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
