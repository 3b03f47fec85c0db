package statistic

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"Go2NetFlow/internal/model"
)

// ErrSealedRecord is returned when packets are ingested into a record restored from a
// summarized snapshot, which no longer has the samples its statistics were built from.
var ErrSealedRecord = errors.New("record restored from a summarized snapshot cannot ingest packets")

// RecordConfig carries the per-flow settings threaded from the ingestion entry point.
type RecordConfig struct {
	ActivityTimeout time.Duration
	// RetainPackets keeps every packet in per-direction lists next to the aggregates.
	RetainPackets bool
}

// Record is the aggregated state of one flow.
// Key keeps the orientation of the first packet seen, which defines the forward direction.
type Record struct {
	Key             Key
	Forward         *Aggregate
	Backward        *Aggregate
	ForwardPackets  []model.Packet
	BackwardPackets []model.Packet
	SNI             string
	Bidirectional   bool

	cfg      RecordConfig
	activity *ActivityTracker
	lengths  []float64 // packet lengths, bytes
	iats     []float64 // inter-arrival gaps, seconds
	started  bool
	previous model.Timestamp

	// sealed holds the statistics of a record restored from a summarized snapshot.
	sealed *sealedStats
}

type sealedStats struct {
	active, idle, packetLength, interArrival Summary
}

// NewRecord returns an empty record for key.
func NewRecord(key Key, cfg RecordConfig) *Record {
	return &Record{
		Key:      key,
		Forward:  NewAggregate(),
		Backward: NewAggregate(),
		cfg:      cfg,
		activity: NewActivityTracker(cfg.ActivityTimeout),
	}
}

// DirectionOf tells whether an observed key travels forward or backward relative to the record.
// The observed key is expected to be the same flow as the record key.
func (r *Record) DirectionOf(observed Key) model.Direction {
	if observed == r.Key {
		return model.Forward
	}
	return model.Backward
}

// Ingest folds a packet travelling in direction dir into the record.
func (r *Record) Ingest(p model.Packet, dir model.Direction) error {
	if r.sealed != nil {
		return ErrSealedRecord
	}
	if dir == model.Backward {
		r.Backward.Record(p)
		if r.cfg.RetainPackets {
			r.BackwardPackets = append(r.BackwardPackets, p)
		}
	} else {
		r.Forward.Record(p)
		if r.cfg.RetainPackets {
			r.ForwardPackets = append(r.ForwardPackets, p)
		}
	}

	r.activity.Observe(p.Timestamp)
	r.lengths = append(r.lengths, float64(p.Length))
	switch {
	case !r.started:
		r.started, r.previous = true, p.Timestamp
	case !p.Timestamp.Before(r.previous):
		r.iats = append(r.iats, p.Timestamp.Sub(r.previous).Seconds())
		r.previous = p.Timestamp
	}

	if !r.Bidirectional && r.Forward.PacketCount > 0 && r.Backward.PacketCount > 0 {
		r.Bidirectional = true
	}
	return nil
}

// SetSNI records the application-layer server name. The first non-empty name wins.
func (r *Record) SetSNI(name string) {
	if r.SNI == "" {
		r.SNI = name
	}
}

// Finalize closes the open activity burst. No more packets are expected afterwards.
func (r *Record) Finalize() {
	if r.activity != nil {
		r.activity.Close()
	}
}

// PacketCount returns the number of packets in both directions.
func (r *Record) PacketCount() uint64 { return r.Forward.PacketCount + r.Backward.PacketCount }

// ByteCount returns the number of bytes in both directions.
func (r *Record) ByteCount() uint64 { return r.Forward.ByteCount + r.Backward.ByteCount }

// Bounds returns the first and last timestamps over both directions. ok is false for an empty record.
func (r *Record) Bounds() (first, last model.Timestamp, ok bool) {
	for _, agg := range []*Aggregate{r.Forward, r.Backward} {
		if !agg.Seen() {
			continue
		}
		if !ok || agg.FirstSeen.Before(first) {
			first = agg.FirstSeen
		}
		if !ok || agg.LastSeen.After(last) {
			last = agg.LastSeen
		}
		ok = true
	}
	return first, last, ok
}

// Active summarizes burst durations in seconds, counting a still-open burst as if the flow ended now.
func (r *Record) Active() Summary {
	if r.sealed != nil {
		return r.sealed.active
	}
	return r.activity.ActiveAtEnd()
}

// Idle summarizes the gaps between bursts in seconds.
func (r *Record) Idle() Summary {
	if r.sealed != nil {
		return r.sealed.idle
	}
	return r.activity.Idle()
}

// PacketLength summarizes packet lengths over both directions.
func (r *Record) PacketLength() Summary {
	if r.sealed != nil {
		return r.sealed.packetLength
	}
	return NewSummary(r.lengths)
}

// InterArrival summarizes the gap in seconds between consecutive packets of either direction.
func (r *Record) InterArrival() Summary {
	if r.sealed != nil {
		return r.sealed.interArrival
	}
	return NewSummary(r.iats)
}

// OutOfOrder returns how many packets arrived with a timestamp earlier than their predecessor.
func (r *Record) OutOfOrder() uint64 {
	if r.activity == nil {
		return 0
	}
	return r.activity.OutOfOrder()
}

// Sealed reports whether the record was restored from a summarized snapshot.
func (r *Record) Sealed() bool { return r.sealed != nil }

// Equal compares the persisted view of two records.
func (r *Record) Equal(other *Record) bool {
	return r.Key == other.Key &&
		r.SNI == other.SNI &&
		r.Bidirectional == other.Bidirectional &&
		r.Forward.Equal(other.Forward) &&
		r.Backward.Equal(other.Backward) &&
		slices.EqualFunc(r.ForwardPackets, other.ForwardPackets, model.Packet.Equal) &&
		slices.EqualFunc(r.BackwardPackets, other.BackwardPackets, model.Packet.Equal) &&
		r.Active().Equal(other.Active()) &&
		r.Idle().Equal(other.Idle()) &&
		r.PacketLength().Equal(other.PacketLength()) &&
		r.InterArrival().Equal(other.InterArrival())
}

type retainedJSON struct {
	SNI                string         `json:"sni,omitempty"`
	BackwardPacketList []model.Packet `json:"backward_packet_list"`
	ForwardPacketList  []model.Packet `json:"forward_packet_list"`
}

type summarizedJSON struct {
	SNI               string     `json:"sni,omitempty"`
	BackwardAggregate *Aggregate `json:"backward_aggregate"`
	ForwardAggregate  *Aggregate `json:"forward_aggregate"`
	Bidirectional     bool       `json:"bidirectional"`
	Active            Summary    `json:"active"`
	Idle              Summary    `json:"idle"`
	PacketLength      Summary    `json:"packet_length"`
	InterArrival      Summary    `json:"inter_arrival"`
}

// MarshalJSON writes the packet-retaining form when the record keeps packets,
// and the summarized form otherwise.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r.cfg.RetainPackets && r.sealed == nil {
		return json.Marshal(retainedJSON{
			SNI:                r.SNI,
			BackwardPacketList: nonNil(r.BackwardPackets),
			ForwardPacketList:  nonNil(r.ForwardPackets),
		})
	}
	return json.Marshal(summarizedJSON{
		SNI:               r.SNI,
		BackwardAggregate: r.Backward,
		ForwardAggregate:  r.Forward,
		Bidirectional:     r.Bidirectional,
		Active:            r.Active(),
		Idle:              r.Idle(),
		PacketLength:      r.PacketLength(),
		InterArrival:      r.InterArrival(),
	})
}

// DecodeRecord restores a record for key from either persisted form.
// Packet lists are replayed in capture position order so every statistic is rebuilt;
// the summarized form yields a sealed record.
func DecodeRecord(data []byte, key Key, cfg RecordConfig) (*Record, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if probe == nil {
		return nil, errors.New("flow record must be an object")
	}
	_, hasForwardList := probe["forward_packet_list"]
	_, hasForwardAgg := probe["forward_aggregate"]

	switch {
	case hasForwardList && !hasForwardAgg:
		return decodeRetained(data, key, cfg)
	case hasForwardAgg && !hasForwardList:
		return decodeSummarized(data, key, cfg)
	case hasForwardAgg && hasForwardList:
		return nil, errors.New("flow record mixes packet lists and aggregates")
	}
	return nil, errMissing("flow record", "forward_packet_list or forward_aggregate")
}

func decodeRetained(data []byte, key Key, cfg RecordConfig) (*Record, error) {
	var wire struct {
		SNI                *string         `json:"sni"`
		BackwardPacketList *[]model.Packet `json:"backward_packet_list"`
		ForwardPacketList  *[]model.Packet `json:"forward_packet_list"`
	}
	if err := model.DecodeStrict(data, &wire); err != nil {
		return nil, err
	}
	if wire.BackwardPacketList == nil || wire.ForwardPacketList == nil {
		return nil, errMissing("flow record", "backward_packet_list", "forward_packet_list")
	}

	type replayed struct {
		packet model.Packet
		dir    model.Direction
	}
	all := make([]replayed, 0, len(*wire.ForwardPacketList)+len(*wire.BackwardPacketList))
	for _, p := range *wire.ForwardPacketList {
		all = append(all, replayed{p, model.Forward})
	}
	for _, p := range *wire.BackwardPacketList {
		all = append(all, replayed{p, model.Backward})
	}
	slices.SortStableFunc(all, func(a, b replayed) int {
		return cmp.Compare(a.packet.Position, b.packet.Position)
	})

	cfg.RetainPackets = true
	r := NewRecord(key, cfg)
	for _, p := range all {
		if err := r.Ingest(p.packet, p.dir); err != nil {
			return nil, err
		}
	}
	if wire.SNI != nil {
		r.SNI = *wire.SNI
	}
	return r, nil
}

func decodeSummarized(data []byte, key Key, cfg RecordConfig) (*Record, error) {
	var wire struct {
		SNI               *string    `json:"sni"`
		BackwardAggregate *Aggregate `json:"backward_aggregate"`
		ForwardAggregate  *Aggregate `json:"forward_aggregate"`
		Bidirectional     *bool      `json:"bidirectional"`
		Active            *Summary   `json:"active"`
		Idle              *Summary   `json:"idle"`
		PacketLength      *Summary   `json:"packet_length"`
		InterArrival      *Summary   `json:"inter_arrival"`
	}
	if err := model.DecodeStrict(data, &wire); err != nil {
		return nil, err
	}
	if wire.BackwardAggregate == nil || wire.ForwardAggregate == nil || wire.Bidirectional == nil ||
		wire.Active == nil || wire.Idle == nil || wire.PacketLength == nil || wire.InterArrival == nil {
		return nil, errMissing("summarized flow record",
			"backward_aggregate", "forward_aggregate", "bidirectional", "active", "idle", "packet_length", "inter_arrival")
	}
	if err := checkSummarized(*wire.ForwardAggregate, *wire.BackwardAggregate, *wire.Bidirectional, *wire.PacketLength, *wire.InterArrival); err != nil {
		return nil, err
	}
	cfg.RetainPackets = false
	r := NewRecord(key, cfg)
	r.Forward, r.Backward = wire.ForwardAggregate, wire.BackwardAggregate
	r.Bidirectional = *wire.Bidirectional
	if wire.SNI != nil {
		r.SNI = *wire.SNI
	}
	r.sealed = &sealedStats{
		active:       *wire.Active,
		idle:         *wire.Idle,
		packetLength: *wire.PacketLength,
		interArrival: *wire.InterArrival,
	}
	return r, nil
}

// checkSummarized rejects summarized state no sequence of packets could have produced.
func checkSummarized(forward, backward Aggregate, bidirectional bool, packetLength, interArrival Summary) error {
	if want := forward.PacketCount > 0 && backward.PacketCount > 0; bidirectional != want {
		return fmt.Errorf("bidirectional is %t for %d forward and %d backward packets",
			bidirectional, forward.PacketCount, backward.PacketCount)
	}
	packets := forward.PacketCount + backward.PacketCount
	if packetLength.Count != packets {
		return fmt.Errorf("packet_length counts %d values for %d packets", packetLength.Count, packets)
	}
	if packetLength.Sum != float64(forward.ByteCount+backward.ByteCount) {
		return fmt.Errorf("packet_length sum %v does not match %d bytes", packetLength.Sum, forward.ByteCount+backward.ByteCount)
	}
	if packets > 0 && interArrival.Count >= packets {
		return fmt.Errorf("inter_arrival counts %d gaps for %d packets", interArrival.Count, packets)
	}
	if packets == 0 && interArrival.Count != 0 {
		return fmt.Errorf("inter_arrival counts %d gaps for an empty flow", interArrival.Count)
	}
	return nil
}

func nonNil(packets []model.Packet) []model.Packet {
	if packets == nil {
		return []model.Packet{}
	}
	return packets
}

// String is a one-line description used in logs.
func (r *Record) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s fwd=%d/%dB bwd=%d/%dB", r.Key, r.Forward.PacketCount, r.Forward.ByteCount,
		r.Backward.PacketCount, r.Backward.ByteCount)
	if r.SNI != "" {
		fmt.Fprintf(&buf, " sni=%s", r.SNI)
	}
	return buf.String()
}
