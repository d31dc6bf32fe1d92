package wire

import (
	"fmt"
	"math"
)

// Message types for the registration channel and peer channel of the
// collaboration bus (Section 4.10), extending the push/pull voxel types
// already defined for Section 6.3.
const (
	MsgKeepalive MsgType = iota + 40
	MsgLeave
	MsgInform
	MsgNotify
	MsgHello
	MsgLocationUpdate
	MsgSpectrumUsage
	MsgDetailedPerformance
)

// Keepalive carries no payload beyond the tag; sent every
// keepalive_seconds/2 to hold the registration channel open.
func EncodeKeepalive() []byte { return []byte{byte(MsgKeepalive)} }

// Leave carries no payload beyond the tag; sent once at shutdown before
// peer sockets close.
func EncodeLeave() []byte { return []byte{byte(MsgLeave)} }

// Inform is the registration server's reply to REGISTER: a session nonce,
// the keepalive interval it expects, and the current neighbor list.
type Inform struct {
	Nonce            uint64
	KeepaliveSeconds uint32
	Neighbors        []uint8
}

// EncodeInform serializes an Inform message.
func EncodeInform(in Inform) []byte {
	buf := []byte{byte(MsgInform)}
	buf = appendU64(buf, in.Nonce)
	buf = appendU32(buf, in.KeepaliveSeconds)
	buf = append(buf, byte(len(in.Neighbors)))
	buf = append(buf, in.Neighbors...)
	return buf
}

// DecodeInform parses a payload produced by EncodeInform.
func DecodeInform(buf []byte) (Inform, error) {
	if len(buf) < 13 || MsgType(buf[0]) != MsgInform {
		return Inform{}, fmt.Errorf("decode inform: %w", ErrShortBuffer)
	}
	nonce, off, err := readU64(buf, 1)
	if err != nil {
		return Inform{}, err
	}
	ka, off, err := readU32(buf, off)
	if err != nil {
		return Inform{}, err
	}
	if off >= len(buf) {
		return Inform{}, fmt.Errorf("decode inform neighbor count: %w", ErrShortBuffer)
	}
	n := int(buf[off])
	off++
	if off+n > len(buf) {
		return Inform{}, fmt.Errorf("decode inform neighbors: %w", ErrShortBuffer)
	}
	neighbors := append([]uint8(nil), buf[off:off+n]...)
	return Inform{Nonce: nonce, KeepaliveSeconds: ka, Neighbors: neighbors}, nil
}

// Notify is pushed asynchronously by the registration server whenever the
// fleet-wide neighbor list changes.
type Notify struct {
	Neighbors []uint8
}

// EncodeNotify serializes a Notify message.
func EncodeNotify(n Notify) []byte {
	buf := []byte{byte(MsgNotify), byte(len(n.Neighbors))}
	return append(buf, n.Neighbors...)
}

// DecodeNotify parses a payload produced by EncodeNotify.
func DecodeNotify(buf []byte) (Notify, error) {
	if len(buf) < 2 || MsgType(buf[0]) != MsgNotify {
		return Notify{}, fmt.Errorf("decode notify: %w", ErrShortBuffer)
	}
	n := int(buf[1])
	if 2+n > len(buf) {
		return Notify{}, fmt.Errorf("decode notify neighbors: %w", ErrShortBuffer)
	}
	return Notify{Neighbors: append([]uint8(nil), buf[2:2+n]...)}, nil
}

// PeerHeader is embedded in every peer-channel message: sender id, a
// monotonically increasing per-sender sequence number, and a send
// timestamp.
type PeerHeader struct {
	SenderID          uint8
	MsgCount          uint32
	TimestampUnixNano int64
}

func encodePeerHeader(buf []byte, h PeerHeader) []byte {
	buf = append(buf, h.SenderID)
	buf = appendU32(buf, h.MsgCount)
	buf = appendU64(buf, uint64(h.TimestampUnixNano))
	return buf
}

func decodePeerHeader(buf []byte, off int) (PeerHeader, int, error) {
	if off+13 > len(buf) {
		return PeerHeader{}, off, fmt.Errorf("decode peer header: %w", ErrShortBuffer)
	}
	sender := buf[off]
	off++
	count, off, err := readU32(buf, off)
	if err != nil {
		return PeerHeader{}, off, err
	}
	ts, off, err := readU64(buf, off)
	if err != nil {
		return PeerHeader{}, off, err
	}
	return PeerHeader{SenderID: sender, MsgCount: count, TimestampUnixNano: int64(ts)}, off, nil
}

// EncodeHello serializes a HELLO sent immediately on peer-channel
// connect.
func EncodeHello(h PeerHeader) []byte {
	buf := []byte{byte(MsgHello)}
	return encodePeerHeader(buf, h)
}

// DecodeHello parses a payload produced by EncodeHello.
func DecodeHello(buf []byte) (PeerHeader, error) {
	if len(buf) < 1 || MsgType(buf[0]) != MsgHello {
		return PeerHeader{}, fmt.Errorf("decode hello: %w", ErrShortBuffer)
	}
	h, _, err := decodePeerHeader(buf, 1)
	return h, err
}

// LocationReport is one peer's location as of the report's timestamp,
// omitted from a PeerLocationUpdate if older than MAX_LOCATION_AGE.
type LocationReport struct {
	NodeID         uint8
	Lat, Lon, Alt  float64
	AgeUnixNano    int64
}

// PeerLocationUpdate carries this node's view of fresh peer locations.
type PeerLocationUpdate struct {
	Header    PeerHeader
	Locations []LocationReport
}

// EncodeLocationUpdate serializes a PeerLocationUpdate.
func EncodeLocationUpdate(u PeerLocationUpdate) []byte {
	buf := []byte{byte(MsgLocationUpdate)}
	buf = encodePeerHeader(buf, u.Header)
	buf = appendU32(buf, uint32(len(u.Locations)))
	for _, l := range u.Locations {
		buf = append(buf, l.NodeID)
		buf = appendU64(buf, math.Float64bits(l.Lat))
		buf = appendU64(buf, math.Float64bits(l.Lon))
		buf = appendU64(buf, math.Float64bits(l.Alt))
		buf = appendU64(buf, uint64(l.AgeUnixNano))
	}
	return buf
}

// DecodeLocationUpdate parses a payload produced by EncodeLocationUpdate.
func DecodeLocationUpdate(buf []byte) (PeerLocationUpdate, error) {
	if len(buf) < 1 || MsgType(buf[0]) != MsgLocationUpdate {
		return PeerLocationUpdate{}, fmt.Errorf("decode location update: %w", ErrShortBuffer)
	}
	h, off, err := decodePeerHeader(buf, 1)
	if err != nil {
		return PeerLocationUpdate{}, err
	}
	n, off, err := readU32(buf, off)
	if err != nil {
		return PeerLocationUpdate{}, err
	}
	locs := make([]LocationReport, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+1 > len(buf) {
			return PeerLocationUpdate{}, fmt.Errorf("decode location entry: %w", ErrShortBuffer)
		}
		nodeID := buf[off]
		off++
		var latBits, lonBits, altBits, age uint64
		if latBits, off, err = readU64(buf, off); err != nil {
			return PeerLocationUpdate{}, err
		}
		if lonBits, off, err = readU64(buf, off); err != nil {
			return PeerLocationUpdate{}, err
		}
		if altBits, off, err = readU64(buf, off); err != nil {
			return PeerLocationUpdate{}, err
		}
		if age, off, err = readU64(buf, off); err != nil {
			return PeerLocationUpdate{}, err
		}
		locs = append(locs, LocationReport{
			NodeID: nodeID,
			Lat:    math.Float64frombits(latBits),
			Lon:    math.Float64frombits(lonBits),
			Alt:    math.Float64frombits(altBits),
			AgeUnixNano: int64(age),
		})
	}
	return PeerLocationUpdate{Header: h, Locations: locs}, nil
}

// SpectrumVoxel mirrors a single CIL voxel: a frequency range claimed by
// a transmitter for a set of receivers at a given duty cycle, either
// drained from historical load reports (Measured=true) or predicted from
// the current schedule (Measured=false).
type SpectrumVoxel struct {
	FStart, FEnd float64
	DutyCycle    float64
	Tx           uint8
	Rx           []uint8
	Measured     bool
}

// SpectrumUsageReport carries the historical and predicted voxel lists
// for one reporting period.
type SpectrumUsageReport struct {
	Header PeerHeader
	Voxels []SpectrumVoxel
}

// EncodeSpectrumUsage serializes a SpectrumUsageReport.
func EncodeSpectrumUsage(r SpectrumUsageReport) []byte {
	buf := []byte{byte(MsgSpectrumUsage)}
	buf = encodePeerHeader(buf, r.Header)
	buf = appendU32(buf, uint32(len(r.Voxels)))
	for _, v := range r.Voxels {
		buf = appendU64(buf, math.Float64bits(v.FStart))
		buf = appendU64(buf, math.Float64bits(v.FEnd))
		buf = appendU64(buf, math.Float64bits(v.DutyCycle))
		buf = append(buf, v.Tx)
		buf = append(buf, byte(len(v.Rx)))
		buf = append(buf, v.Rx...)
		if v.Measured {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// DecodeSpectrumUsage parses a payload produced by EncodeSpectrumUsage.
func DecodeSpectrumUsage(buf []byte) (SpectrumUsageReport, error) {
	if len(buf) < 1 || MsgType(buf[0]) != MsgSpectrumUsage {
		return SpectrumUsageReport{}, fmt.Errorf("decode spectrum usage: %w", ErrShortBuffer)
	}
	h, off, err := decodePeerHeader(buf, 1)
	if err != nil {
		return SpectrumUsageReport{}, err
	}
	n, off, err := readU32(buf, off)
	if err != nil {
		return SpectrumUsageReport{}, err
	}
	voxels := make([]SpectrumVoxel, 0, n)
	for i := uint32(0); i < n; i++ {
		var fStartBits, fEndBits, dutyBits uint64
		if fStartBits, off, err = readU64(buf, off); err != nil {
			return SpectrumUsageReport{}, err
		}
		if fEndBits, off, err = readU64(buf, off); err != nil {
			return SpectrumUsageReport{}, err
		}
		if dutyBits, off, err = readU64(buf, off); err != nil {
			return SpectrumUsageReport{}, err
		}
		if off+2 > len(buf) {
			return SpectrumUsageReport{}, fmt.Errorf("decode voxel header: %w", ErrShortBuffer)
		}
		tx := buf[off]
		off++
		rxN := int(buf[off])
		off++
		if off+rxN+1 > len(buf) {
			return SpectrumUsageReport{}, fmt.Errorf("decode voxel receivers: %w", ErrShortBuffer)
		}
		rx := append([]uint8(nil), buf[off:off+rxN]...)
		off += rxN
		measured := buf[off] == 1
		off++
		voxels = append(voxels, SpectrumVoxel{
			FStart: math.Float64frombits(fStartBits), FEnd: math.Float64frombits(fEndBits),
			DutyCycle: math.Float64frombits(dutyBits), Tx: tx, Rx: rx, Measured: measured,
		})
	}
	return SpectrumUsageReport{Header: h, Voxels: voxels}, nil
}

// DetailedPerformanceReport carries the per-flow FlowPerformance counters
// for one reporting period, reusing FlowStatsUpdate's shape.
type DetailedPerformanceReport struct {
	Header PeerHeader
	Flows  []FlowStatsUpdate
}

// EncodeDetailedPerformance serializes a DetailedPerformanceReport.
func EncodeDetailedPerformance(r DetailedPerformanceReport) []byte {
	buf := []byte{byte(MsgDetailedPerformance)}
	buf = encodePeerHeader(buf, r.Header)
	buf = appendU32(buf, uint32(len(r.Flows)))
	for _, f := range r.Flows {
		inner := EncodeFlowStatsUpdate(f)
		buf = append(buf, inner...) // inner already carries its own MsgFlowStats tag + fields
	}
	return buf
}

// DecodeDetailedPerformance parses a payload produced by
// EncodeDetailedPerformance.
func DecodeDetailedPerformance(buf []byte) (DetailedPerformanceReport, error) {
	if len(buf) < 1 || MsgType(buf[0]) != MsgDetailedPerformance {
		return DetailedPerformanceReport{}, fmt.Errorf("decode detailed performance: %w", ErrShortBuffer)
	}
	h, off, err := decodePeerHeader(buf, 1)
	if err != nil {
		return DetailedPerformanceReport{}, err
	}
	n, off, err := readU32(buf, off)
	if err != nil {
		return DetailedPerformanceReport{}, err
	}
	flows := make([]FlowStatsUpdate, 0, n)
	for i := uint32(0); i < n; i++ {
		f, consumed, err := decodeFlowStatsUpdateAt(buf, off)
		if err != nil {
			return DetailedPerformanceReport{}, err
		}
		flows = append(flows, f)
		off = consumed
	}
	return DetailedPerformanceReport{Header: h, Flows: flows}, nil
}

// decodeFlowStatsUpdateAt decodes one FlowStatsUpdate embedded at off and
// returns the offset immediately past it, since DecodeFlowStatsUpdate
// itself assumes its payload starts the buffer.
func decodeFlowStatsUpdateAt(buf []byte, off int) (FlowStatsUpdate, int, error) {
	if off+19 > len(buf) {
		return FlowStatsUpdate{}, off, fmt.Errorf("decode embedded flow stats: %w", ErrShortBuffer)
	}
	flowID, next, err := readU32(buf, off+1)
	if err != nil {
		return FlowStatsUpdate{}, off, err
	}
	src, dest := buf[next], buf[next+1]
	next += 2
	firstMP, next, err := readU64(buf, next)
	if err != nil {
		return FlowStatsUpdate{}, off, err
	}
	n, next, err := readU32(buf, next)
	if err != nil {
		return FlowStatsUpdate{}, off, err
	}
	npackets := make([]int64, n)
	nbytes := make([]int64, n)
	for i := uint32(0); i < n; i++ {
		var p, b uint64
		if p, next, err = readU64(buf, next); err != nil {
			return FlowStatsUpdate{}, off, err
		}
		if b, next, err = readU64(buf, next); err != nil {
			return FlowStatsUpdate{}, off, err
		}
		npackets[i] = int64(p)
		nbytes[i] = int64(b)
	}
	return FlowStatsUpdate{
		FlowID: flowID, Src: src, Dest: dest, FirstMP: int64(firstMP),
		NPackets: npackets, NBytes: nbytes,
	}, next, nil
}
