// Package wire implements the length-prefixed binary framing and tagged
// message codecs shared by the three external protocols (RF control plane
// specification Section 6): the local remote-control socket (6.1), the
// internal peer protocol (6.2), and the collaboration bus (6.3).
//
// Every message on the wire is a big-endian u16 length prefix (the number
// of bytes that follow, excluding the prefix itself) followed by a one-byte
// message-type tag and a type-specific payload. No ZMQ client library
// exists anywhere in the retrieved dependency corpus, so the collaboration
// bus reuses this same framing over plain TCP rather than a PUSH/PULL
// socket.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxFrameSize bounds a single frame's payload, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const MaxFrameSize = 1 << 20

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	// ErrShortBuffer is returned when a buffer is too small to hold a
	// tag and its expected payload.
	ErrShortBuffer = errors.New("wire: buffer too short for message")
	// ErrUnknownType is returned when a message tag is not recognized.
	ErrUnknownType = errors.New("wire: unknown message type")
)

// ReadFrame reads one length-prefixed frame from r and returns its payload
// (tag byte included).
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload to w with its big-endian u16 length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// MsgType tags the payload of a single frame.
type MsgType uint8

// Message types for the local remote-control protocol (Section 6.1).
const (
	MsgRadioCommand MsgType = iota + 1
	MsgUpdateMandatedOutcomes
	MsgUpdateEnvironment
	MsgResponse
)

// Message types for the internal peer protocol (Section 6.2).
const (
	MsgStatus MsgType = iota + 16
	MsgSchedule
	MsgFlowStats
	MsgSpectrumStats
)

// Message types for the collaboration bus (Section 6.3).
const (
	MsgRegister MsgType = iota + 32
	MsgPushVoxel
	MsgPullVoxel
)

// MsgDiscoveryHello is the NeighborDiscovery broadcast (Section 4.8),
// carried over the same internal peer protocol socket as Status et al.
const MsgDiscoveryHello MsgType = 20

// DiscoveryHello announces this node's identity, gateway status, and
// location to the broadcast domain.
type DiscoveryHello struct {
	NodeID    uint8
	IsGateway bool
	Lat, Lon, Alt float64
}

// EncodeDiscoveryHello serializes a DiscoveryHello.
func EncodeDiscoveryHello(h DiscoveryHello) []byte {
	buf := []byte{byte(MsgDiscoveryHello), h.NodeID}
	if h.IsGateway {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU64(buf, math.Float64bits(h.Lat))
	buf = appendU64(buf, math.Float64bits(h.Lon))
	buf = appendU64(buf, math.Float64bits(h.Alt))
	return buf
}

// DecodeDiscoveryHello parses a payload produced by EncodeDiscoveryHello.
func DecodeDiscoveryHello(buf []byte) (DiscoveryHello, error) {
	if len(buf) < 26 || MsgType(buf[0]) != MsgDiscoveryHello {
		return DiscoveryHello{}, fmt.Errorf("decode discovery hello: %w", ErrShortBuffer)
	}
	isGateway := buf[2] == 1
	latBits, off, err := readU64(buf, 3)
	if err != nil {
		return DiscoveryHello{}, err
	}
	lonBits, off, err := readU64(buf, off)
	if err != nil {
		return DiscoveryHello{}, err
	}
	altBits, _, err := readU64(buf, off)
	if err != nil {
		return DiscoveryHello{}, err
	}
	return DiscoveryHello{
		NodeID:    buf[1],
		IsGateway: isGateway,
		Lat:       math.Float64frombits(latBits),
		Lon:       math.Float64frombits(lonBits),
		Alt:       math.Float64frombits(altBits),
	}, nil
}

// RadioCommandType distinguishes the three remote-control verbs.
type RadioCommandType uint8

const (
	CommandStart RadioCommandType = iota + 1
	CommandStop
	CommandStatus
)

// RadioCommand is the Section 6.1 START/STOP/STATUS control message.
type RadioCommand struct {
	Command RadioCommandType
}

// EncodeRadioCommand serializes a RadioCommand frame (tag + 1-byte verb).
func EncodeRadioCommand(cmd RadioCommand) []byte {
	return []byte{byte(MsgRadioCommand), byte(cmd.Command)}
}

// DecodeRadioCommand parses a RadioCommand frame payload (tag included).
func DecodeRadioCommand(buf []byte) (RadioCommand, error) {
	if len(buf) < 2 || MsgType(buf[0]) != MsgRadioCommand {
		return RadioCommand{}, fmt.Errorf("decode radio command: %w", ErrShortBuffer)
	}
	return RadioCommand{Command: RadioCommandType(buf[1])}, nil
}

// Goal mirrors mandate.Goal on the wire: three optional requirement
// thresholds, each flagged present/absent by a leading byte since the
// wire format carries no native null.
type Goal struct {
	FlowID                uint32
	PointValue            uint32
	HoldPeriod            uint32
	MaxLatencyS           *float64
	MinThroughputBps      *float64
	FileTransferDeadlineS *float64
}

// EncodeUpdateMandatedOutcomes serializes the mandated-goal list delivered
// by the collaboration server when a scenario stage begins.
func EncodeUpdateMandatedOutcomes(goals []Goal) []byte {
	buf := []byte{byte(MsgUpdateMandatedOutcomes)}
	buf = appendU32(buf, uint32(len(goals)))
	for _, g := range goals {
		buf = appendU32(buf, g.FlowID)
		buf = appendU32(buf, g.PointValue)
		buf = appendU32(buf, g.HoldPeriod)
		buf = appendOptFloat(buf, g.MaxLatencyS)
		buf = appendOptFloat(buf, g.MinThroughputBps)
		buf = appendOptFloat(buf, g.FileTransferDeadlineS)
	}
	return buf
}

// DecodeUpdateMandatedOutcomes parses a payload produced by
// EncodeUpdateMandatedOutcomes.
func DecodeUpdateMandatedOutcomes(buf []byte) ([]Goal, error) {
	if len(buf) < 5 || MsgType(buf[0]) != MsgUpdateMandatedOutcomes {
		return nil, fmt.Errorf("decode mandated outcomes: %w", ErrShortBuffer)
	}
	off := 1
	n, off, err := readU32(buf, off)
	if err != nil {
		return nil, err
	}
	goals := make([]Goal, 0, n)
	for i := uint32(0); i < n; i++ {
		var g Goal
		var flowID, pv, hp uint32
		if flowID, off, err = readU32(buf, off); err != nil {
			return nil, err
		}
		if pv, off, err = readU32(buf, off); err != nil {
			return nil, err
		}
		if hp, off, err = readU32(buf, off); err != nil {
			return nil, err
		}
		g.FlowID, g.PointValue, g.HoldPeriod = flowID, pv, hp
		if g.MaxLatencyS, off, err = readOptFloat(buf, off); err != nil {
			return nil, err
		}
		if g.MinThroughputBps, off, err = readOptFloat(buf, off); err != nil {
			return nil, err
		}
		if g.FileTransferDeadlineS, off, err = readOptFloat(buf, off); err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, nil
}

// Environment describes a voxel-bounded channel availability update
// (Section 6.1 UpdateEnvironment).
type Environment struct {
	VoxelID        uint32
	ChannelsUsable []uint16
}

// EncodeUpdateEnvironment serializes an Environment update.
func EncodeUpdateEnvironment(env Environment) []byte {
	buf := []byte{byte(MsgUpdateEnvironment)}
	buf = appendU32(buf, env.VoxelID)
	buf = appendU32(buf, uint32(len(env.ChannelsUsable)))
	for _, ch := range env.ChannelsUsable {
		buf = appendU16(buf, ch)
	}
	return buf
}

// DecodeUpdateEnvironment parses a payload produced by
// EncodeUpdateEnvironment.
func DecodeUpdateEnvironment(buf []byte) (Environment, error) {
	if len(buf) < 9 || MsgType(buf[0]) != MsgUpdateEnvironment {
		return Environment{}, fmt.Errorf("decode environment: %w", ErrShortBuffer)
	}
	off := 1
	voxel, off, err := readU32(buf, off)
	if err != nil {
		return Environment{}, err
	}
	n, off, err := readU32(buf, off)
	if err != nil {
		return Environment{}, err
	}
	channels := make([]uint16, 0, n)
	for i := uint32(0); i < n; i++ {
		var ch uint16
		if ch, off, err = readU16(buf, off); err != nil {
			return Environment{}, err
		}
		channels = append(channels, ch)
	}
	return Environment{VoxelID: voxel, ChannelsUsable: channels}, nil
}

// Response carries a status code and human-readable text back to a remote
// control client.
type Response struct {
	OK      bool
	Message string
}

// EncodeResponse serializes a Response.
func EncodeResponse(r Response) []byte {
	buf := []byte{byte(MsgResponse)}
	if r.OK {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU32(buf, uint32(len(r.Message)))
	buf = append(buf, []byte(r.Message)...)
	return buf
}

// DecodeResponse parses a payload produced by EncodeResponse.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < 6 || MsgType(buf[0]) != MsgResponse {
		return Response{}, fmt.Errorf("decode response: %w", ErrShortBuffer)
	}
	ok := buf[1] == 1
	n, off, err := readU32(buf, 2)
	if err != nil {
		return Response{}, err
	}
	if off+int(n) > len(buf) {
		return Response{}, fmt.Errorf("decode response message: %w", ErrShortBuffer)
	}
	return Response{OK: ok, Message: string(buf[off : off+int(n)])}, nil
}

// StatusReport is the Section 6.2 periodic node status heartbeat.
type StatusReport struct {
	NodeID    uint8
	State     uint8
	TimestampUnixNano int64
	IsGateway bool
}

// EncodeStatusReport serializes a StatusReport.
func EncodeStatusReport(s StatusReport) []byte {
	buf := []byte{byte(MsgStatus), s.NodeID, s.State}
	if s.IsGateway {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU64(buf, uint64(s.TimestampUnixNano))
	return buf
}

// DecodeStatusReport parses a payload produced by EncodeStatusReport.
func DecodeStatusReport(buf []byte) (StatusReport, error) {
	if len(buf) < 12 || MsgType(buf[0]) != MsgStatus {
		return StatusReport{}, fmt.Errorf("decode status: %w", ErrShortBuffer)
	}
	ts, _, err := readU64(buf, 4)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		NodeID:            buf[1],
		State:             buf[2],
		IsGateway:         buf[3] == 1,
		TimestampUnixNano: int64(ts),
	}, nil
}

// ScheduleUpdate carries a freshly installed MAC schedule to peers
// (Section 6.2). Cells is row-major, NChannels rows of NSlots columns.
type ScheduleUpdate struct {
	Seq       uint64
	NChannels uint16
	NSlots    uint16
	Cells     []uint8
}

// EncodeScheduleUpdate serializes a ScheduleUpdate.
func EncodeScheduleUpdate(s ScheduleUpdate) []byte {
	buf := []byte{byte(MsgSchedule)}
	buf = appendU64(buf, s.Seq)
	buf = appendU16(buf, s.NChannels)
	buf = appendU16(buf, s.NSlots)
	buf = append(buf, s.Cells...)
	return buf
}

// DecodeScheduleUpdate parses a payload produced by EncodeScheduleUpdate.
func DecodeScheduleUpdate(buf []byte) (ScheduleUpdate, error) {
	if len(buf) < 13 || MsgType(buf[0]) != MsgSchedule {
		return ScheduleUpdate{}, fmt.Errorf("decode schedule: %w", ErrShortBuffer)
	}
	seq, off, err := readU64(buf, 1)
	if err != nil {
		return ScheduleUpdate{}, err
	}
	nchannels, off, err := readU16(buf, off)
	if err != nil {
		return ScheduleUpdate{}, err
	}
	nslots, off, err := readU16(buf, off)
	if err != nil {
		return ScheduleUpdate{}, err
	}
	want := int(nchannels) * int(nslots)
	if len(buf)-off < want {
		return ScheduleUpdate{}, fmt.Errorf("decode schedule cells: %w", ErrShortBuffer)
	}
	cells := append([]uint8(nil), buf[off:off+want]...)
	return ScheduleUpdate{Seq: seq, NChannels: nchannels, NSlots: nslots, Cells: cells}, nil
}

// FlowStatsUpdate carries one flow's dense per-measurement-period counters
// (Section 6.2).
type FlowStatsUpdate struct {
	FlowID   uint32
	Src      uint8
	Dest     uint8
	FirstMP  int64
	NPackets []int64
	NBytes   []int64
}

// EncodeFlowStatsUpdate serializes a FlowStatsUpdate.
func EncodeFlowStatsUpdate(f FlowStatsUpdate) []byte {
	buf := []byte{byte(MsgFlowStats)}
	buf = appendU32(buf, f.FlowID)
	buf = append(buf, f.Src, f.Dest)
	buf = appendU64(buf, uint64(f.FirstMP))
	buf = appendU32(buf, uint32(len(f.NPackets)))
	for i := range f.NPackets {
		buf = appendU64(buf, uint64(f.NPackets[i]))
		buf = appendU64(buf, uint64(f.NBytes[i]))
	}
	return buf
}

// DecodeFlowStatsUpdate parses a payload produced by
// EncodeFlowStatsUpdate.
func DecodeFlowStatsUpdate(buf []byte) (FlowStatsUpdate, error) {
	if len(buf) < 19 || MsgType(buf[0]) != MsgFlowStats {
		return FlowStatsUpdate{}, fmt.Errorf("decode flow stats: %w", ErrShortBuffer)
	}
	off := 1
	flowID, off, err := readU32(buf, off)
	if err != nil {
		return FlowStatsUpdate{}, err
	}
	src, dest := buf[off], buf[off+1]
	off += 2
	firstMP, off, err := readU64(buf, off)
	if err != nil {
		return FlowStatsUpdate{}, err
	}
	n, off, err := readU32(buf, off)
	if err != nil {
		return FlowStatsUpdate{}, err
	}
	npackets := make([]int64, n)
	nbytes := make([]int64, n)
	for i := uint32(0); i < n; i++ {
		var p, b uint64
		if p, off, err = readU64(buf, off); err != nil {
			return FlowStatsUpdate{}, err
		}
		if b, off, err = readU64(buf, off); err != nil {
			return FlowStatsUpdate{}, err
		}
		npackets[i] = int64(p)
		nbytes[i] = int64(b)
	}
	return FlowStatsUpdate{
		FlowID: flowID, Src: src, Dest: dest, FirstMP: int64(firstMP),
		NPackets: npackets, NBytes: nbytes,
	}, nil
}

// SpectrumStatsUpdate carries a single channel occupancy measurement
// (Section 6.2).
type SpectrumStatsUpdate struct {
	Channel  uint16
	PowerDbm float64
}

// EncodeSpectrumStatsUpdate serializes a SpectrumStatsUpdate.
func EncodeSpectrumStatsUpdate(s SpectrumStatsUpdate) []byte {
	buf := []byte{byte(MsgSpectrumStats)}
	buf = appendU16(buf, s.Channel)
	buf = appendU64(buf, math.Float64bits(s.PowerDbm))
	return buf
}

// DecodeSpectrumStatsUpdate parses a payload produced by
// EncodeSpectrumStatsUpdate.
func DecodeSpectrumStatsUpdate(buf []byte) (SpectrumStatsUpdate, error) {
	if len(buf) < 11 || MsgType(buf[0]) != MsgSpectrumStats {
		return SpectrumStatsUpdate{}, fmt.Errorf("decode spectrum stats: %w", ErrShortBuffer)
	}
	ch, off, err := readU16(buf, 1)
	if err != nil {
		return SpectrumStatsUpdate{}, err
	}
	bits, _, err := readU64(buf, off)
	if err != nil {
		return SpectrumStatsUpdate{}, err
	}
	return SpectrumStatsUpdate{Channel: ch, PowerDbm: math.Float64frombits(bits)}, nil
}

// RegisterRequest opens a collaboration session with the CIL server
// (Section 6.3).
type RegisterRequest struct {
	NodeID uint8
}

// EncodeRegisterRequest serializes a RegisterRequest.
func EncodeRegisterRequest(r RegisterRequest) []byte {
	return []byte{byte(MsgRegister), r.NodeID}
}

// DecodeRegisterRequest parses a payload produced by EncodeRegisterRequest.
func DecodeRegisterRequest(buf []byte) (RegisterRequest, error) {
	if len(buf) < 2 || MsgType(buf[0]) != MsgRegister {
		return RegisterRequest{}, fmt.Errorf("decode register: %w", ErrShortBuffer)
	}
	return RegisterRequest{NodeID: buf[1]}, nil
}

// VoxelUpdate pushes or pulls one node's historical or predicted location
// voxel on the collaboration bus.
type VoxelUpdate struct {
	NodeID            uint8
	Predicted         bool
	TimestampUnixNano int64
	Lat, Lon, Alt     float64
}

// EncodeVoxelUpdate serializes a VoxelUpdate, tagged as a push if push is
// true and as a pull otherwise.
func EncodeVoxelUpdate(v VoxelUpdate, push bool) []byte {
	tag := MsgPullVoxel
	if push {
		tag = MsgPushVoxel
	}
	buf := []byte{byte(tag), v.NodeID}
	if v.Predicted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU64(buf, uint64(v.TimestampUnixNano))
	buf = appendU64(buf, math.Float64bits(v.Lat))
	buf = appendU64(buf, math.Float64bits(v.Lon))
	buf = appendU64(buf, math.Float64bits(v.Alt))
	return buf
}

// DecodeVoxelUpdate parses a payload produced by EncodeVoxelUpdate,
// returning whether it was tagged as a push.
func DecodeVoxelUpdate(buf []byte) (VoxelUpdate, bool, error) {
	if len(buf) < 27 {
		return VoxelUpdate{}, false, fmt.Errorf("decode voxel: %w", ErrShortBuffer)
	}
	tag := MsgType(buf[0])
	if tag != MsgPushVoxel && tag != MsgPullVoxel {
		return VoxelUpdate{}, false, fmt.Errorf("decode voxel: %w", ErrUnknownType)
	}
	off := 1
	nodeID := buf[off]
	off++
	predicted := buf[off] == 1
	off++
	ts, off, err := readU64(buf, off)
	if err != nil {
		return VoxelUpdate{}, false, err
	}
	latBits, off, err := readU64(buf, off)
	if err != nil {
		return VoxelUpdate{}, false, err
	}
	lonBits, off, err := readU64(buf, off)
	if err != nil {
		return VoxelUpdate{}, false, err
	}
	altBits, _, err := readU64(buf, off)
	if err != nil {
		return VoxelUpdate{}, false, err
	}
	v := VoxelUpdate{
		NodeID:            nodeID,
		Predicted:         predicted,
		TimestampUnixNano: int64(ts),
		Lat:               math.Float64frombits(latBits),
		Lon:               math.Float64frombits(lonBits),
		Alt:               math.Float64frombits(altBits),
	}
	return v, tag == MsgPushVoxel, nil
}

// PeekType returns the message tag of a frame without fully decoding it.
func PeekType(buf []byte) (MsgType, error) {
	if len(buf) < 1 {
		return 0, ErrShortBuffer
	}
	return MsgType(buf[0]), nil
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendOptFloat(buf []byte, f *float64) []byte {
	if f == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendU64(buf, math.Float64bits(*f))
}

func readU16(buf []byte, off int) (uint16, int, error) {
	if off+2 > len(buf) {
		return 0, off, ErrShortBuffer
	}
	return binary.BigEndian.Uint16(buf[off:]), off + 2, nil
}

func readU32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, ErrShortBuffer
	}
	return binary.BigEndian.Uint32(buf[off:]), off + 4, nil
}

func readU64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, off, ErrShortBuffer
	}
	return binary.BigEndian.Uint64(buf[off:]), off + 8, nil
}

func readOptFloat(buf []byte, off int) (*float64, int, error) {
	if off+1 > len(buf) {
		return nil, off, ErrShortBuffer
	}
	present := buf[off]
	off++
	if present == 0 {
		return nil, off, nil
	}
	bits, off, err := readU64(buf, off)
	if err != nil {
		return nil, off, err
	}
	f := math.Float64frombits(bits)
	return &f, off, nil
}
