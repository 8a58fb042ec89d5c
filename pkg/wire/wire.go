// Package wire implements the coordinator's framed control-message
// protocol: a fixed-size record (magic cookie, message type, sender
// identity, sender WorkerState, and the numeric fields every message
// family reuses) followed by exactly ExtraBytes of opaque payload. It
// mirrors the shape of dmtcp::DmtcpMessage in dmtcp_coordinator.cpp:
// one wire-sized struct carrying every field any message type might
// need, with unused fields simply left zero. The original project's
// enum header was not available to port verbatim, so the numeric
// values below are this coordinator's own stable assignment; see
// DESIGN.md for that decision.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
)

// Magic is the fixed cookie every record must carry; any other value is
// a protocol violation, fatal to that connection.
const Magic uint32 = 0xd3d7c001

// MessageType enumerates every control record the coordinator reads or
// writes. Values are part of this protocol's own ABI: never renumber
// an existing constant.
type MessageType uint16

const (
	MsgInvalid MessageType = iota

	// From worker.
	MsgHelloCoordinator
	MsgRestartProcess
	MsgOK
	MsgCkptFilename
	MsgUpdateProcessInfoAfterFork
	MsgGetVirtualPid
	MsgRegisterNameServiceData
	MsgNameServiceQuery
	MsgUserCmd

	// From coordinator.
	MsgHelloWorker
	MsgRestartProcessReply
	MsgGetVirtualPidResult
	MsgUserCmdResult
	MsgReject
	MsgKillPeer
	MsgForceRestart
	MsgDoSuspend
	MsgDoFDLeaderElection
	MsgDoDrain
	MsgDoCheckpoint
	MsgDoRegisterNameServiceData
	MsgDoSendQueries
	MsgDoRefill
	MsgDoResume
	MsgNameServiceQueryResponse
)

var messageTypeNames = map[MessageType]string{
	MsgHelloCoordinator:           "DMT_HELLO_COORDINATOR",
	MsgRestartProcess:             "DMT_RESTART_PROCESS",
	MsgOK:                         "DMT_OK",
	MsgCkptFilename:               "DMT_CKPT_FILENAME",
	MsgUpdateProcessInfoAfterFork: "DMT_UPDATE_PROCESS_INFO_AFTER_FORK",
	MsgGetVirtualPid:              "DMT_GET_VIRTUAL_PID",
	MsgRegisterNameServiceData:    "DMT_REGISTER_NAME_SERVICE_DATA",
	MsgNameServiceQuery:           "DMT_NAME_SERVICE_QUERY",
	MsgUserCmd:                    "DMT_USER_CMD",
	MsgHelloWorker:                "DMT_HELLO_WORKER",
	MsgRestartProcessReply:        "DMT_RESTART_PROCESS_REPLY",
	MsgGetVirtualPidResult:        "DMT_GET_VIRTUAL_PID_RESULT",
	MsgUserCmdResult:              "DMT_USER_CMD_RESULT",
	MsgReject:                     "DMT_REJECT",
	MsgKillPeer:                   "DMT_KILL_PEER",
	MsgForceRestart:               "DMT_FORCE_RESTART",
	MsgDoSuspend:                  "DMT_DO_SUSPEND",
	MsgDoFDLeaderElection:         "DMT_DO_FD_LEADER_ELECTION",
	MsgDoDrain:                    "DMT_DO_DRAIN",
	MsgDoCheckpoint:               "DMT_DO_CHECKPOINT",
	MsgDoRegisterNameServiceData:  "DMT_DO_REGISTER_NAME_SERVICE_DATA",
	MsgDoSendQueries:              "DMT_DO_SEND_QUERIES",
	MsgDoRefill:                   "DMT_DO_REFILL",
	MsgDoResume:                   "DMT_DO_RESUME",
	MsgNameServiceQueryResponse:   "DMT_NAME_SERVICE_QUERY_RESPONSE",
}

// String renders the symbolic DMT_* name for logging.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// CoordErrorCode mirrors CoordinatorAPI's reply codes carried in
// Message.CoordErrorCode.
type CoordErrorCode int32

const (
	ErrNone CoordErrorCode = iota
	ErrInvalidCommand
	ErrNotRunningState
)

// Message is the fixed-size control record. Every field is always
// present on the wire; unused fields for a given Type are zero.
type Message struct {
	Type               MessageType
	From               types.UniqueProcessId
	CompGroup          types.ComputationId
	State              types.WorkerState
	CoordCmd           byte
	NumPeers           int32
	CheckpointInterval int32
	VirtualPid         int32
	CoordTimeStamp     uint64
	CoordErrorCode     CoordErrorCode
	KeyLen             uint32
	ValLen             uint32
	ExtraBytes         uint32
}

// wireRecord is the fixed on-wire layout, binary.Write/Read-able as a
// single flat struct so framing never has to hand-marshal fields.
type wireRecord struct {
	Magic              uint32
	Type               uint16
	_                  uint16 // padding, always zero
	FromHostID         uint64
	FromPid            int32
	FromStartTime      int64
	FromGeneration     int32
	CompHostID         uint64
	CompPid            int32
	CompStartTime      int64
	CompGeneration     int32
	CompCoordTimeStamp uint64
	State              int32
	CoordCmd           byte
	_                  [3]byte // padding
	NumPeers           int32
	CheckpointInterval int32
	VirtualPid         int32
	CoordTimeStamp     uint64
	CoordErrorCode     int32
	KeyLen             uint32
	ValLen             uint32
	ExtraBytes         uint32
}

// RecordSize is the fixed number of bytes every control record occupies
// on the wire, independent of ExtraBytes.
const RecordSize = 4 + 2 + 2 + 8 + 4 + 8 + 4 + 8 + 4 + 8 + 4 + 8 + 4 + 1 + 3 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 4

func toWire(m Message) wireRecord {
	return wireRecord{
		Magic:              Magic,
		Type:               uint16(m.Type),
		FromHostID:         m.From.HostID,
		FromPid:            m.From.Pid,
		FromStartTime:      m.From.StartTime,
		FromGeneration:     m.From.Generation,
		CompHostID:         m.CompGroup.HostID,
		CompPid:            m.CompGroup.Pid,
		CompStartTime:      m.CompGroup.StartTime,
		CompGeneration:     m.CompGroup.Generation,
		CompCoordTimeStamp: m.CompGroup.CoordTimeStamp,
		State:              int32(m.State),
		CoordCmd:           m.CoordCmd,
		NumPeers:           m.NumPeers,
		CheckpointInterval: m.CheckpointInterval,
		VirtualPid:         m.VirtualPid,
		CoordTimeStamp:     m.CoordTimeStamp,
		CoordErrorCode:     int32(m.CoordErrorCode),
		KeyLen:             m.KeyLen,
		ValLen:             m.ValLen,
		ExtraBytes:         m.ExtraBytes,
	}
}

func fromWire(w wireRecord) Message {
	return Message{
		Type: MessageType(w.Type),
		From: types.UniqueProcessId{
			HostID:     w.FromHostID,
			Pid:        w.FromPid,
			StartTime:  w.FromStartTime,
			Generation: w.FromGeneration,
		},
		CompGroup: types.ComputationId{
			UniqueProcessId: types.UniqueProcessId{
				HostID:     w.CompHostID,
				Pid:        w.CompPid,
				StartTime:  w.CompStartTime,
				Generation: w.CompGeneration,
			},
			CoordTimeStamp: w.CompCoordTimeStamp,
		},
		State:              types.WorkerState(w.State),
		CoordCmd:           w.CoordCmd,
		NumPeers:           w.NumPeers,
		CheckpointInterval: w.CheckpointInterval,
		VirtualPid:         w.VirtualPid,
		CoordTimeStamp:     w.CoordTimeStamp,
		CoordErrorCode:     CoordErrorCode(w.CoordErrorCode),
		KeyLen:             w.KeyLen,
		ValLen:             w.ValLen,
		ExtraBytes:         w.ExtraBytes,
	}
}

// WriteMessage writes the fixed record followed by extra, which must be
// exactly len(extra) == int(m.ExtraBytes) bytes.
func WriteMessage(w io.Writer, m Message, extra []byte) error {
	if int(m.ExtraBytes) != len(extra) {
		return fmt.Errorf("wire: ExtraBytes %d does not match payload length %d", m.ExtraBytes, len(extra))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, toWire(m)); err != nil {
		return fmt.Errorf("wire: encode record: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write record: %w", err)
	}
	if len(extra) > 0 {
		if _, err := w.Write(extra); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads one fixed record and its trailing payload. A short
// read on either the record or the payload is a fatal protocol error on
// the connection, per the coordinator's "every read consumes a full
// record" contract.
func ReadMessage(r io.Reader) (Message, []byte, error) {
	var w wireRecord
	if err := binary.Read(r, binary.BigEndian, &w); err != nil {
		return Message{}, nil, fmt.Errorf("wire: short read on control record: %w", err)
	}
	if w.Magic != Magic {
		return Message{}, nil, fmt.Errorf("wire: bad magic %#x, want %#x", w.Magic, Magic)
	}

	m := fromWire(w)

	if m.ExtraBytes == 0 {
		return m, nil, nil
	}
	extra := make([]byte, m.ExtraBytes)
	if _, err := io.ReadFull(r, extra); err != nil {
		return Message{}, nil, fmt.Errorf("wire: short read on %d-byte payload: %w", m.ExtraBytes, err)
	}
	return m, extra, nil
}

// AssertValid validates a just-read message against the admission
// rules that hold for every message except the handful of bootstrap
// messages that are legitimately sent before an identity exists
// (DMT_GET_VIRTUAL_PID, DMT_USER_CMD, and a first-ever DMT_RESTART_PROCESS
// all arrive with From still the sentinel).
func AssertValid(m Message) error {
	switch m.Type {
	case MsgGetVirtualPid, MsgUserCmd, MsgRestartProcess:
		return nil
	}
	if m.From.IsNull() {
		return fmt.Errorf("wire: %s carries a sentinel sender identity", m.Type)
	}
	return nil
}

// NameServiceQueryPayload splits the DMT_REGISTER_NAME_SERVICE_DATA /
// DMT_NAME_SERVICE_QUERY payload into its key and value halves using
// the message's KeyLen/ValLen fields.
func NameServiceQueryPayload(m Message, extra []byte) (key, value []byte, err error) {
	total := int(m.KeyLen) + int(m.ValLen)
	if total != len(extra) {
		return nil, nil, fmt.Errorf("wire: keyLen+valLen %d does not match payload length %d", total, len(extra))
	}
	return extra[:m.KeyLen], extra[m.KeyLen:], nil
}

// CkptFilenamePayload splits a DMT_CKPT_FILENAME payload of the form
// "<filename>\0<hostname>\0" into its two NUL-terminated parts.
func CkptFilenamePayload(extra []byte) (filename, hostname string, err error) {
	parts := bytes.SplitN(extra, []byte{0}, 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("wire: malformed DMT_CKPT_FILENAME payload")
	}
	return string(parts[0]), string(parts[1]), nil
}

// HelloPayload parses the DMT_HELLO_COORDINATOR payload, which carries
// the three string fields that don't fit in the fixed record: hostname,
// program name, and an optional prefix-dir (the install-tree path of
// dmtcp binaries on the worker's host, used only by the restart-script
// writer). The form is "<hostname>\0<progname>\0[<prefixdir>\0]".
func HelloPayload(extra []byte) (hostname, progname, prefixDir string, err error) {
	parts := bytes.SplitN(extra, []byte{0}, 4)
	if len(parts) < 2 {
		return "", "", "", fmt.Errorf("wire: malformed DMT_HELLO_COORDINATOR payload")
	}
	hostname = string(parts[0])
	progname = string(parts[1])
	if len(parts) >= 3 {
		prefixDir = string(parts[2])
	}
	return hostname, progname, prefixDir, nil
}

// EncodeHelloPayload builds the payload HelloPayload parses, for use by
// test fixtures and fakes exercising the admission path.
func EncodeHelloPayload(hostname, progname, prefixDir string) []byte {
	return []byte(hostname + "\x00" + progname + "\x00" + prefixDir + "\x00")
}
