package wire

import (
	"bytes"
	"testing"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
)

func TestWriteReadRoundTrip(t *testing.T) {
	m := Message{
		Type: MsgHelloCoordinator,
		From: types.UniqueProcessId{HostID: 7, Pid: 123, StartTime: 1000, Generation: 2},
		CompGroup: types.ComputationId{
			UniqueProcessId: types.UniqueProcessId{HostID: 7, Pid: 123, StartTime: 1000, Generation: 2},
			CoordTimeStamp:  EncodeCoordTimeStampForTest(1753700000, 3),
		},
		State:      types.WorkerRunning,
		NumPeers:   4,
		VirtualPid: 40000,
		ExtraBytes: 5,
	}
	extra := []byte("hello")

	var buf bytes.Buffer
	if err := WriteMessage(&buf, m, extra); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, gotExtra, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Type != m.Type || got.From != m.From || got.CompGroup != m.CompGroup || got.State != m.State {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
	if got.NumPeers != m.NumPeers || got.VirtualPid != m.VirtualPid {
		t.Fatalf("numeric field mismatch: got %+v, want %+v", got, m)
	}
	if string(gotExtra) != string(extra) {
		t.Fatalf("payload mismatch: got %q, want %q", gotExtra, extra)
	}
}

// EncodeCoordTimeStampForTest is a thin wrapper so this test file does
// not need to import the types package's encoding helper twice; it
// simply forwards to types.EncodeCoordTimeStamp.
func EncodeCoordTimeStampForTest(unixSeconds int64, decisecond int) uint64 {
	return types.EncodeCoordTimeStamp(unixSeconds, decisecond)
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	m := Message{Type: MsgOK}
	if err := WriteMessage(&buf, m, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	corrupt := buf.Bytes()
	corrupt[0] ^= 0xFF
	if _, _, err := ReadMessage(bytes.NewReader(corrupt)); err == nil {
		t.Fatal("expected error on corrupted magic")
	}
}

func TestWriteMessageRejectsMismatchedExtraBytes(t *testing.T) {
	var buf bytes.Buffer
	m := Message{Type: MsgOK, ExtraBytes: 3}
	if err := WriteMessage(&buf, m, []byte("nope")); err == nil {
		t.Fatal("expected error on ExtraBytes/payload length mismatch")
	}
}

func TestAssertValidAllowsBootstrapMessages(t *testing.T) {
	for _, typ := range []MessageType{MsgGetVirtualPid, MsgUserCmd, MsgRestartProcess} {
		m := Message{Type: typ}
		if err := AssertValid(m); err != nil {
			t.Fatalf("AssertValid(%s) with sentinel sender = %v, want nil", typ, err)
		}
	}
}

func TestAssertValidRejectsSentinelSenderElsewhere(t *testing.T) {
	m := Message{Type: MsgHelloCoordinator}
	if err := AssertValid(m); err == nil {
		t.Fatal("expected error for DMT_HELLO_COORDINATOR with sentinel sender")
	}
}

func TestNameServiceQueryPayloadSplit(t *testing.T) {
	m := Message{KeyLen: 3, ValLen: 4}
	key, val, err := NameServiceQueryPayload(m, []byte("keyval1"))
	if err != nil {
		t.Fatalf("NameServiceQueryPayload: %v", err)
	}
	if string(key) != "key" || string(val) != "val1" {
		t.Fatalf("got key=%q val=%q", key, val)
	}
}

func TestNameServiceQueryPayloadLengthMismatch(t *testing.T) {
	m := Message{KeyLen: 3, ValLen: 4}
	if _, _, err := NameServiceQueryPayload(m, []byte("short")); err == nil {
		t.Fatal("expected error on length mismatch")
	}
}

func TestCkptFilenamePayloadSplit(t *testing.T) {
	payload := append([]byte("ckpt_a.dmtcp"), 0)
	payload = append(payload, []byte("hostA")...)
	payload = append(payload, 0)

	filename, hostname, err := CkptFilenamePayload(payload)
	if err != nil {
		t.Fatalf("CkptFilenamePayload: %v", err)
	}
	if filename != "ckpt_a.dmtcp" || hostname != "hostA" {
		t.Fatalf("got filename=%q hostname=%q", filename, hostname)
	}
}

func TestCkptFilenamePayloadMalformed(t *testing.T) {
	if _, _, err := CkptFilenamePayload([]byte("nosplit")); err == nil {
		t.Fatal("expected error on payload with no NUL separators")
	}
}

func TestMessageTypeStringUnknown(t *testing.T) {
	if got := MessageType(9999).String(); got == "" {
		t.Fatal("String() must not return empty for unknown type")
	}
}
