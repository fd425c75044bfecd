package summary

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"os"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// readRecords parses the TFRecord framing, verifying both checksums.
func readRecords(t *testing.T, path string) [][]byte {
	t.Helper()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read event file: %v", err)
	}

	var records [][]byte
	for len(raw) > 0 {
		if len(raw) < 12 {
			t.Fatalf("Truncated record header, %d bytes left", len(raw))
		}

		length := binary.LittleEndian.Uint64(raw[:8])
		lengthCRC := binary.LittleEndian.Uint32(raw[8:12])
		if got := maskCRC(crc32.Checksum(raw[:8], crcTable)); got != lengthCRC {
			t.Fatalf("Length checksum mismatch: expected %08x, got %08x", lengthCRC, got)
		}

		payloadEnd := 12 + int(length)
		if len(raw) < payloadEnd+4 {
			t.Fatalf("Truncated record payload")
		}

		payload := raw[12:payloadEnd]
		payloadCRC := binary.LittleEndian.Uint32(raw[payloadEnd : payloadEnd+4])
		if got := maskCRC(crc32.Checksum(payload, crcTable)); got != payloadCRC {
			t.Fatalf("Payload checksum mismatch: expected %08x, got %08x", payloadCRC, got)
		}

		records = append(records, payload)
		raw = raw[payloadEnd+4:]
	}
	return records
}

// parsedEvent is the subset of the Event message the tests care about.
type parsedEvent struct {
	step        int64
	fileVersion string
	tag         string
	value       float32
	hasValue    bool
}

func parseEvent(t *testing.T, payload []byte) parsedEvent {
	t.Helper()

	var ev parsedEvent
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			t.Fatal("Malformed tag in event payload")
		}
		payload = payload[n:]

		switch num {
		case eventFieldWallTime:
			_, n = protowire.ConsumeFixed64(payload)
		case eventFieldStep:
			var v uint64
			v, n = protowire.ConsumeVarint(payload)
			ev.step = int64(v)
		case eventFieldFileVersion:
			var s []byte
			s, n = protowire.ConsumeBytes(payload)
			ev.fileVersion = string(s)
		case eventFieldSummary:
			var msg []byte
			msg, n = protowire.ConsumeBytes(payload)
			ev.tag, ev.value = parseSummary(t, msg)
			ev.hasValue = true
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			t.Fatalf("Malformed field %d in event payload", num)
		}
		payload = payload[n:]
	}
	return ev
}

func parseSummary(t *testing.T, msg []byte) (string, float32) {
	t.Helper()

	num, _, n := protowire.ConsumeTag(msg)
	if n < 0 || num != summaryFieldValue {
		t.Fatal("Malformed summary message")
	}
	value, n := protowire.ConsumeBytes(msg[n:])
	if n < 0 {
		t.Fatal("Malformed summary value")
	}

	var tag string
	var simple float32
	for len(value) > 0 {
		num, typ, n := protowire.ConsumeTag(value)
		if n < 0 {
			t.Fatal("Malformed tag in summary value")
		}
		value = value[n:]

		switch num {
		case valueFieldTag:
			var s []byte
			s, n = protowire.ConsumeBytes(value)
			tag = string(s)
		case valueFieldSimpleValue:
			var bits uint32
			bits, n = protowire.ConsumeFixed32(value)
			simple = math.Float32frombits(bits)
		default:
			n = protowire.ConsumeFieldValue(num, typ, value)
		}
		if n < 0 {
			t.Fatalf("Malformed field %d in summary value", num)
		}
		value = value[n:]
	}
	return tag, simple
}

func TestWriterProducesReadableEvents(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	if err := w.AddScalar("training loss", 0.6931, 1); err != nil {
		t.Fatalf("AddScalar failed: %v", err)
	}
	if err := w.AddScalar("valid acc", 0.75, 1); err != nil {
		t.Fatalf("AddScalar failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	records := readRecords(t, w.Path())
	if len(records) != 3 {
		t.Fatalf("Expected 3 records (header + 2 scalars), got %d", len(records))
	}

	header := parseEvent(t, records[0])
	if header.fileVersion != "brain.Event:2" {
		t.Errorf("Expected file version brain.Event:2, got %q", header.fileVersion)
	}

	first := parseEvent(t, records[1])
	if !first.hasValue || first.tag != "training loss" {
		t.Errorf("Expected tag %q, got %q", "training loss", first.tag)
	}
	if math.Abs(float64(first.value-0.6931)) > 1e-6 {
		t.Errorf("Expected value 0.6931, got %f", first.value)
	}
	if first.step != 1 {
		t.Errorf("Expected step 1, got %d", first.step)
	}

	second := parseEvent(t, records[2])
	if second.tag != "valid acc" || second.value != 0.75 {
		t.Errorf("Expected valid acc 0.75, got %q %f", second.tag, second.value)
	}
}

func TestWriterFileNaming(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer w.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 event file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "events.out.tfevents.") {
		t.Errorf("Unexpected event file name %q", entries[0].Name())
	}
}

func TestWriterCreatesLogDir(t *testing.T) {
	dir := t.TempDir() + "/runs/experiment"

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected log directory to exist: %v", err)
	}
}
