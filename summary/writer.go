// Package summary writes TensorBoard-compatible event files so training
// runs can be inspected with standard dashboard tooling.
package summary

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from the TensorBoard Event and Summary messages.
const (
	eventFieldWallTime    = 1 // double
	eventFieldStep        = 2 // int64
	eventFieldFileVersion = 3 // string
	eventFieldSummary     = 5 // message

	summaryFieldValue = 1 // repeated message

	valueFieldTag         = 1 // string
	valueFieldSimpleValue = 2 // float
)

const fileVersion = "brain.Event:2"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskCRC applies the TFRecord checksum masking.
func maskCRC(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

func wallTimeBits(t time.Time) uint64 {
	seconds := float64(t.UnixNano()) / 1e9
	return math.Float64bits(seconds)
}

func floatBits(v float32) uint32 {
	return math.Float32bits(v)
}

// Writer appends scalar events to a TensorBoard event file. It is not
// safe for concurrent use.
type Writer struct {
	file *os.File
	path string
}

// NewWriter creates the log directory if needed and opens a fresh event
// file inside it. The first record carries the file version marker, as
// readers require.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	now := time.Now()
	name := fmt.Sprintf("events.out.tfevents.%d.%s", now.Unix(), hostname)
	path := filepath.Join(logDir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event file: %v", err)
	}

	w := &Writer{file: f, path: path}

	var header []byte
	header = protowire.AppendTag(header, eventFieldWallTime, protowire.Fixed64Type)
	header = protowire.AppendFixed64(header, wallTimeBits(now))
	header = protowire.AppendTag(header, eventFieldFileVersion, protowire.BytesType)
	header = protowire.AppendString(header, fileVersion)

	if err := w.writeRecord(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write event file header: %v", err)
	}

	return w, nil
}

// Path returns the event file's location on disk.
func (w *Writer) Path() string {
	return w.path
}

// AddScalar appends one scalar value under tag at the given step.
func (w *Writer) AddScalar(tag string, value float32, step int) error {
	var sv []byte
	sv = protowire.AppendTag(sv, valueFieldTag, protowire.BytesType)
	sv = protowire.AppendString(sv, tag)
	sv = protowire.AppendTag(sv, valueFieldSimpleValue, protowire.Fixed32Type)
	sv = protowire.AppendFixed32(sv, floatBits(value))

	var summary []byte
	summary = protowire.AppendTag(summary, summaryFieldValue, protowire.BytesType)
	summary = protowire.AppendBytes(summary, sv)

	var event []byte
	event = protowire.AppendTag(event, eventFieldWallTime, protowire.Fixed64Type)
	event = protowire.AppendFixed64(event, wallTimeBits(time.Now()))
	event = protowire.AppendTag(event, eventFieldStep, protowire.VarintType)
	event = protowire.AppendVarint(event, uint64(step))
	event = protowire.AppendTag(event, eventFieldSummary, protowire.BytesType)
	event = protowire.AppendBytes(event, summary)

	return w.writeRecord(event)
}

// writeRecord frames a serialized event in TFRecord format: the
// little-endian payload length, the masked CRC of the length, the
// payload, and the masked CRC of the payload.
func (w *Writer) writeRecord(payload []byte) error {
	var lengthBuf [8]byte
	binary.LittleEndian.PutUint64(lengthBuf[:], uint64(len(payload)))

	var crcBuf [4]byte

	if _, err := w.file.Write(lengthBuf[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(crcBuf[:], maskCRC(crc32.Checksum(lengthBuf[:], crcTable)))
	if _, err := w.file.Write(crcBuf[:]); err != nil {
		return err
	}
	if _, err := w.file.Write(payload); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(crcBuf[:], maskCRC(crc32.Checksum(payload, crcTable)))
	if _, err := w.file.Write(crcBuf[:]); err != nil {
		return err
	}
	return nil
}

// Flush forces buffered records to disk.
func (w *Writer) Flush() error {
	return w.file.Sync()
}

// Close flushes and closes the event file.
func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
