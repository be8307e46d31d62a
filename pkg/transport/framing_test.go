package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "small message",
			payload: []byte("hello"),
		},
		{
			name:    "medium message",
			payload: bytes.Repeat([]byte("x"), 1000),
		},
		{
			name:    "page sized message",
			payload: bytes.Repeat([]byte("y"), 256<<10),
		},
		{
			name:    "single byte",
			payload: []byte{0x42},
		},
		{
			name:    "binary data",
			payload: []byte{0x00, 0xFF, 0x7F, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			writer := NewFrameWriter(buf)
			if err := writer.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			expectedSize := LengthPrefixSize + len(tt.payload)
			if buf.Len() != expectedSize {
				t.Errorf("frame size = %d, want %d", buf.Len(), expectedSize)
			}

			reader := NewFrameReader(buf)
			got, err := reader.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}

			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameWriterEmptyMessage(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	err := writer.WriteFrame([]byte{})
	if !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}

	err = writer.WriteFrame(nil)
	if !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty for nil, got %v", err)
	}
}

func TestFrameWriterMessageTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriterWithMaxSize(buf, 100)

	err := writer.WriteFrame(bytes.Repeat([]byte("x"), 101))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderMessageTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)

	// Write a frame with length > max
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 1000)
	buf.Write(lengthBuf[:])
	buf.Write(bytes.Repeat([]byte("x"), 1000))

	// Try to read with smaller max size
	reader := NewFrameReaderWithMaxSize(buf, 100)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderEmptyLength(t *testing.T) {
	buf := new(bytes.Buffer)

	// Write frame with length = 0
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 0)
	buf.Write(lengthBuf[:])

	reader := NewFrameReader(buf)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestFrameReaderTruncatedLength(t *testing.T) {
	buf := new(bytes.Buffer)

	// Write only 2 bytes of length prefix
	buf.Write([]byte{0x00, 0x01})

	reader := NewFrameReader(buf)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
}

func TestFrameReaderTruncatedPayload(t *testing.T) {
	buf := new(bytes.Buffer)

	// Write length prefix for 100 bytes
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 100)
	buf.Write(lengthBuf[:])

	// Write only 50 bytes of payload
	buf.Write(bytes.Repeat([]byte("x"), 50))

	reader := NewFrameReader(buf)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
}

func TestFrameReaderEOF(t *testing.T) {
	buf := new(bytes.Buffer)
	reader := NewFrameReader(buf)

	_, err := reader.ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// TestPipeFramerDuplex exercises the stdio shape: separate read and
// write streams on each side, like a worker's stdin/stdout.
func TestPipeFramerDuplex(t *testing.T) {
	brokerToWorker := newBlockingPipe()
	workerToBroker := newBlockingPipe()

	broker := NewPipeFramer(workerToBroker.r, brokerToWorker.w)
	worker := NewPipeFramer(brokerToWorker.r, workerToBroker.w)

	done := make(chan error, 1)
	go func() {
		// Worker echoes one frame back.
		data, err := worker.ReadFrame()
		if err != nil {
			done <- err
			return
		}
		done <- worker.WriteFrame(data)
	}()

	payload := []byte("request")
	if err := broker.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := broker.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echo mismatch: got %q, want %q", got, payload)
	}

	if err := <-done; err != nil {
		t.Fatalf("worker side failed: %v", err)
	}
}

type blockingPipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newBlockingPipe() *blockingPipe {
	r, w := io.Pipe()
	return &blockingPipe{r: r, w: w}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	messages := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}

	for _, msg := range messages {
		if err := writer.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	reader := NewFrameReader(buf)
	for i, want := range messages {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("message %d mismatch: got %q, want %q", i, got, want)
		}
	}

	// Should get EOF after all messages
	_, err := reader.ReadFrame()
	if err != io.EOF {
		t.Errorf("expected EOF after all messages, got %v", err)
	}
}

func TestFrameSize(t *testing.T) {
	if got := FrameSize(100); got != 104 {
		t.Errorf("FrameSize(100) = %d, want 104", got)
	}
	if got := FrameSize(0); got != 4 {
		t.Errorf("FrameSize(0) = %d, want 4", got)
	}
}

func BenchmarkFrameWrite(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := bytes.Repeat([]byte("x"), 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		writer.WriteFrame(payload)
	}
}

func BenchmarkFrameRead(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := bytes.Repeat([]byte("x"), 1000)

	for i := 0; i < 1000; i++ {
		writer.WriteFrame(payload)
	}

	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := NewFrameReader(bytes.NewReader(data))
		for {
			_, err := reader.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFrameWriterLogsOnWrite(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &capturingLogger{}

	writer := NewFrameWriter(buf)
	writer.SetLogger(logger, "chan-123")

	payload := []byte("hello")
	if err := writer.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.ConnectionID != "chan-123" {
		t.Errorf("ConnectionID = %q, want %q", e.ConnectionID, "chan-123")
	}
	if e.Direction != log.DirectionOut {
		t.Errorf("Direction = %v, want DirectionOut", e.Direction)
	}
	if e.Layer != log.LayerTransport {
		t.Errorf("Layer = %v, want LayerTransport", e.Layer)
	}
	if e.Category != log.CategoryMessage {
		t.Errorf("Category = %v, want CategoryMessage", e.Category)
	}
	if e.Frame == nil {
		t.Fatal("Frame is nil")
	}
	// Size includes 4-byte length prefix
	expectedSize := LengthPrefixSize + len(payload)
	if e.Frame.Size != expectedSize {
		t.Errorf("Frame.Size = %d, want %d", e.Frame.Size, expectedSize)
	}
	if !bytes.Equal(e.Frame.Data, payload) {
		t.Errorf("Frame.Data = %v, want %v", e.Frame.Data, payload)
	}
}

func TestFrameReaderLogsOnRead(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := []byte("world")
	writer.WriteFrame(payload)

	logger := &capturingLogger{}
	reader := NewFrameReader(buf)
	reader.SetLogger(logger, "chan-456")

	data, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("payload mismatch")
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.ConnectionID != "chan-456" {
		t.Errorf("ConnectionID = %q, want %q", e.ConnectionID, "chan-456")
	}
	if e.Direction != log.DirectionIn {
		t.Errorf("Direction = %v, want DirectionIn", e.Direction)
	}
	if e.Frame == nil {
		t.Fatal("Frame is nil")
	}
	if !bytes.Equal(e.Frame.Data, payload) {
		t.Errorf("Frame.Data = %v, want %v", e.Frame.Data, payload)
	}
}

func TestFramerNoLoggerNoPanic(t *testing.T) {
	buf := new(bytes.Buffer)

	writer := NewFrameWriter(buf)
	if err := writer.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	reader := NewFrameReader(buf)
	if _, err := reader.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	buf.Reset()
	writer.SetLogger(nil, "chan-id")
	if err := writer.WriteFrame([]byte("world")); err != nil {
		t.Fatalf("WriteFrame with nil logger failed: %v", err)
	}
}

func TestFramerLogsTruncatedData(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &capturingLogger{}

	writer := NewFrameWriter(buf)
	writer.SetLogger(logger, "chan-trunc")

	// A payload larger than the truncation limit, the shape of a page
	// stream event.
	largePayload := bytes.Repeat([]byte("x"), 5000)
	if err := writer.WriteFrame(largePayload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.Frame == nil {
		t.Fatal("Frame is nil")
	}
	// Size should reflect the full frame
	expectedSize := LengthPrefixSize + len(largePayload)
	if e.Frame.Size != expectedSize {
		t.Errorf("Frame.Size = %d, want %d", e.Frame.Size, expectedSize)
	}
	// Data should be truncated to MaxLogFrameDataSize
	if len(e.Frame.Data) != MaxLogFrameDataSize {
		t.Errorf("Frame.Data length = %d, want %d", len(e.Frame.Data), MaxLogFrameDataSize)
	}
	if !e.Frame.Truncated {
		t.Error("Frame.Truncated = false, want true")
	}
}
