package ipc

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// buildInboundStream encodes a typical cycle: system prompt, examples and a
// user message.
func buildInboundStream(b *testing.B, cycles int) []byte {
	b.Helper()
	var buf bytes.Buffer
	system := strings.Repeat("You place furniture in a mixed reality room. ", 40)
	for range cycles {
		for _, f := range []struct {
			code    uint8
			payload string
		}{
			{2, system},
			{3, "Put a lamp next to the sofa."},
			{1, `{"commandType": "create", "prefab": "lamp"}`},
			{0, "Now add a chair."},
		} {
			frame, err := EncodeFrame(f.code, []byte(f.payload))
			if err != nil {
				b.Fatalf("EncodeFrame: %v", err)
			}
			buf.Write(frame)
		}
	}
	return buf.Bytes()
}

func BenchmarkFrameDecoder_ReadFrame(b *testing.B) {
	stream := buildInboundStream(b, 100)
	b.SetBytes(int64(len(stream)))
	b.ResetTimer()

	for b.Loop() {
		decoder := NewFrameDecoder(bytes.NewReader(stream))
		for {
			_, err := decoder.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatalf("ReadFrame: %v", err)
			}
		}
	}
}

func BenchmarkFrameEncoder_WriteFrame(b *testing.B) {
	payload := []byte("The chair is now next to the table.")
	enc := NewFrameEncoder(io.Discard)
	b.SetBytes(int64(len(payload) + HeaderSize + len(LineTerminator)))

	for b.Loop() {
		if err := enc.WriteFrame(2, payload); err != nil {
			b.Fatalf("WriteFrame: %v", err)
		}
	}
}
