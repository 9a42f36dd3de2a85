package loom

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire frames are varint length-prefixed JSON envelopes. Out-of-band
// resources (file descriptors) never cross this layer; only Message.Data
// travels.
const (
	frameKindSignal = "signal"
	frameKindMethod = "method"
	frameKindReply  = "reply"
)

type wireFrame struct {
	Kind   string `json:"kind"`
	Serial uint64 `json:"serial,omitempty"`
	Path   string `json:"path,omitempty"`
	Name   string `json:"name,omitempty"`
	Error  string `json:"error,omitempty"`
	Body   []byte `json:"body,omitempty"`
}

// writeFrame encodes one envelope with its length prefix in a single
// Write so concurrent writers never interleave partial frames.
func writeFrame(w io.Writer, frame wireFrame, maxSize int) (int, error) {
	buf, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if len(buf) > maxSize {
		return 0, ErrTooLargeFrame
	}
	prefixed := protowire.AppendVarint(nil, uint64(len(buf)))
	prefixed = append(prefixed, buf...)
	return w.Write(prefixed)
}

func readFrame(r io.Reader, maxSize int) (wireFrame, int, error) {
	var frame wireFrame

	buf := make([]byte, binary.MaxVarintLen64)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n : n+1])
		if err != nil {
			return frame, n, err
		}
		if m != 0 {
			byteRead := buf[n]
			n = m + n
			if byteRead < 0x80 {
				break
			}
		}
	}

	prefix, prefixSize := protowire.ConsumeVarint(buf[:n])
	if err := protowire.ParseError(prefixSize); err != nil {
		return frame, n, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if prefix > uint64(maxSize) {
		return frame, n, ErrTooLargeFrame
	}

	body := make([]byte, prefix)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame, n, err
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		return frame, n + len(body), fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return frame, n + len(body), nil
}
