package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// MaxFrameSize is the largest datagram either side may put on the wire.
const MaxFrameSize = 4095

// compressedPrefix marks a gzip-wrapped payload.
const compressedPrefix = '!'

// ErrOversize reports a payload that does not fit in one datagram even
// after compression.
var ErrOversize = errors.New("payload exceeds maximum frame size")

// Encode frames msg for the wire: the gzip form (prefixed with '!') is used
// when it is strictly shorter than the plain ASCII form.
func Encode(msg string) ([]byte, error) {
	plain := []byte(msg)

	var buf bytes.Buffer
	buf.WriteByte(compressedPrefix)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, fmt.Errorf("compressing frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing frame: %w", err)
	}

	out := plain
	if buf.Len() < len(plain) {
		out = buf.Bytes()
	}
	if len(out) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversize, len(out))
	}
	return out, nil
}

// Decode unwraps a received frame back into its ASCII message.
func Decode(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty frame", ErrBadDirective)
	}
	if data[0] != compressedPrefix {
		return trimASCII(data)
	}

	zr, err := gzip.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		return "", fmt.Errorf("%w: bad gzip header: %v", ErrBadDirective, err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("%w: bad gzip body: %v", ErrBadDirective, err)
	}
	return trimASCII(plain)
}

func trimASCII(data []byte) (string, error) {
	for _, b := range data {
		if b > 0x7F {
			return "", fmt.Errorf("%w: non-ASCII byte 0x%02X", ErrBadDirective, b)
		}
	}
	return string(bytes.TrimSpace(data)), nil
}
