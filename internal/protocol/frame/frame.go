package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var (
	// ErrDesync marks a stream whose byte offsets can no longer be trusted.
	ErrDesync        = errors.New("frame: protocol desync")
	ErrFrameTooLarge = errors.New("frame: payload too large")
)

var terminator = []byte("\r\n")

// releaseCap bounds the idle buffer kept after a large frame drains.
const releaseCap = 64 * 1024

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = DefaultLimits().MaxPayloadBytes
	}
	return l
}

// Encode serializes msg as <decimal byte length><json>\r\n.
func Encode(msg any, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	payload, err := Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(payload) > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, 0, len(payload)+len(terminator)+8)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, payload...)
	out = append(out, terminator...)
	return out, nil
}

// Marshal renders msg as the compact JSON payload Encode frames. Raw
// messages pass through after validation.
func Marshal(msg any) (json.RawMessage, error) {
	if raw, ok := msg.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("frame: encode: invalid raw json")
		}
		return raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decoder turns a chunked byte stream into complete JSON payloads.
// It retains at most one incomplete trailing frame between calls.
type Decoder struct {
	limits    Limits
	maxDigits int
	buf       []byte
	// need is the buffered size at which the retained frame completes;
	// zero when its length prefix has not been read yet.
	need int
	err  error
}

func NewDecoder(limits Limits) *Decoder {
	limits = limits.withDefaults()
	return &Decoder{
		limits:    limits,
		maxDigits: len(strconv.Itoa(limits.MaxPayloadBytes)),
	}
}

// Buffered reports how many undecoded bytes are retained.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Feed appends chunk to the retained remainder and returns every frame
// completed by it. After a desync every call returns the same error.
func (d *Decoder) Feed(chunk []byte) ([]json.RawMessage, error) {
	if d.err != nil {
		return nil, d.err
	}
	buf := chunk
	if len(d.buf) > 0 {
		d.buf = append(d.buf, chunk...)
		if len(d.buf) < d.need {
			return nil, nil
		}
		buf = d.buf
	}
	d.need = 0

	var (
		out        []json.RawMessage
		digitStart = -1
		digits     int
		pos        int
	)
	for pos < len(buf) {
		b := buf[pos]
		switch {
		case b >= '0' && b <= '9':
			if digitStart < 0 {
				digitStart = pos
			}
			digits++
			if digits > d.maxDigits {
				d.fail(fmt.Errorf("%w: length prefix longer than %d digits", ErrDesync, d.maxDigits))
				return out, d.err
			}
			pos++
			continue
		case b == '\r' || b == '\n':
			pos++
			continue
		}

		var length []byte
		if digitStart >= 0 {
			length = buf[digitStart : digitStart+digits]
		}
		n, err := d.parseLength(length, b)
		if err != nil {
			d.fail(err)
			return out, d.err
		}
		if len(buf)-pos < n {
			d.need = pos - digitStart + n
			break
		}
		payload := buf[pos : pos+n]
		if !json.Valid(payload) {
			d.fail(fmt.Errorf("%w: invalid json payload of %d bytes", ErrDesync, n))
			return out, d.err
		}
		msg := make(json.RawMessage, n)
		copy(msg, payload)
		out = append(out, bytes.TrimSpace(msg))
		pos += n
		digitStart = -1
		digits = 0
	}

	d.retain(buf, pos, digitStart)
	return out, nil
}

func (d *Decoder) parseLength(digits []byte, next byte) (int, error) {
	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: missing length prefix before byte 0x%02x", ErrDesync, next)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("%w: bad length prefix %q", ErrDesync, digits)
	}
	if n > d.limits.MaxPayloadBytes {
		return 0, fmt.Errorf("%w: length %d exceeds limit %d", ErrDesync, n, d.limits.MaxPayloadBytes)
	}
	return n, nil
}

// retain compacts the incomplete frame starting at its first digit to the
// front of the decoder buffer. A scan that stopped on a short payload has
// digitStart set; a scan that consumed everything keeps only a dangling
// digit run, if any. Once the frame's size is known the buffer is grown
// to hold it so later chunks append without reallocating.
func (d *Decoder) retain(buf []byte, pos, digitStart int) {
	start := pos
	if digitStart >= 0 {
		start = digitStart
	}
	// buf may alias d.buf; append moves the tail down with copy semantics.
	d.buf = append(d.buf[:0], buf[start:]...)
	if len(d.buf) == 0 && cap(d.buf) > releaseCap {
		d.buf = nil
		return
	}
	if d.need > len(d.buf) {
		d.buf = slices.Grow(d.buf, d.need-len(d.buf))
	}
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.buf = nil
	d.need = 0
}
