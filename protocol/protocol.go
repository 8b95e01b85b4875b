// Package protocol implements the Dubbo frame: a fixed 16-byte header
// followed by a serialized body.
//
// Frame format (big-endian):
//
//	0      2     3      4                12        16
//	┌──────┬─────┬──────┬─────────────────┬─────────┬──────────────┐
//	│magic │flag │status│       seq       │ bodyLen │   body ...   │
//	│ DABB │     │      │     uint64      │ uint32  │ bodyLen bytes│
//	└──────┴─────┴──────┴─────────────────┴─────────┴──────────────┘
//
// The flag byte carries REQUEST, TWO_WAY and EVENT bits above a 5-bit
// serialization code. Byte 3 is only meaningful in responses, where it
// holds the status code.
package protocol

import (
	"encoding/binary"
	"io"

	"dubbo-client/codec"
	"dubbo-client/errors"
	"dubbo-client/message"
)

const (
	Magic      uint16 = 0xdabb
	HeaderSize        = 16

	FlagRequest       byte = 0x80
	FlagTwoWay        byte = 0x40
	FlagEvent         byte = 0x20
	SerializationMask byte = 0x1f

	// MaxRecvLen caps a single receive from the transport.
	MaxRecvLen = 1 << 20
)

// Header is the decoded fixed part of a frame.
type Header struct {
	Flag    byte
	Status  byte
	Seq     uint64
	BodyLen uint32
}

func (h *Header) Request() bool       { return h.Flag&FlagRequest != 0 }
func (h *Header) TwoWay() bool        { return h.Flag&FlagTwoWay != 0 }
func (h *Header) Event() bool         { return h.Flag&FlagEvent != 0 }
func (h *Header) Serialization() byte { return h.Flag & SerializationMask }

// EncodeHeader returns the 16 header bytes for h.
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = h.Flag
	buf[3] = h.Status
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Seq>>32))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Seq))
	binary.BigEndian.PutUint32(buf[12:16], h.BodyLen)
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (*Header, error) {
	const op = "protocol.DecodeHeader"
	if len(buf) < HeaderSize {
		return nil, errors.E(op, errors.DecodeFailed, errors.Errorf("short header: %d bytes", len(buf)))
	}
	if m := binary.BigEndian.Uint16(buf[0:2]); m != Magic {
		return nil, errors.E(op, errors.DecodeFailed, errors.Errorf("invalid magic number: %#x", m))
	}
	hi := binary.BigEndian.Uint32(buf[4:8])
	lo := binary.BigEndian.Uint32(buf[8:12])
	return &Header{
		Flag:    buf[2],
		Status:  buf[3],
		Seq:     uint64(hi)<<32 | uint64(lo),
		BodyLen: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// Encode writes a complete frame to w.
func Encode(w io.Writer, h *Header, body []byte) error {
	h.BodyLen = uint32(len(body))
	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, err
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}

// PackRequest serializes req into a complete frame.
func PackRequest(req *message.Request) ([]byte, error) {
	c, err := codec.Get(codec.Type(req.Serialization))
	if err != nil {
		return nil, err
	}
	body, err := c.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	flag := FlagRequest | req.Serialization&SerializationMask
	if req.TwoWay {
		flag |= FlagTwoWay
	}
	if req.Heartbeat {
		flag |= FlagEvent
	}
	h := &Header{Flag: flag, Seq: req.Seq, BodyLen: uint32(len(body))}
	return append(EncodeHeader(h), body...), nil
}

// ParseResponseHeader builds a Response from a response header. The
// declared body length is taken from the wire as is.
func ParseResponseHeader(buf []byte) (*message.Response, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	return &message.Response{
		Seq:           h.Seq,
		Status:        h.Status,
		Heartbeat:     h.Event(),
		Serialization: h.Serialization(),
		Len:           h.BodyLen,
	}, nil
}

// ParseResponseBody decodes resp.Body. A non-OK header status makes the
// whole body the provider's error message, whatever the body looks like.
func ParseResponseBody(resp *message.Response) error {
	const op = "protocol.ParseResponseBody"
	if !resp.OK() {
		resp.ErrorMsg = string(resp.Body)
		return errors.E(op, errors.ProviderError, errors.Str(resp.ErrorMsg))
	}
	c, err := codec.Get(codec.Type(resp.Serialization))
	if err != nil {
		return errors.E(op, err)
	}
	if err := c.DecodeResponse(resp.Body, resp); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// ParseRequestHeader builds a Request from a request header and returns
// the declared body length.
func ParseRequestHeader(buf []byte) (*message.Request, uint32, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if !h.Request() {
		return nil, 0, errors.E("protocol.ParseRequestHeader", errors.DecodeFailed, errors.Str("not a request frame"))
	}
	return &message.Request{
		Seq:           h.Seq,
		Serialization: h.Serialization(),
		TwoWay:        h.TwoWay(),
		Heartbeat:     h.Event(),
	}, h.BodyLen, nil
}

// ParseRequestBody decodes a request body into req.
func ParseRequestBody(body []byte, req *message.Request) error {
	c, err := codec.Get(codec.Type(req.Serialization))
	if err != nil {
		return err
	}
	return c.DecodeRequest(body, req)
}

// ReadRequest reads and decodes one request frame from r.
func ReadRequest(r io.Reader) (*message.Request, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	req, n, err := ParseRequestHeader(buf)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	if err := ParseRequestBody(body, req); err != nil {
		return req, err
	}
	return req, nil
}

// PackResponse serializes resp into a complete frame.
func PackResponse(resp *message.Response) ([]byte, error) {
	c, err := codec.Get(codec.Type(resp.Serialization))
	if err != nil {
		return nil, err
	}
	body, err := c.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	flag := resp.Serialization & SerializationMask
	if resp.Heartbeat {
		flag |= FlagEvent
	}
	h := &Header{Flag: flag, Status: resp.Status, Seq: resp.Seq, BodyLen: uint32(len(body))}
	return append(EncodeHeader(h), body...), nil
}
