package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"dubbo-client/errors"
	"dubbo-client/message"
)

// FastJSONCodec is serialization 6: every field is a JSON document on its
// own line. Strings are escaped the way PHP's json_encode does it ("/" as
// "\/", non-ASCII as \uXXXX) so the bytes match other consumers of the
// same providers.
type FastJSONCodec struct{}

func (c *FastJSONCodec) Type() Type {
	return TypeFastJSON
}

func (c *FastJSONCodec) EncodeRequest(req *message.Request) ([]byte, error) {
	var buf bytes.Buffer
	if req.Heartbeat {
		if err := writeJSON(&buf, nil); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	fields := []any{req.DubboVersion, req.Service, req.Version, req.Method, req.TypeRefs()}
	for _, p := range req.Params {
		fields = append(fields, jsonValue(p))
	}
	for _, f := range fields {
		if err := writeJSON(&buf, f); err != nil {
			return nil, errors.E("codec.FastJSON.EncodeRequest", err)
		}
		buf.WriteByte('\n')
	}
	if err := writeAttachments(&buf, req.Attachments()); err != nil {
		return nil, errors.E("codec.FastJSON.EncodeRequest", err)
	}
	return buf.Bytes(), nil
}

func (c *FastJSONCodec) DecodeRequest(body []byte, req *message.Request) error {
	const op = "codec.FastJSON.DecodeRequest"
	if req.Heartbeat {
		return nil
	}
	lines := bytes.Split(body, []byte{'\n'})
	line := func(i int, v any) error {
		if i >= len(lines) {
			return errors.E(op, errors.DecodeFailed, errors.Errorf("missing line %d", i))
		}
		if err := decodeJSON(lines[i], v); err != nil {
			return errors.E(op, errors.DecodeFailed, err)
		}
		return nil
	}

	var method, refs string
	for i, dst := range []any{&req.DubboVersion, &req.Service, &req.Version, &method, &refs} {
		if err := line(i, dst); err != nil {
			return err
		}
	}
	attachLine := 5
	if method == GenericMethod {
		var types []string
		if err := line(5, &req.Method); err != nil {
			return err
		}
		if err := line(6, &types); err != nil {
			return err
		}
		if err := line(7, &req.Params); err != nil {
			return err
		}
		req.Types = types
		attachLine = 8
	} else {
		req.Method = method
		types, err := SplitTypes(refs)
		if err != nil {
			return errors.E(op, errors.DecodeFailed, err)
		}
		req.Types = types
		req.Params = make([]any, len(types))
		for i := range types {
			if err := line(5+i, &req.Params[i]); err != nil {
				return err
			}
		}
		attachLine = 5 + len(types)
	}

	var attach map[string]any
	if err := line(attachLine, &attach); err != nil {
		return err
	}
	req.Extra = attach
	if g, ok := attach[message.AttachGroup].(string); ok {
		req.Group = g
	}
	if t, ok := attach[message.AttachTimeout].(json.Number); ok {
		if n, err := t.Int64(); err == nil {
			req.Timeout = int(n)
		}
	}
	return nil
}

func (c *FastJSONCodec) EncodeResponse(resp *message.Response) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch {
	case !resp.OK():
		err = writeJSON(&buf, resp.ErrorMsg)
	case resp.Heartbeat:
		err = writeJSON(&buf, resp.Result)
	case resp.ErrorMsg != "":
		buf.WriteString(strconv.Itoa(ResponseWithException) + "\n")
		err = writeJSON(&buf, resp.ErrorMsg)
	case resp.Result == nil:
		buf.WriteString(strconv.Itoa(ResponseNullValue))
	default:
		buf.WriteString(strconv.Itoa(ResponseValue) + "\n")
		err = writeJSON(&buf, jsonValue(resp.Result))
	}
	if err != nil {
		return nil, errors.E("codec.FastJSON.EncodeResponse", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (c *FastJSONCodec) DecodeResponse(body []byte, resp *message.Response) error {
	const op = "codec.FastJSON.DecodeResponse"
	lines := bytes.SplitN(body, []byte{'\n'}, 3)
	first := bytes.TrimSpace(lines[0])
	if resp.Heartbeat {
		if len(first) == 0 {
			return nil
		}
		if err := decodeJSON(first, &resp.Result); err != nil {
			return errors.E(op, errors.DecodeFailed, err)
		}
		return nil
	}

	status, err := strconv.Atoi(string(first))
	if err != nil {
		return errors.E(op, errors.DecodeFailed, errors.Errorf("bad response status %q", first))
	}
	content := func() ([]byte, error) {
		if len(lines) < 2 {
			return nil, errors.E(op, errors.DecodeFailed, errors.Str("missing response content"))
		}
		return lines[1], nil
	}
	switch status {
	case ResponseNullValue:
		resp.Result = nil
		return nil
	case ResponseValue:
		data, err := content()
		if err != nil {
			return err
		}
		if err := decodeJSON(data, &resp.Result); err != nil {
			return errors.E(op, errors.DecodeFailed, err)
		}
		return nil
	case ResponseWithException:
		data, err := content()
		if err != nil {
			return err
		}
		var exception any
		if err := decodeJSON(data, &exception); err != nil {
			exception = nil
		}
		resp.ErrorMsg = exceptionMessage(exception)
		return errors.E(op, errors.ProviderError, errors.Str(resp.ErrorMsg))
	}
	return errors.E(op, errors.DecodeFailed, errors.Errorf("unknown response status %d", status))
}

func writeAttachments(buf *bytes.Buffer, attach []message.Attachment) error {
	buf.WriteByte('{')
	for i, a := range attach {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(buf, a.Key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSON(buf, a.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeJSON appends the PHP-compatible JSON encoding of v to buf.
func writeJSON(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	b := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == '/':
			buf.WriteString(`\/`)
		case r < utf8.RuneSelf:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(buf, `\u%04x`, r)
		}
		b = b[size:]
	}
	return nil
}

// jsonValue replaces Named values, including nested ones, with their fields.
func jsonValue(v any) any {
	switch x := v.(type) {
	case Named:
		m := make(map[string]any, len(x.Fields()))
		for k, f := range x.Fields() {
			m[k] = jsonValue(f)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	}
	return v
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
