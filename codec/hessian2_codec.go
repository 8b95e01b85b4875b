package codec

import (
	hessian "github.com/apache/dubbo-go-hessian2"

	"dubbo-client/errors"
	"dubbo-client/message"
)

// Hessian2Codec is serialization 2. The body is a sequence of hessian2
// values with no separators.
type Hessian2Codec struct{}

func (c *Hessian2Codec) Type() Type {
	return TypeHessian2
}

func (c *Hessian2Codec) EncodeRequest(req *message.Request) ([]byte, error) {
	const op = "codec.Hessian2.EncodeRequest"
	enc := hessian.NewEncoder()
	if req.Heartbeat {
		if err := enc.Encode(nil); err != nil {
			return nil, errors.E(op, err)
		}
		return enc.Buffer(), nil
	}
	fields := []any{req.DubboVersion, req.Service, req.Version, req.Method, req.TypeRefs()}
	for _, p := range req.Params {
		fields = append(fields, hessianValue(p))
	}
	attach := make(map[interface{}]interface{})
	for _, a := range req.Attachments() {
		attach[a.Key] = hessianValue(a.Value)
	}
	fields = append(fields, attach)
	for _, f := range fields {
		if err := enc.Encode(f); err != nil {
			return nil, errors.E(op, err)
		}
	}
	return enc.Buffer(), nil
}

func (c *Hessian2Codec) DecodeRequest(body []byte, req *message.Request) error {
	const op = "codec.Hessian2.DecodeRequest"
	if req.Heartbeat {
		return nil
	}
	dec := hessian.NewDecoder(body)
	next := func() (any, error) {
		v, err := dec.Decode()
		if err != nil {
			return nil, errors.E(op, errors.DecodeFailed, err)
		}
		return v, nil
	}
	str := func() (string, error) {
		v, err := next()
		if err != nil {
			return "", err
		}
		s, _ := v.(string)
		return s, nil
	}

	var err error
	if req.DubboVersion, err = str(); err != nil {
		return err
	}
	if req.Service, err = str(); err != nil {
		return err
	}
	if req.Version, err = str(); err != nil {
		return err
	}
	if req.Method, err = str(); err != nil {
		return err
	}
	refs, err := str()
	if err != nil {
		return err
	}
	if req.Types, err = SplitTypes(refs); err != nil {
		return errors.E(op, errors.DecodeFailed, err)
	}
	req.Params = make([]any, len(req.Types))
	for i := range req.Types {
		if req.Params[i], err = next(); err != nil {
			return err
		}
	}

	v, err := next()
	if err != nil {
		return err
	}
	attach, ok := v.(map[interface{}]interface{})
	if !ok {
		return errors.E(op, errors.DecodeFailed, errors.Errorf("attachments are %T", v))
	}
	req.Extra = make(map[string]any, len(attach))
	for k, v := range attach {
		if ks, ok := k.(string); ok {
			req.Extra[ks] = v
		}
	}
	if g, ok := req.Extra[message.AttachGroup].(string); ok {
		req.Group = g
	}
	if n, ok := toInt(req.Extra[message.AttachTimeout]); ok {
		req.Timeout = n
	}
	return nil
}

func (c *Hessian2Codec) EncodeResponse(resp *message.Response) ([]byte, error) {
	const op = "codec.Hessian2.EncodeResponse"
	enc := hessian.NewEncoder()
	var values []any
	switch {
	case !resp.OK():
		values = []any{resp.ErrorMsg}
	case resp.Heartbeat:
		values = []any{nil}
	case resp.ErrorMsg != "":
		values = []any{int32(ResponseWithException), resp.ErrorMsg}
	case resp.Result == nil:
		values = []any{int32(ResponseNullValue)}
	default:
		values = []any{int32(ResponseValue), hessianValue(resp.Result)}
	}
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, errors.E(op, err)
		}
	}
	return enc.Buffer(), nil
}

func (c *Hessian2Codec) DecodeResponse(body []byte, resp *message.Response) error {
	const op = "codec.Hessian2.DecodeResponse"
	if resp.Heartbeat {
		return nil
	}
	dec := hessian.NewDecoder(body)
	v, err := dec.Decode()
	if err != nil {
		return errors.E(op, errors.DecodeFailed, err)
	}
	flag, ok := toInt(v)
	if !ok {
		return errors.E(op, errors.DecodeFailed, errors.Errorf("bad response flag %v", v))
	}
	switch flag {
	case ResponseNullValue, ResponseNullValueWithAttachments:
		resp.Result = nil
		return nil
	case ResponseValue, ResponseValueWithAttachments:
		if resp.Result, err = dec.Decode(); err != nil {
			return errors.E(op, errors.DecodeFailed, err)
		}
		return nil
	case ResponseWithException, ResponseWithExceptionWithAttachments:
		exception, err := dec.Decode()
		if err != nil {
			exception = nil
		}
		resp.ErrorMsg = exceptionMessage(exception)
		return errors.E(op, errors.ProviderError, errors.Str(resp.ErrorMsg))
	}
	return errors.E(op, errors.DecodeFailed, errors.Errorf("unknown response flag %d", flag))
}

// hessianValue converts Named values, including those nested in slices and
// maps, into plain field maps the encoder understands.
func hessianValue(v any) any {
	switch x := v.(type) {
	case Named:
		m := make(map[interface{}]interface{}, len(x.Fields()))
		for k, f := range x.Fields() {
			m[k] = hessianValue(f)
		}
		return m
	case []any:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = hessianValue(e)
		}
		return out
	case map[string]any:
		out := make(map[interface{}]interface{}, len(x))
		for k, e := range x {
			out[k] = hessianValue(e)
		}
		return out
	}
	return v
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
