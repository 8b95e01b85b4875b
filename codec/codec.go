// Package codec implements the request and response body serializations of
// the Dubbo protocol.
//
// The serialization is negotiated per call and announced in the low five
// bits of the header flag byte:
//
//	2  hessian2  self-describing binary values, one after another
//	6  fastjson  one JSON value per line, lines joined by '\n'
//
// Both serializations write the same fields in the same order:
// dubbo version, service, version, method, parameter type descriptors, one
// value per parameter, then the attachment map.
package codec

import (
	"strings"

	"dubbo-client/errors"
	"dubbo-client/message"
)

// Type is a serialization code.
type Type byte

const (
	TypeHessian2 Type = Type(message.SerializationHessian2)
	TypeFastJSON Type = Type(message.SerializationFastJSON)
)

// CodeOf returns the codec type for a serialization name. Names other than
// "hessian2" fall back to fastjson.
func CodeOf(name string) Type {
	return Type(message.SerializationCode(name))
}

func (t Type) String() string {
	switch t {
	case TypeHessian2:
		return "hessian2"
	case TypeFastJSON:
		return "fastjson"
	}
	return "unknown"
}

// Response body discriminators.
const (
	ResponseWithException                = 0
	ResponseValue                        = 1
	ResponseNullValue                    = 2
	ResponseWithExceptionWithAttachments = 3
	ResponseValueWithAttachments         = 4
	ResponseNullValueWithAttachments     = 5
)

// GenericMethod is the method name of a generic invocation, whose
// parameters are (method name, parameter types, arguments).
const GenericMethod = "$invoke"

// Codec encodes and decodes message bodies. Implementations are stateless.
type Codec interface {
	EncodeRequest(req *message.Request) ([]byte, error)
	DecodeRequest(body []byte, req *message.Request) error
	EncodeResponse(resp *message.Response) ([]byte, error)
	// DecodeResponse fills resp.Result. A body reporting a provider-side
	// exception yields a ProviderError carrying the provider's message.
	DecodeResponse(body []byte, resp *message.Response) error
	Type() Type
}

// Named is a structured value sent with an explicit remote class name.
type Named interface {
	JavaClassName() string
	Fields() map[string]any
}

var (
	fastJSON = &FastJSONCodec{}
	hessian2 = &Hessian2Codec{}
)

// Get returns the codec for a serialization code.
func Get(t Type) (Codec, error) {
	switch t {
	case TypeFastJSON:
		return fastJSON, nil
	case TypeHessian2:
		return hessian2, nil
	}
	return nil, errors.E("codec.Get", errors.UnsupportedSerialization, errors.Errorf("serialization code %d", byte(t)))
}

// SplitTypes splits concatenated type descriptors such as
// "Ljava/lang/String;[IJ" into their parts.
func SplitTypes(refs string) ([]string, error) {
	var types []string
	for i := 0; i < len(refs); {
		start := i
		for i < len(refs) && refs[i] == '[' {
			i++
		}
		if i == len(refs) {
			return nil, errors.Errorf("truncated type descriptor %q", refs[start:])
		}
		switch refs[i] {
		case 'L':
			end := strings.IndexByte(refs[i:], ';')
			if end < 0 {
				return nil, errors.Errorf("unterminated type descriptor %q", refs[start:])
			}
			i += end + 1
		case 'Z', 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'V':
			i++
		default:
			return nil, errors.Errorf("bad type descriptor %q", refs[start:])
		}
		types = append(types, refs[start:i])
	}
	return types, nil
}

// exceptionMessage extracts a provider's error message from a decoded
// exception payload.
func exceptionMessage(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
		if m, ok := e["detailMessage"].(string); ok {
			return m
		}
	case map[interface{}]interface{}:
		if m, ok := e["message"].(string); ok {
			return m
		}
		if m, ok := e["detailMessage"].(string); ok {
			return m
		}
	case error:
		return e.Error()
	}
	return "provider occur error"
}
