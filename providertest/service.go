package providertest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

type methodType struct {
	method   reflect.Method
	ArgTypes []reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("providertest: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("providertest: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	s := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, fmt.Errorf("providertest: %s has no method of the form M(args...) (T, error)", typ)
	}
	return s, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// registerMethods 扫描 struct 的导出方法，过滤出符合签名的
// A method qualifies if it returns (T, error). It is exposed under its
// name with the first letter lowered, sayHello for SayHello.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.IsVariadic() || mt.NumOut() != 2 || mt.Out(1) != errorType {
			continue
		}
		args := make([]reflect.Type, 0, mt.NumIn()-1)
		for j := 1; j < mt.NumIn(); j++ {
			args = append(args, mt.In(j))
		}
		s.method[lowerFirst(method.Name)] = &methodType{method: method, ArgTypes: args}
	}
}

func lowerFirst(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[n:]
}

// call 通过反射调用方法
func (s *service) call(m *methodType, params []any) (any, error) {
	if len(params) != len(m.ArgTypes) {
		return nil, fmt.Errorf("%s.%s takes %d arguments, got %d", s.name, lowerFirst(m.method.Name), len(m.ArgTypes), len(params))
	}
	in := make([]reflect.Value, 0, len(params)+1)
	in = append(in, s.rcvr)
	for i, p := range params {
		v, err := convert(p, m.ArgTypes[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %v", i, err)
		}
		in = append(in, v)
	}
	out := m.method.Func.Call(in)
	if !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// convert turns a decoded wire value into a value of type t.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if n, ok := v.(json.Number); ok {
		return convertNumber(n, t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if numeric(rv.Kind()) && numeric(t.Kind()) {
		return rv.Convert(t), nil
	}
	// Anything else goes through JSON, which also maps records onto structs.
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t)
	if err := json.Unmarshal(b, out.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

func convertNumber(n json.Number, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := n.Int64()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(i).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := n.Float64()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Interface:
		if i, err := n.Int64(); err == nil {
			return reflect.ValueOf(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f), nil
	case reflect.String:
		return reflect.ValueOf(n.String()).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use number %s as %s", n, t)
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// normalize rewrites the map[interface{}]interface{} values produced by
// hessian decoding into JSON-encodable maps.
func normalize(v any) any {
	switch x := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = normalize(val)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, val := range x {
			s[i] = normalize(val)
		}
		return s
	}
	return v
}

func (s *service) String() string {
	names := make([]string, 0, len(s.method))
	for n := range s.method {
		names = append(names, n)
	}
	return s.name + "{" + strings.Join(names, ",") + "}"
}
