package client

import (
	"encoding/json"
	"reflect"
	"strings"

	"dubbo-client/codec"
	"dubbo-client/errors"
)

// Parameter type descriptors.
const (
	ObjectType = "Ljava/lang/Object;"
	ListType   = "Ljava/util/ArrayList;"
)

// Record is a structured argument sent under an explicit remote class name.
type Record struct {
	Class string
	Props map[string]any
}

// Object returns a record of the remote class named class with the given
// fields. Class may use '.' or '\' as its package separator.
func Object(class string, fields map[string]any) *Record {
	props := make(map[string]any, len(fields))
	for k, v := range fields {
		props[k] = v
	}
	return &Record{Class: class, Props: props}
}

func (r *Record) JavaClassName() string  { return r.Class }
func (r *Record) Fields() map[string]any { return r.Props }

var classSeparators = strings.NewReplacer(".", "/", `\`, "/")

// TypeOf returns the parameter type descriptor of arg:
//
//	nil, bool, numbers, strings   Ljava/lang/Object;
//	slices and arrays             Ljava/util/ArrayList;
//	maps                          Ljava/lang/Object;
//	codec.Named (such as Record)  L<class with '/' separators>;
//
// Any other value has no descriptor.
func TypeOf(arg any) (string, error) {
	switch v := arg.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return ObjectType, nil
	case codec.Named:
		return "L" + classSeparators.Replace(v.JavaClassName()) + ";", nil
	case []any:
		return ListType, nil
	case map[string]any:
		return ObjectType, nil
	}
	switch reflect.TypeOf(arg).Kind() {
	case reflect.Slice, reflect.Array:
		return ListType, nil
	case reflect.Map:
		return ObjectType, nil
	}
	return "", errors.E("client.TypeOf", errors.Errorf("handler for type %T not implemented", arg))
}

// TypesOf returns the descriptors of args in order.
func TypesOf(args []any) ([]string, error) {
	types := make([]string, len(args))
	for i, a := range args {
		t, err := TypeOf(a)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}
