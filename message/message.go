// Package message defines the call and reply values exchanged with a provider.
//
// A Request is built once per invocation and never mutated afterwards;
// ForProvider returns the per-attempt copy carrying the chosen provider's
// group, version, serialization and timeout. A Response is filled in by the
// protocol layer as the header and then the body arrive.
package message

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"dubbo-client/endpoint"
)

// DubboVersion is the protocol version announced in every request body.
const DubboVersion = "2.0.2"

// Serialization codes carried in the low five bits of the header flag byte.
const (
	SerializationHessian2 byte = 2
	SerializationFastJSON byte = 6
)

// SerializationCode maps a serialization name to its wire code.
// Anything other than "hessian2" is sent as fastjson.
func SerializationCode(name string) byte {
	if name == "hessian2" {
		return SerializationHessian2
	}
	return SerializationFastJSON
}

// Attachment keys always sent with a request.
const (
	AttachPath      = "path"
	AttachInterface = "interface"
	AttachGroup     = "group"
	AttachVersion   = "version"
	AttachTimeout   = "timeout"
)

// Request is one invocation.
type Request struct {
	Seq           uint64
	DubboVersion  string
	Service       string
	Method        string
	Types         []string // parameter type descriptors, one per param
	Params        []any
	Group         string
	Version       string
	Timeout       int // milliseconds
	Serialization byte
	TwoWay        bool
	Heartbeat     bool
	// Extra holds attachments beyond the ones derived from the fields
	// above. On the provider side it holds every decoded attachment.
	Extra map[string]any

	// Host and Port record where the request was sent.
	Host string
	Port int
}

// NewRequest returns a two-way request with a fresh sequence number.
func NewRequest(service, method string, types []string, params []any) Request {
	return Request{
		Seq:           NextSeq(),
		DubboVersion:  DubboVersion,
		Service:       service,
		Method:        method,
		Types:         types,
		Params:        params,
		Serialization: SerializationFastJSON,
		TwoWay:        true,
	}
}

// ForProvider returns a copy of r addressed to u, with u's group, version
// and serialization and a timeout of ioTimeout.
func (r Request) ForProvider(u *endpoint.URL, ioTimeout time.Duration) Request {
	r.Host = u.Host()
	r.Port = u.Port()
	r.Group = u.Group("")
	r.Version = u.Version("")
	r.Timeout = int(ioTimeout / time.Millisecond)
	r.Serialization = SerializationCode(u.Serialization("fastjson"))
	return r
}

// Address returns host:port of the provider the request was addressed to.
func (r Request) Address() string {
	if r.Host == "" {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// TypeRefs returns the concatenated parameter type descriptors.
func (r Request) TypeRefs() string {
	var s string
	for _, t := range r.Types {
		s += t
	}
	return s
}

// Attachment is one key/value pair sent alongside a call.
type Attachment struct {
	Key   string
	Value any
}

// Attachments returns the attachments to send, in wire order: path,
// interface, group and version when set, timeout, then Extra sorted by key.
// Extra cannot override the derived keys.
func (r Request) Attachments() []Attachment {
	a := []Attachment{
		{AttachPath, r.Service},
		{AttachInterface, r.Service},
	}
	if r.Group != "" {
		a = append(a, Attachment{AttachGroup, r.Group})
	}
	if r.Version != "" {
		a = append(a, Attachment{AttachVersion, r.Version})
	}
	a = append(a, Attachment{AttachTimeout, r.Timeout})

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		switch k {
		case AttachPath, AttachInterface, AttachGroup, AttachVersion, AttachTimeout:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a = append(a, Attachment{k, r.Extra[k]})
	}
	return a
}

// AttachmentMap returns Attachments as a map.
func (r Request) AttachmentMap() map[string]any {
	m := make(map[string]any)
	for _, a := range r.Attachments() {
		m[a.Key] = a.Value
	}
	return m
}

// String renders the request for logs.
func (r Request) String() string {
	b, err := json.Marshal(struct {
		Seq     uint64         `json:"sn"`
		Service string         `json:"service"`
		Method  string         `json:"method"`
		Types   []string       `json:"types"`
		Params  []any          `json:"params"`
		Group   string         `json:"group"`
		Version string         `json:"version"`
		Timeout int            `json:"timeout"`
		Attach  map[string]any `json:"attach"`
	}{r.Seq, r.Service, r.Method, r.Types, r.Params, r.Group, r.Version, r.Timeout, r.AttachmentMap()})
	if err != nil {
		return fmt.Sprintf("%d %s.%s(%v)", r.Seq, r.Service, r.Method, r.Params)
	}
	return string(b)
}

// Truncate caps s at limit runes, appending " ...(len:N)" with the byte
// length of s when it had to be cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) < limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + " ...(len:" + strconv.Itoa(len(s)) + ")"
		}
		n++
	}
	return s + " ...(len:" + strconv.Itoa(len(s)) + ")"
}

// Response status codes.
const (
	StatusOK                   = 20
	StatusClientTimeout        = 30
	StatusServerTimeout        = 31
	StatusBadRequest           = 40
	StatusBadResponse          = 50
	StatusServiceNotFound      = 60
	StatusServiceError         = 70
	StatusServerError          = 80
	StatusClientError          = 90
	StatusServerThreadpoolFull = 100
)

// Response is one reply frame.
type Response struct {
	Seq           uint64
	Status        byte
	Heartbeat     bool
	Serialization byte
	Len           uint32 // body length declared in the header
	Body          []byte

	Result   any
	ErrorMsg string
}

// OK reports whether the response carries a successful status.
func (r *Response) OK() bool { return r.Status == StatusOK }

func (r *Response) String() string {
	return fmt.Sprintf("%d->%s", r.Seq, r.Body)
}
