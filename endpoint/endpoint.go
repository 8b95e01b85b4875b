// Package endpoint parses and represents one provider address and its metadata.
//
// A provider is published in the registry as a URL-encoded string such as
//
//	dubbo://10.0.0.1:20880/com.x.Foo?version=2.0&group=g1&serialization=fastjson&weight=100
//
// URL values are immutable once constructed.
package endpoint

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"dubbo-client/errors"
)

// Keys recognized in the query part of a provider URL.
const (
	KeyScheme        = "scheme"
	KeyHost          = "host"
	KeyPort          = "port"
	KeyPath          = "path"
	KeyQuery         = "query"
	KeyVersion       = "version"
	KeyGroup         = "group"
	KeySet           = "set"
	KeyService       = "service"
	KeyApplication   = "application"
	KeyCategory      = "category"
	KeyWeight        = "weight"
	KeySerialization = "serialization"
)

// DefaultSerialization is the serialization name assumed for a provider
// that does not name one.
const DefaultSerialization = "hessian2"

const (
	registryRoot = "/dubbo"
	providersDir = "providers"
)

// URL is one provider endpoint.
type URL struct {
	origin  string
	encoded string

	scheme        string
	host          string
	port          int
	query         string
	service       string
	version       string
	group         string
	set           string
	serialization string
	weight        int
	hasWeight     bool
	params        map[string]string
}

// Parse builds a URL from its string form scheme://host:port/path?query.
func Parse(raw string) (*URL, error) {
	const op = "endpoint.Parse"
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.E(op, errors.InvalidEndpoint, err)
	}
	fields := map[string]string{}
	if u.Scheme != "" {
		fields[KeyScheme] = u.Scheme
	}
	if h := u.Hostname(); h != "" {
		fields[KeyHost] = h
	}
	if p := u.Port(); p != "" {
		fields[KeyPort] = p
	}
	if u.Path != "" {
		fields[KeyPath] = u.Path
	}
	if u.RawQuery != "" {
		fields[KeyQuery] = u.RawQuery
	}
	e, err := build(op, fields)
	if err != nil {
		return nil, err
	}
	e.origin = raw
	e.encoded = url.QueryEscape(raw)
	return e, nil
}

// FromMap builds a URL from a field mapping using the keys scheme, host,
// port, path and query, as produced by splitting a URL into its parts.
func FromMap(fields map[string]string) (*URL, error) {
	e, err := build("endpoint.FromMap", fields)
	if err != nil {
		return nil, err
	}
	e.origin = e.scheme + "://" + e.Address() + "/" + e.service + "?" + e.query
	e.encoded = url.QueryEscape(e.origin)
	return e, nil
}

func build(op string, fields map[string]string) (*URL, error) {
	scheme, host, portStr := fields[KeyScheme], fields[KeyHost], fields[KeyPort]
	if scheme == "" || host == "" || portStr == "" {
		return nil, errors.E(op, errors.InvalidEndpoint, errors.Str("scheme, host and port are required"))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, errors.E(op, errors.InvalidEndpoint, errors.Errorf("bad port %q", portStr))
	}

	e := &URL{
		scheme: scheme,
		host:   host,
		port:   port,
		query:  fields[KeyQuery],
		params: make(map[string]string, len(fields)),
	}
	for k, v := range fields {
		e.params[k] = v
	}

	args, err := url.ParseQuery(e.query)
	if err != nil {
		return nil, errors.E(op, errors.InvalidEndpoint, err)
	}
	for k := range args {
		e.params[k] = args.Get(k)
	}

	e.version = args.Get(KeyVersion)
	e.group = args.Get(KeyGroup)
	e.set = args.Get(KeySet)
	if _, ok := args[KeyWeight]; ok {
		// Non-numeric weights count as zero.
		e.weight, _ = strconv.Atoi(args.Get(KeyWeight))
		e.hasWeight = true
	}
	if path := strings.TrimLeft(fields[KeyPath], "/"); path != "" {
		e.service = path
	} else {
		e.service = args.Get(KeyService)
	}
	e.serialization = args.Get(KeySerialization)
	if e.serialization == "" {
		e.serialization = DefaultSerialization
	}
	return e, nil
}

// String returns the URL in the form it was parsed from.
func (e *URL) String() string { return e.origin }

// Encoded returns the URL-encoded string form, as stored in the registry.
func (e *URL) Encoded() string { return e.encoded }

// Scheme returns the protocol name, usually "dubbo".
func (e *URL) Scheme() string { return e.scheme }

// Host returns the provider host.
func (e *URL) Host() string { return e.host }

// Port returns the provider port.
func (e *URL) Port() int { return e.port }

// Address returns host:port.
func (e *URL) Address() string { return net.JoinHostPort(e.host, strconv.Itoa(e.port)) }

// Service returns the service name served at this endpoint.
func (e *URL) Service() string { return e.service }

// Group returns the provider group, or def if unset.
func (e *URL) Group(def string) string { return orDefault(e.group, def) }

// Version returns the provider version, or def if unset.
func (e *URL) Version(def string) string { return orDefault(e.version, def) }

// Set returns the provider set, or def if unset.
func (e *URL) Set(def string) string { return orDefault(e.set, def) }

// Serialization returns the serialization name, or def if unset.
func (e *URL) Serialization(def string) string { return orDefault(e.serialization, def) }

// Weight returns the provider weight, or def if the URL carries none.
func (e *URL) Weight(def int) int {
	if !e.hasWeight {
		return def
	}
	return e.weight
}

// Param returns an arbitrary parameter, or "" if absent.
func (e *URL) Param(key string) string { return e.params[key] }

// Application returns the application parameter.
func (e *URL) Application() string { return e.params[KeyApplication] }

// Category returns the category parameter.
func (e *URL) Category() string { return e.params[KeyCategory] }

// ProvidersPath returns the registry directory holding the providers of service.
func ProvidersPath(service string) string {
	return registryRoot + "/" + service + "/" + providersDir
}

// RegistryPath returns the registry node path publishing this endpoint.
func (e *URL) RegistryPath() string {
	return ProvidersPath(e.service) + "/" + e.encoded
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
