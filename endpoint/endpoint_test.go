package endpoint

import (
	"net/url"
	"testing"

	"dubbo-client/errors"
)

func TestParseDefaults(t *testing.T) {
	u, err := Parse("dubbo://10.0.0.1:20880/com.x.Foo?version=2.0&group=g1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Host() != "10.0.0.1" {
		t.Errorf("host: got %q", u.Host())
	}
	if u.Port() != 20880 {
		t.Errorf("port: got %d", u.Port())
	}
	if u.Service() != "com.x.Foo" {
		t.Errorf("service: got %q", u.Service())
	}
	if u.Version("") != "2.0" {
		t.Errorf("version: got %q", u.Version(""))
	}
	if u.Group("") != "g1" {
		t.Errorf("group: got %q", u.Group(""))
	}
	if u.Serialization("fastjson") != DefaultSerialization {
		t.Errorf("serialization: got %q, want %q", u.Serialization("fastjson"), DefaultSerialization)
	}
	if u.Weight(100) != 100 {
		t.Errorf("weight fallback: got %d", u.Weight(100))
	}
	if u.Set("none") != "none" {
		t.Errorf("set fallback: got %q", u.Set("none"))
	}
}

func TestParseFields(t *testing.T) {
	u, err := Parse("dubbo://192.168.1.7:20881/com.x.Bar?serialization=fastjson&weight=40&application=demo&category=providers")
	if err != nil {
		t.Fatal(err)
	}
	if u.Serialization("") != "fastjson" {
		t.Errorf("serialization: got %q", u.Serialization(""))
	}
	if u.Weight(100) != 40 {
		t.Errorf("weight: got %d", u.Weight(100))
	}
	if u.Application() != "demo" || u.Category() != "providers" {
		t.Errorf("params: got %q %q", u.Application(), u.Category())
	}
	if u.Version("1.0.0") != "1.0.0" {
		t.Errorf("version fallback: got %q", u.Version("1.0.0"))
	}
	if u.Address() != "192.168.1.7:20881" {
		t.Errorf("address: got %q", u.Address())
	}
}

func TestParseEmptySerialization(t *testing.T) {
	u, err := Parse("dubbo://10.0.0.1:20880/com.x.Foo?serialization=")
	if err != nil {
		t.Fatal(err)
	}
	if u.Serialization("fastjson") != DefaultSerialization {
		t.Fatalf("got %q", u.Serialization("fastjson"))
	}
}

func TestServiceFromQuery(t *testing.T) {
	u, err := Parse("dubbo://10.0.0.1:20880?service=com.x.Baz")
	if err != nil {
		t.Fatal(err)
	}
	if u.Service() != "com.x.Baz" {
		t.Fatalf("got %q", u.Service())
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"10.0.0.1:20880/com.x.Foo",
		"dubbo:///com.x.Foo",
		"dubbo://10.0.0.1/com.x.Foo",
		"dubbo://10.0.0.1:0/com.x.Foo",
		"",
	}
	for _, c := range cases {
		_, err := Parse(c)
		if !errors.Is(errors.InvalidEndpoint, err) {
			t.Errorf("Parse(%q): expect InvalidEndpoint, got %v", c, err)
		}
	}
}

func TestFromMap(t *testing.T) {
	u, err := FromMap(map[string]string{
		KeyScheme: "dubbo",
		KeyHost:   "10.0.0.2",
		KeyPort:   "20880",
		KeyPath:   "/com.x.Foo",
		KeyQuery:  "version=1.0.0&group=g2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.String() != "dubbo://10.0.0.2:20880/com.x.Foo?version=1.0.0&group=g2" {
		t.Errorf("origin: got %q", u.String())
	}
	if _, err := FromMap(map[string]string{KeyHost: "10.0.0.2", KeyPort: "20880"}); !errors.Is(errors.InvalidEndpoint, err) {
		t.Errorf("expect InvalidEndpoint without scheme, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	u, err := Parse("dubbo://10.0.0.1:20880/com.x.Foo?version=2.0&group=g1&serialization=fastjson")
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := url.QueryUnescape(u.Encoded())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{u.String(), decoded} {
		v, err := Parse(s)
		if err != nil {
			t.Fatal(err)
		}
		if v.Host() != u.Host() || v.Port() != u.Port() || v.Service() != u.Service() ||
			v.Group("") != u.Group("") || v.Version("") != u.Version("") {
			t.Fatalf("round trip mismatch: %q vs %q", v.String(), u.String())
		}
	}
}

func TestRegistryPath(t *testing.T) {
	raw := "dubbo://10.0.0.1:20880/com.x.Foo?version=2.0"
	u, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := "/dubbo/com.x.Foo/providers/" + url.QueryEscape(raw)
	if u.RegistryPath() != want {
		t.Fatalf("got %q, want %q", u.RegistryPath(), want)
	}
}
