// Package registry lists and publishes provider endpoints in a
// hierarchical service registry.
//
// Providers of a service live as children of /dubbo/<service>/providers,
// each child name being the URL-encoded provider URL.
package registry

import (
	"context"

	"dubbo-client/endpoint"
)

// Registry is the read side used by discovery.
type Registry interface {
	// Children returns the names of the direct children of path.
	Children(ctx context.Context, path string) ([]string, error)
	// Close ends the registry session.
	Close() error
}

// Publisher is implemented by registries that providers can announce
// themselves in.
type Publisher interface {
	Register(ctx context.Context, u *endpoint.URL, ttl int64) error
	Deregister(ctx context.Context, u *endpoint.URL) error
}
