package client

import (
	"net/url"
	"slices"
	"strings"
)

// Key is a hierarchical cache key such as ["conversations", "detail", "1"].
type Key []string

// HasPrefix reports whether prefix is a leading part of k.
func (k Key) HasPrefix(prefix Key) bool {
	return len(prefix) <= len(k) && slices.Equal(k[:len(prefix)], prefix)
}

func (k Key) String() string {
	return strings.Join(k, "/")
}

// Keys builds the cache keys of one entity.
type Keys struct {
	entity string
}

// KeysFor returns the key factory of entity.
func KeysFor(entity string) Keys {
	return Keys{entity: entity}
}

// All is the root key of the entity.
func (k Keys) All() Key { return Key{k.entity} }

// Lists is the prefix of every list query.
func (k Keys) Lists() Key { return Key{k.entity, "list"} }

// List is the key of one filtered list. Filters are encoded in sorted order
// so equal filter sets share a key.
func (k Keys) List(filters url.Values) Key {
	return Key{k.entity, "list", filters.Encode()}
}

// Details is the prefix of every detail query.
func (k Keys) Details() Key { return Key{k.entity, "detail"} }

// Detail is the key of one record.
func (k Keys) Detail(id string) Key { return Key{k.entity, "detail", id} }
