package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

const registryPrefixSize = 8

// Registry maps public key types to a fixed-width name prefix,
// so that serialized keys carry their own type.
//
// The zero value is ready to use.
type Registry struct {
	byPrefix map[[registryPrefixSize]byte]func([]byte) (PubKey, error)
	byType   map[reflect.Type][registryPrefixSize]byte
}

// Register associates name with the concrete type of inst.
// Names longer than 8 bytes panic, as do duplicate registrations.
func (r *Registry) Register(name string, inst PubKey, decode func([]byte) (PubKey, error)) {
	if len(name) > registryPrefixSize {
		panic(fmt.Errorf("registry name %q longer than %d bytes", name, registryPrefixSize))
	}

	var prefix [registryPrefixSize]byte
	copy(prefix[:], name)

	if r.byPrefix == nil {
		r.byPrefix = make(map[[registryPrefixSize]byte]func([]byte) (PubKey, error))
		r.byType = make(map[reflect.Type][registryPrefixSize]byte)
	}

	if _, ok := r.byPrefix[prefix]; ok {
		panic(fmt.Errorf("registry name %q already registered", name))
	}

	r.byPrefix[prefix] = decode
	r.byType[reflect.TypeOf(inst)] = prefix
}

// Marshal returns the type prefix followed by the raw key bytes.
// It panics if the key's type was never registered.
func (r *Registry) Marshal(k PubKey) []byte {
	prefix, ok := r.byType[reflect.TypeOf(k)]
	if !ok {
		panic(fmt.Errorf("no registered public key type for %T", k))
	}

	b := k.PubKeyBytes()
	out := make([]byte, 0, registryPrefixSize+len(b))
	out = append(out, prefix[:]...)
	return append(out, b...)
}

// Name returns the name k's type was registered under,
// and whether it was registered at all.
func (r *Registry) Name(k PubKey) (string, bool) {
	prefix, ok := r.byType[reflect.TypeOf(k)]
	if !ok {
		return "", false
	}
	return string(bytes.TrimRight(prefix[:], "\x00")), true
}

// Unmarshal decodes a key previously produced by Marshal.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < registryPrefixSize {
		return nil, fmt.Errorf("marshaled public key too short: %d bytes", len(b))
	}

	var prefix [registryPrefixSize]byte
	copy(prefix[:], b)

	decode, ok := r.byPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf(
			"no registered public key type for prefix %q",
			bytes.TrimRight(prefix[:], "\x00"),
		)
	}

	return decode(b[registryPrefixSize:])
}
