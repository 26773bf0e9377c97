// Package serializer converts cached values to and from bytes.
//
// Two interchangeable backends exist: Binary (gob, fastest for Go-to-Go
// round trips in one binary version) and Portable (JSON, readable by other
// processes sharing a persistent cache).
package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/koustreak/tessera/internal/errs"
)

// Serializer converts values to a storable byte form and back.
// Unserialize decodes into v, which must be a pointer.
type Serializer interface {
	Name() string
	Serialize(v any) ([]byte, error)
	Unserialize(data []byte, v any) error
}

const (
	NameBinary   = "binary"
	NamePortable = "portable"
)

// ByName returns the serializer registered under name.
func ByName(name string) (Serializer, error) {
	switch name {
	case NameBinary, "":
		return Binary, nil
	case NamePortable:
		return Portable, nil
	}
	return nil, errs.New(errs.ErrKindConfiguration, fmt.Sprintf("unknown serializer %q", name))
}

// Binary is a gob-encoded Serializer.
var Binary Serializer = binarySerializer{}

type binarySerializer struct{}

func (binarySerializer) Name() string { return NameBinary }

func (binarySerializer) Serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (binarySerializer) Unserialize(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}

// Portable is a JSON-encoded Serializer.
var Portable Serializer = portableSerializer{}

type portableSerializer struct{}

func (portableSerializer) Name() string { return NamePortable }

func (portableSerializer) Serialize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return b, nil
}

func (portableSerializer) Unserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}
