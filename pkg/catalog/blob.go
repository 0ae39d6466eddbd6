package catalog

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// blobMagic prefixes every compiled catalog.
const blobMagic = "ISPCAT"

type blob struct {
	Magic    string   `msgpack:"magic"`
	Document Document `msgpack:"doc"`
}

// Compile validates a YAML catalog and encodes it as a binary blob.
func Compile(yamlData []byte) ([]byte, error) {
	c, err := Parse(yamlData)
	if err != nil {
		return nil, err
	}
	return c.Marshal()
}

// Marshal encodes the catalog as a binary blob.
func (c *Catalog) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(&blob{Magic: blobMagic, Document: c.doc})
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	return data, nil
}

// Open decodes and validates a compiled catalog.
func Open(data []byte) (*Catalog, error) {
	var b blob
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode catalog blob: %w", err)
	}
	if b.Magic != blobMagic {
		return nil, fmt.Errorf("not a catalog blob (magic %q)", b.Magic)
	}
	return fromDocument(b.Document)
}
