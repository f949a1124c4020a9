package ledger

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

/*
Everything the stores persist goes through a canonical JSON encoding, so that
a record always marshals to the same bytes regardless of map iteration order
or struct field changes between reads. Canonical bytes matter here: digests
and Merkle roots must be recomputable byte-for-byte at any future time.
*/

func marshalCanonical(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func unmarshalCanonical(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(v)
}
