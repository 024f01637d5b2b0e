// Package encoding packs area cells for the wire.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"circuitcraft.ai/internal/sim/blocks"
)

// Cell is a block type with its logic bit.
type Cell struct {
	Type blocks.Type
	On   bool
}

func (c Cell) code() uint64 {
	v := uint64(c.Type) << 1
	if c.On {
		v |= 1
	}
	return v
}

// EncodeCells run-length encodes cells as base64 of uvarint (code, run) pairs, where
// code is type<<1 | on.
func EncodeCells(cells []Cell) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	for i := 0; i < len(cells); {
		c := cells[i].code()
		run := 1
		for i+run < len(cells) && cells[i+run].code() == c {
			run++
		}
		buf.Write(tmp[:binary.PutUvarint(tmp[:], c)])
		buf.Write(tmp[:binary.PutUvarint(tmp[:], uint64(run))])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

var errTooLong = errors.New("decoded cells exceed limit")

// DecodeCells reverses EncodeCells. limit caps the decoded length; <= 0 means no cap.
func DecodeCells(s string, limit int) ([]Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var out []Cell
	for i := 0; i < len(raw); {
		code, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n

		t := blocks.Type(code >> 1)
		if code>>1 > 0xFF || !t.Valid() {
			return nil, fmt.Errorf("unknown block type %d", code>>1)
		}
		if limit > 0 && uint64(len(out))+run > uint64(limit) {
			return nil, errTooLong
		}
		c := Cell{Type: t, On: code&1 == 1}
		for k := uint64(0); k < run; k++ {
			out = append(out, c)
		}
	}
	return out, nil
}
