// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package wire encodes and decodes the persisted form of a lease
// record. Records are stored one-per-key in the lease bucket of the
// persistent storage collaborator (SPEC_FULL.md, DOMAIN STACK), so the
// encoding is a small, flat protobuf wire message (the bare field
// bytes, with no outer length prefix) rather than a generated proto
// type: there is no .proto file or
// protoc step in this tree, only the three fields the store actually
// needs.
package wire

import (
	"github.com/juju/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldID           = protowire.Number(1)
	fieldTTLSeconds   = protowire.Number(2)
	fieldRemainingSec = protowire.Number(3)
)

// Record is the persisted shape of a lease: its id, its granted ttl in
// whole seconds, and the remaining_ttl mirror last written for it.
// Callers translate to and from core/lease.Record at the storage
// boundary; wire.Record carries no behaviour of its own.
type Record struct {
	ID            int64
	TTLSeconds    int64
	RemainingSecs int64
}

// Marshal encodes r as a protobuf message body: three varint fields,
// in field-number order, each field omitted when its value is the
// zero value (standard proto3 semantics). No length prefix is
// written before the fields.
func Marshal(r Record) []byte {
	var buf []byte
	if r.ID != 0 {
		buf = protowire.AppendTag(buf, fieldID, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.ID))
	}
	if r.TTLSeconds != 0 {
		buf = protowire.AppendTag(buf, fieldTTLSeconds, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.TTLSeconds))
	}
	if r.RemainingSecs != 0 {
		buf = protowire.AppendTag(buf, fieldRemainingSec, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(r.RemainingSecs))
	}
	return buf
}

// Unmarshal decodes a Record previously produced by Marshal. Unknown
// fields are skipped, so a future field can be added without breaking
// decode of records written by an older version.
func Unmarshal(data []byte) (Record, error) {
	var r Record
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Record{}, errors.NotValidf("lease record wire tag")
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Record{}, errors.NotValidf("lease record wire varint")
			}
			data = data[n:]
			switch num {
			case fieldID:
				r.ID = int64(v)
			case fieldTTLSeconds:
				r.TTLSeconds = int64(v)
			case fieldRemainingSec:
				r.RemainingSecs = int64(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Record{}, errors.NotValidf("lease record wire field")
			}
			data = data[n:]
		}
	}
	return r, nil
}
