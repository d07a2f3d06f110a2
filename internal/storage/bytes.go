package storage

import "github.com/tuannm99/novasql/pkg/bx"

// Thin wrappers around pkg/bx's big-endian helpers, scoped to the
// fixed-width fields Page reads and writes in its header and slot
// directory.

func GetU16(b []byte, off int) uint16 { return bx.U16At(b, off) }
func GetU32(b []byte, off int) uint32 { return bx.U32At(b, off) }

func PutU16(b []byte, off int, v uint16) { bx.PutU16At(b, off, v) }
func PutU32(b []byte, off int, v uint32) { bx.PutU32At(b, off, v) }
