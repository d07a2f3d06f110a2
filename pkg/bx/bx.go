// Package bx holds the fixed-width byte encode/decode helpers shared by
// the storage and wal packages, so page and log-record layouts don't each
// reinvent big-endian get/put pairs.
package bx

import "encoding/binary"

// LE and BE are the byte orders callers can pick explicitly; the plain
// U16/U32/U64 helpers below default to big-endian, matching the on-disk
// format used throughout this module.
var (
	LE = binary.LittleEndian
	BE = binary.BigEndian
)

func U16(b []byte) uint16 { return BE.Uint16(b) }
func U32(b []byte) uint32 { return BE.Uint32(b) }
func U64(b []byte) uint64 { return BE.Uint64(b) }

func PutU16(b []byte, v uint16) { BE.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { BE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { BE.PutUint64(b, v) }

func I16(b []byte) int16 { return int16(BE.Uint16(b)) }
func I32(b []byte) int32 { return int32(BE.Uint32(b)) }
func I64(b []byte) int64 { return int64(BE.Uint64(b)) }

// At variants read/write at a byte offset within a larger buffer, saving
// callers a slice expression at every call site.
func U16At(b []byte, off int) uint16 { return BE.Uint16(b[off:]) }
func U32At(b []byte, off int) uint32 { return BE.Uint32(b[off:]) }
func U64At(b []byte, off int) uint64 { return BE.Uint64(b[off:]) }

func PutU16At(b []byte, off int, v uint16) { BE.PutUint16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { BE.PutUint32(b[off:], v) }
func PutU64At(b []byte, off int, v uint64) { BE.PutUint64(b[off:], v) }

func U16BE(b []byte) uint16 { return BE.Uint16(b) }
func U32BE(b []byte) uint32 { return BE.Uint32(b) }
func U64BE(b []byte) uint64 { return BE.Uint64(b) }
