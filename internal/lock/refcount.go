package locking

// Package locking provides an atomic reference counter that refuses to
// go below zero. The admin server uses it to count live connections;
// bufferpool.Frame keeps its own pin count under the pool mutex instead.

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrAlreadyZero is returned by TryDec when the count is already zero,
// signaling a caller-side double-unpin rather than a programming panic.
var ErrAlreadyZero = errors.New("locking: refcount already zero")

type RefCount struct {
	count int32
}

// NewRefCount returns a RefCount starting at zero. Callers that pin
// immediately on creation should follow with Inc.
func NewRefCount() *RefCount {
	return &RefCount{}
}

func (r *RefCount) Inc() int32 {
	return atomic.AddInt32(&r.count, 1)
}

// TryDec decrements the count and reports ErrAlreadyZero instead of
// going negative, so a caller unpin error surfaces to the offending
// caller rather than crashing the process.
func (r *RefCount) TryDec() (int32, error) {
	for {
		cur := atomic.LoadInt32(&r.count)
		if cur <= 0 {
			return cur, ErrAlreadyZero
		}
		if atomic.CompareAndSwapInt32(&r.count, cur, cur-1) {
			return cur - 1, nil
		}
	}
}

func (r *RefCount) Get() int32 {
	return atomic.LoadInt32(&r.count)
}

func (r *RefCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.Get())
}
