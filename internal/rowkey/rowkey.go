// Copyright 2024 The Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package rowkey provides a zero-copy view over a row-key byte range.
package rowkey

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned by Of when the requested range does not fit
// within the backing array.
var ErrOutOfBounds = errors.New("rowkey: offset/length out of bounds")

// View is an immutable, exclusive-read reference to a byte range owned by
// some caller-supplied array. A View never copies its backing array; it
// must not be retained past the lifetime of the array it was built from
// (see Of).
type View struct {
	array  []byte
	offset int
	length int
	h      uint64
}

// Empty returns the singleton zero-length view.
func Empty() View {
	return View{h: fnv1a(nil)}
}

// Whole returns a view over the entire array.
func Whole(array []byte) View {
	// Of never fails for offset=0, length=len(array).
	v, _ := Of(array, 0, len(array))
	return v
}

// Of returns a view over array[offset:offset+length]. It fails with
// ErrOutOfBounds when offset<0, length<0, or offset+length>len(array).
//
// The returned View borrows array: callers must not mutate array for as
// long as the View (or any value derived from it, other than the result
// of ToBytes) is in use.
func Of(array []byte, offset, length int) (View, error) {
	if offset < 0 || length < 0 || offset+length > len(array) {
		return View{}, errors.Wrapf(ErrOutOfBounds, "offset=%d length=%d array_len=%d", offset, length, len(array))
	}
	slice := array[offset : offset+length]
	return View{array: array, offset: offset, length: length, h: fnv1a(slice)}, nil
}

// Len returns the number of bytes in the view.
func (v View) Len() int { return v.length }

// bytes returns the borrowed slice; callers inside this package only.
func (v View) bytes() []byte {
	if v.array == nil {
		return nil
	}
	return v.array[v.offset : v.offset+v.length]
}

// ToBytes returns a freshly allocated copy of the view's contents. This is
// the only supported way to retain a row-key beyond the processing scope
// of a single WAL batch.
func (v View) ToBytes() []byte {
	src := v.bytes()
	if len(src) == 0 {
		return []byte{}
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// Hash returns the precomputed content hash used for map placement and
// fast-path equality checks.
func (v View) Hash() uint64 { return v.h }

// Equal reports whether two views have identical content, regardless of
// backing array or offset. The comparison short-circuits on hash, then
// length, before falling back to a byte-range comparison.
func (v View) Equal(other View) bool {
	if v.h != other.h {
		return false
	}
	if v.length != other.length {
		return false
	}
	return bytes.Equal(v.bytes(), other.bytes())
}

// String renders a short diagnostic preview: up to the first 16 bytes of
// the view, hex-encoded, with a truncation marker if longer.
func (v View) String() string {
	b := v.bytes()
	n := len(b)
	if n <= 16 {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%s...(%d bytes)", hex.EncodeToString(b[:16]), n)
}

// fnv1a computes the 64-bit FNV-1a hash of b. It is used purely as an
// internal map/equality accelerator, not for any security purpose.
func fnv1a(b []byte) uint64 {
	const offsetBasis uint64 = 14695981039346656037
	const prime uint64 = 1099511628211
	h := offsetBasis
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}
