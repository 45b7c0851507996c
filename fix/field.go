// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fix

import (
	"bytes"

	"github.com/rob-gra/go-fix42/errs"
)

// SOH is the single-byte field delimiter used throughout the FIX
// tag-value encoding.
const SOH = 0x01

// Field is a (tag, value) pair. Value is a raw byte string and must
// never contain an SOH byte — that invariant is enforced by NewField
// and by the codec on parse.
type Field struct {
	Tag   int
	Value []byte
}

// NewField builds a Field, rejecting values that embed the frame
// delimiter.
func NewField(tag int, value []byte) (Field, error) {
	if bytes.IndexByte(value, SOH) != -1 {
		return Field{}, errs.Serialization("tag %d: value contains embedded SOH", tag)
	}
	return Field{Tag: tag, Value: value}, nil
}

// String returns the value as a string for display and comparison.
func (f Field) String() string { return string(f.Value) }
