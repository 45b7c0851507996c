// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fix

import (
	"sort"
)

// element is one logical body element: either a scalar Field or a
// repeating Group, keyed by its leading tag (the field's own tag, or
// the group's counter tag) so the set can be kept in ascending order.
type element struct {
	tag   int
	field *Field
	group *Group
}

// Message is an ordered logical set of Fields plus optional repeating
// groups (§3 DATA MODEL). BeginString and MsgType are held outside the
// element set because the codec always emits them first (tags 8, 9,
// 35) ahead of every other field, with BodyLength and CheckSum
// computed at serialization time.
type Message struct {
	BeginString string
	MsgType     string

	elements map[int]element
}

// NewMessage creates an empty outbound message of the given MsgType.
func NewMessage(beginString, msgType string) *Message {
	return &Message{
		BeginString: beginString,
		MsgType:     msgType,
		elements:    make(map[int]element),
	}
}

// Set assigns a scalar string value to tag, overwriting any prior
// value or group at that tag. Returns the message for chaining, in
// the style of the teacher's ASDU.AppendX methods.
func (m *Message) Set(tag int, value string) *Message {
	m.elements[tag] = element{tag: tag, field: &Field{Tag: tag, Value: []byte(value)}}
	return m
}

// SetBytes is Set for a raw byte value.
func (m *Message) SetBytes(tag int, value []byte) *Message {
	m.elements[tag] = element{tag: tag, field: &Field{Tag: tag, Value: value}}
	return m
}

// SetGroup installs a repeating group under its counter tag.
func (m *Message) SetGroup(def GroupDef, entries []Entry) *Message {
	m.elements[def.CounterTag] = element{
		tag:   def.CounterTag,
		group: &Group{Def: def, Entries: entries},
	}
	return m
}

// Get returns the raw value for a scalar tag.
func (m *Message) Get(tag int) ([]byte, bool) {
	e, ok := m.elements[tag]
	if !ok || e.field == nil {
		return nil, false
	}
	return e.field.Value, true
}

// GetString is Get as a string.
func (m *Message) GetString(tag int) (string, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return "", false
	}
	return string(v), true
}

// GetGroup returns the repeating group installed under a counter tag.
func (m *Message) GetGroup(counterTag int) (*Group, bool) {
	e, ok := m.elements[counterTag]
	if !ok || e.group == nil {
		return nil, false
	}
	return e.group, true
}

// Has reports whether tag is present, scalar or group.
func (m *Message) Has(tag int) bool {
	_, ok := m.elements[tag]
	return ok
}

// Tags returns every element's leading tag, ascending — the order the
// codec serializes the body in.
func (m *Message) Tags() []int {
	tags := make([]int, 0, len(m.elements))
	for t := range m.elements {
		tags = append(tags, t)
	}
	sort.Ints(tags)
	return tags
}

// Clone returns a deep copy of m. Used before stamping a retransmitted
// message so the original (typically aliased from the store's
// in-memory index) is never mutated.
func (m *Message) Clone() *Message {
	out := &Message{
		BeginString: m.BeginString,
		MsgType:     m.MsgType,
		elements:    make(map[int]element, len(m.elements)),
	}
	for tag, e := range m.elements {
		switch {
		case e.field != nil:
			v := make([]byte, len(e.field.Value))
			copy(v, e.field.Value)
			out.elements[tag] = element{tag: tag, field: &Field{Tag: e.field.Tag, Value: v}}
		case e.group != nil:
			entries := make([]Entry, len(e.group.Entries))
			for i, entry := range e.group.Entries {
				fields := make(Entry, len(entry))
				for j, f := range entry {
					v := make([]byte, len(f.Value))
					copy(v, f.Value)
					fields[j] = Field{Tag: f.Tag, Value: v}
				}
				entries[i] = fields
			}
			out.elements[tag] = element{tag: tag, group: &Group{Def: e.group.Def, Entries: entries}}
		}
	}
	return out
}
