// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fix

import (
	"bytes"
	"strconv"

	"github.com/rob-gra/go-fix42/errs"
)

// Serialize converts m to its wire frame: 8=<begin> SOH, a BodyLength
// placeholder, 35=<type> SOH, the remaining fields and groups in
// ascending tag order, then BodyLength rewritten and a trailing
// CheckSum field (§4.1 Serialization).
func Serialize(m *Message) ([]byte, error) {
	var body bytes.Buffer
	for _, tag := range m.Tags() {
		e := m.elements[tag]
		if e.field != nil {
			if err := writeField(&body, e.field.Tag, e.field.Value); err != nil {
				return nil, err
			}
			continue
		}
		if err := writeGroup(&body, e.group); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	writeTagRaw(&out, TagBeginString, []byte(m.BeginString))
	bodyLenLen := out.Len()
	writeTagRaw(&out, TagBodyLength, []byte("0000"))
	bodyStart := out.Len()
	writeTagRaw(&out, TagMsgType, []byte(m.MsgType))
	out.Write(body.Bytes())
	bodyLen := out.Len() - bodyStart

	rendered := out.Bytes()
	placeholder := rendered[bodyLenLen:bodyStart]
	newField := append([]byte("9="+strconv.Itoa(bodyLen)), SOH)
	if len(newField) == len(placeholder) {
		copy(placeholder, newField)
	} else {
		// Length of the digit count changed; rebuild with the new size.
		var rebuilt bytes.Buffer
		rebuilt.Write(rendered[:bodyLenLen])
		rebuilt.Write(newField)
		rebuilt.Write(rendered[bodyStart:])
		rendered = rebuilt.Bytes()
	}

	cs := checksum(rendered)
	result := bytes.NewBuffer(rendered)
	writeTagRaw(result, TagCheckSum, []byte(cs))
	return result.Bytes(), nil
}

func writeField(buf *bytes.Buffer, tag int, value []byte) error {
	if bytes.IndexByte(value, SOH) != -1 {
		return errs.Serialization("tag %d: value contains embedded SOH", tag)
	}
	writeTagRaw(buf, tag, value)
	return nil
}

func writeTagRaw(buf *bytes.Buffer, tag int, value []byte) {
	buf.WriteString(strconv.Itoa(tag))
	buf.WriteByte('=')
	buf.Write(value)
	buf.WriteByte(SOH)
}

func writeGroup(buf *bytes.Buffer, g *Group) error {
	writeTagRaw(buf, g.Def.CounterTag, []byte(strconv.Itoa(len(g.Entries))))
	for _, entry := range g.Entries {
		// Member tags go out in the GroupDef's canonical order; any
		// non-member field the entry carries follows in entry order.
		for _, tag := range g.Def.Members {
			for _, f := range entry {
				if f.Tag != tag {
					continue
				}
				if err := writeField(buf, f.Tag, f.Value); err != nil {
					return err
				}
			}
		}
		for _, f := range entry {
			if g.Def.isMember(f.Tag) {
				continue
			}
			if err := writeField(buf, f.Tag, f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse splits a frame (as returned by ExtractFrame) into a Message.
// It verifies the checksum, recognizes registered repeating groups,
// and rejects malformed tag=value pairs (§4.1 Parsing).
func Parse(frame []byte) (*Message, error) {
	if len(frame) == 0 || frame[len(frame)-1] != SOH {
		return nil, errs.Parse("frame missing trailing SOH")
	}

	csPos := bytes.LastIndex(frame, []byte{SOH, '1', '0', '='})
	if csPos == -1 {
		return nil, errs.Parse("frame missing CheckSum(10) trailer")
	}
	checkedRegion := frame[:csPos+1]
	declaredCS := string(frame[csPos+1+len("10=") : len(frame)-1])
	gotCS := checksum(checkedRegion)
	if declaredCS != gotCS {
		return nil, errs.Parse("checksum mismatch: frame declares %s, computed %s", declaredCS, gotCS)
	}

	pieces := bytes.Split(frame, []byte{SOH})
	var fields []Field
	for _, p := range pieces {
		if len(p) == 0 {
			continue
		}
		eq := bytes.IndexByte(p, '=')
		if eq <= 0 {
			return nil, errs.Parse("malformed field %q: missing '='", p)
		}
		tag, err := strconv.Atoi(string(p[:eq]))
		if err != nil {
			return nil, errs.ParseWrap(err, "malformed tag in field %q", p)
		}
		fields = append(fields, Field{Tag: tag, Value: p[eq+1:]})
	}

	if len(fields) < 2 || fields[0].Tag != TagBeginString {
		return nil, errs.Parse("frame missing BeginString(8) as first field")
	}

	m := &Message{BeginString: string(fields[0].Value), elements: make(map[int]element)}

	hasMsgType := false
	i := 1
	for i < len(fields) {
		f := fields[i]
		switch f.Tag {
		case TagBeginString, TagCheckSum:
			i++
			continue
		case TagBodyLength:
			i++
			continue
		case TagMsgType:
			m.MsgType = string(f.Value)
			hasMsgType = true
			i++
			continue
		}

		if def, ok := groupRegistry[f.Tag]; ok {
			n, err := strconv.Atoi(string(f.Value))
			if err != nil {
				return nil, errs.ParseWrap(err, "group counter tag %d: not an integer", f.Tag)
			}
			i++
			entries, consumed, err := parseGroupEntries(fields[i:], def, n)
			if err != nil {
				return nil, err
			}
			m.elements[f.Tag] = element{tag: f.Tag, group: &Group{Def: def, Entries: entries}}
			i += consumed
			continue
		}

		m.elements[f.Tag] = element{tag: f.Tag, field: &Field{Tag: f.Tag, Value: f.Value}}
		i++
	}

	if !hasMsgType {
		return nil, errs.Parse("frame missing MsgType(35)")
	}
	return m, nil
}

func parseGroupEntries(rest []Field, def GroupDef, declared int) ([]Entry, int, error) {
	var entries []Entry
	var cur Entry
	consumed := 0
	for _, f := range rest {
		if f.Tag == def.Delimiter {
			if cur != nil {
				entries = append(entries, cur)
			}
			cur = Entry{f}
			consumed++
			continue
		}
		if def.isMember(f.Tag) && cur != nil {
			cur = append(cur, f)
			consumed++
			continue
		}
		break
	}
	if cur != nil {
		entries = append(entries, cur)
	}
	if len(entries) != declared {
		return nil, 0, errs.Parse("group counter tag %d declares %d entries, found %d", def.CounterTag, declared, len(entries))
	}
	return entries, consumed, nil
}
