// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fix

import (
	"bytes"
	"strconv"
)

var (
	beginTagPrefix = []byte("8=")
	checkSumPrefix = []byte("10=")
)

// ExtractFrame scans buf for one complete frame: the literal "8=" start,
// then the literal "10=" trailer tag, followed by three ASCII digits
// and a trailing SOH. It returns the frame bytes (start through the
// trailing SOH inclusive) and the number of bytes the caller should
// drain from buf. ok is false when buf holds no complete frame yet —
// the caller must leave buf untouched and wait for more bytes.
func ExtractFrame(buf []byte) (frame []byte, consumed int, ok bool) {
	start := bytes.Index(buf, beginTagPrefix)
	if start == -1 {
		return nil, 0, false
	}

	csIdx := bytes.Index(buf[start:], checkSumPrefix)
	if csIdx == -1 {
		return nil, 0, false
	}
	csIdx += start

	digitsStart := csIdx + len(checkSumPrefix)
	if digitsStart+4 > len(buf) {
		return nil, 0, false
	}
	for i := 0; i < 3; i++ {
		c := buf[digitsStart+i]
		if c < '0' || c > '9' {
			return nil, 0, false
		}
	}
	if buf[digitsStart+3] != SOH {
		return nil, 0, false
	}

	end := digitsStart + 4
	return buf[start:end], end, true
}

// checksum computes the mod-256 sum of data, formatted as three
// zero-padded decimal digits (§3 DATA MODEL checksum invariant).
func checksum(data []byte) string {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	sum %= 256
	return padInt(sum, 3)
}

func padInt(v, width int) string {
	s := strconv.Itoa(v)
	for len(s) < width {
		s = "0" + s
	}
	return s
}
