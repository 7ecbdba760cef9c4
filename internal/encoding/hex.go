// Package encoding renders byte-addressed memory as Intel-Hex-style text records, for debug
// dumps of loaded program segments. It is write-only: there is no corresponding parser, since
// nothing in this tree reads an on-disk hex-encoded program (spec's Non-goals exclude the
// executable file format itself).
package encoding

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// maxRecordLen is the most data bytes encoded per line, matching common Intel-Hex tooling.
const maxRecordLen = 16

// DumpSegment renders data as a sequence of data records, each giving the hex bytes starting at
// addr plus the record's offset into data, followed by a one-byte two's-complement checksum of
// the record. The format mirrors Intel Hex closely enough to be readable by existing tooling but
// makes no claim of full compliance.
func DumpSegment(addr int, data []byte) string {
	var buf bytes.Buffer

	for off := 0; off < len(data); off += maxRecordLen {
		end := off + maxRecordLen
		if end > len(data) {
			end = len(data)
		}

		chunk := data[off:end]

		check := byte(len(chunk))
		check += byte((addr + off) >> 8)
		check += byte(addr + off)

		for _, b := range chunk {
			check += b
		}

		check = 1 + ^check

		fmt.Fprintf(&buf, ":%02X%04X00%s%02X\n", len(chunk), addr+off, hex.EncodeToString(chunk), check)
	}

	return buf.String()
}
