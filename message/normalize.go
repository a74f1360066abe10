// Package message turns raw header bytes fetched from a mailbox into
// model.EmailRecord values.
package message

import (
	"bufio"
	"bytes"
	"strings"

	gomessage "github.com/emersion/go-message"
	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/text/unicode/norm"

	"github.com/dhcgn/mail-digest/model"
)

// Normalize builds an EmailRecord from a message identifier and its raw
// header section. It never fails: malformed header lines are skipped, and a
// field that is missing or cannot be decoded is left empty.
func Normalize(id string, rawHeader []byte) model.EmailRecord {
	header, _ := ParseHeader(rawHeader)

	return model.EmailRecord{
		ID:      id,
		Sender:  decodeField(header, "From"),
		Subject: decodeField(header, "Subject"),
		Date:    clean(header.Get("Date")),
	}
}

// ParseHeader reads a header block. Lines that are not "Key: value" fields or
// their continuations are skipped, so the header always holds every
// well-formed field. The boolean is false when anything had to be skipped.
func ParseHeader(rawHeader []byte) (mail.Header, bool) {
	block, skipped := wellFormedLines(rawHeader)

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(block)))
	// ReadHeader returns the fields read before a failure alongside the error.
	return mail.Header{Header: gomessage.Header{Header: h}}, err == nil && !skipped
}

// wellFormedLines copies the field lines of raw up to the first empty line,
// dropping malformed lines together with their continuations, and terminates
// the block with an empty line.
func wellFormedLines(raw []byte) (block []byte, skipped bool) {
	var buf bytes.Buffer
	inField := false

	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}

		switch {
		case line[0] == ' ' || line[0] == '\t':
			if !inField {
				skipped = true
				continue
			}
		case bytes.IndexByte(line, ':') > 0:
			inField = true
		default:
			skipped = true
			inField = false
			continue
		}

		buf.Write(line)
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")
	return buf.Bytes(), skipped
}

func decodeField(h mail.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return ""
	}
	return clean(text)
}

// clean unfolds continuation lines, collapses whitespace and composes the
// text to NFC so equal headers always render to equal bytes.
func clean(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
