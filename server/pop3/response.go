package pop3

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/dunlinmail/dunlin/maildrop"
)

func writeLine(writer *bufio.Writer, line string) {
	writer.WriteString(line)
	writer.WriteString("\r\n")
}

// scanListing builds the LIST response body. Sequence numbers come straight
// from the session snapshot and stay stable for the whole session (RFC 1939
// §5), including for messages already marked for deletion.
func scanListing(entries []maildrop.Entry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%d %d", e.Seq, e.Size))
	}
	return lines
}

// uidlListing builds the UIDL response body. The content checksum serves as
// the unique-id: it is stable across sessions and unique per message body.
func uidlListing(entries []maildrop.Entry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%d %s", e.Seq, e.Checksum))
	}
	return lines
}

func totalOctets(entries []maildrop.Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}

// writeDotStuffed writes a message body with RFC 1939 §3 byte-stuffing:
// every line starting with '.' gets an extra '.' prepended. The terminating
// ".\r\n" is the caller's job. A body without a trailing newline gets one so
// the termination octets stand on their own line.
func writeDotStuffed(writer *bufio.Writer, body []byte) {
	needsCRLF := len(body) == 0 || body[len(body)-1] != '\n'
	for len(body) > 0 {
		line := body
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			line = body[:i+1]
			body = body[i+1:]
		} else {
			body = nil
		}
		if len(line) > 0 && line[0] == '.' {
			writer.WriteByte('.')
		}
		writer.Write(line)
	}
	// Ensure the body ends with CRLF before the termination line
	if needsCRLF {
		writer.WriteString("\r\n")
	}
}
