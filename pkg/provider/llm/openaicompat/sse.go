package openaicompat

import (
	"bufio"
	"io"
	"strings"
)

// sseDecoder reads an OpenAI-compatible "data: {...}" event stream and
// yields the JSON payload of each event, stripping the "data: " prefix.
type sseDecoder struct {
	scanner *bufio.Scanner
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{scanner: bufio.NewScanner(r)}
}

// next returns the next event's payload, or ok=false once the stream ends.
func (d *sseDecoder) next() (string, bool) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, found := strings.CutPrefix(line, "data:")
		if !found {
			continue
		}
		return strings.TrimSpace(payload), true
	}
	return "", false
}
