package openai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// sseReader pulls server-sent events one at a time. A blank line ends an
// event; lines starting with ':' are comments.
type sseReader struct {
	br *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{br: bufio.NewReader(r)}
}

// Next returns the next event with data. It returns io.EOF when the body ends.
func (r *sseReader) Next() (event string, data string, err error) {
	var dataLines []string
	for {
		line, readErr := r.br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return "", "", readErr
		}
		eof := errors.Is(readErr, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(dataLines) > 0 {
				return event, strings.Join(dataLines, "\n"), nil
			}
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if eof {
			if len(dataLines) > 0 {
				return event, strings.Join(dataLines, "\n"), nil
			}
			return "", "", io.EOF
		}
	}
}
