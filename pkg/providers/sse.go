package providers

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// readSSE scans a text/event-stream body and hands each data payload to
// handle. The stream terminates on EOF or a [DONE] sentinel. Event-type
// lines are passed alongside their data payload for upstreams that use them.
func readSSE(body io.Reader, handle func(event string, data []byte) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			event = ""
		case bytes.HasPrefix(line, []byte("event:")):
			event = strings.TrimSpace(string(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[len("data:"):])
			if string(data) == "[DONE]" {
				return nil
			}
			payload := make([]byte, len(data))
			copy(payload, data)
			if err := handle(event, payload); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
