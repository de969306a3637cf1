package beefweb

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds, 0 when absent
}

// eventReader splits a text/event-stream body into events.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next blocks until a complete event is available. It returns io.EOF when
// the stream ends, discarding a trailing event without its blank line.
func (er *eventReader) Next() (Event, error) {
	ev := Event{Event: "message"}
	var data strings.Builder
	seen := false

	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			ev.Data = strings.TrimSuffix(data.String(), "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		seen = true

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch strings.TrimSpace(field) {
		case "id":
			ev.ID = value
		case "event":
			ev.Event = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
			}
		}
	}
}
