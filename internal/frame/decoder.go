// Package frame reassembles the orchestrator's line-delimited byte stream
// into decoded events.
//
// Frames are recognised with a deliberately simple heuristic: a `data:` line
// whose trimmed payload ends in `}` is treated as one complete JSON object.
// Payloads that fail the check are dropped, never buffered for repair, so an
// object split across several lines by the producer is lost. A payload that
// contains a literal `}` right before a truncation point can also pass the
// check and then fail to parse. Both cases are logged and counted in Stats.
package frame

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/teamfeed/internal/event"
)

const (
	DataPrefix       = "data:"
	defaultChunkSize = 4096
	logPayloadLimit  = 120
)

// Stats counts what the decoder did with the lines it saw.
type Stats struct {
	Lines      int `json:"lines"`
	Events     int `json:"events"`
	Skipped    int `json:"skipped"`
	Incomplete int `json:"incomplete"`
	Malformed  int `json:"malformed"`
}

type Decoder struct {
	prefix      string
	systemAgent string
	chunkSize   int
	logger      *slog.Logger

	carry string
	stats Stats
}

type Option func(*Decoder)

// WithSystemAgent sets the agent name attributed to events without one.
func WithSystemAgent(name string) Option {
	return func(d *Decoder) { d.systemAgent = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithChunkSize sets the read size used by Events.
func WithChunkSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		prefix:    DataPrefix,
		chunkSize: defaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Push feeds one chunk and returns the events completed by it, in order.
// The trailing partial line is kept until a later chunk terminates it.
func (d *Decoder) Push(chunk []byte) []event.StreamEvent {
	d.carry += string(chunk)
	lines := strings.Split(d.carry, "\n")
	d.carry = lines[len(lines)-1]

	var events []event.StreamEvent
	for _, line := range lines[:len(lines)-1] {
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Close discards any unterminated trailing text. It is never parsed.
func (d *Decoder) Close() {
	if d.carry != "" {
		d.logger.Debug("discarding unterminated stream tail", "bytes", len(d.carry))
	}
	d.carry = ""
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

// Events reads r until EOF or error and yields every decoded event. A read
// error other than io.EOF is yielded once and ends the sequence. The
// sequence can be ranged over only once.
func (d *Decoder) Events(r io.Reader) iter.Seq2[event.StreamEvent, error] {
	consumed := false
	return func(yield func(event.StreamEvent, error) bool) {
		if consumed {
			return
		}
		consumed = true
		defer d.Close()

		buf := make([]byte, d.chunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range d.Push(buf[:n]) {
					if !yield(ev, nil) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(event.StreamEvent{}, fmt.Errorf("read stream: %w", err))
				}
				return
			}
		}
	}
}

func (d *Decoder) decodeLine(line string) (event.StreamEvent, bool) {
	d.stats.Lines++

	if !strings.HasPrefix(line, d.prefix) {
		// Blank separators, `:` keep-alive comments and `event:` lines.
		d.stats.Skipped++
		return event.StreamEvent{}, false
	}

	payload := strings.TrimSpace(line[len(d.prefix):])
	if !strings.HasSuffix(payload, "}") {
		d.stats.Incomplete++
		d.logger.Warn("dropping incomplete frame", "payload", truncate(payload, logPayloadLimit))
		return event.StreamEvent{}, false
	}

	ev, err := event.Decode([]byte(payload), d.systemAgent)
	if err != nil {
		d.stats.Malformed++
		d.logger.Warn("dropping malformed frame", "error", err, "payload", truncate(payload, logPayloadLimit))
		return event.StreamEvent{}, false
	}

	d.stats.Events++
	return ev, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
