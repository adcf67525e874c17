package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGelfHandler returns a JSON slog handler shipping records to the Graylog
// GELF UDP input at addr. The returned closer releases the UDP socket.
func NewGelfHandler(addr, facility, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gelf writer: %w", err)
	}
	w.Facility = facility
	return slog.NewJSONHandler(w, handlerOptions(parseLevel(level))), w, nil
}
