package eventlog

import "errors"

// Multi fans every entry out to several sinks.
type Multi []Sink

var _ Sink = Multi(nil)

// NewMulti creates a fan-out sink, skipping nil sinks.
func NewMulti(sinks ...Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Write sends the entry to every sink and joins their errors. A failing sink
// does not stop the others from receiving the entry.
func (m Multi) Write(message string, fields map[string]string) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(message, fields); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
