package output

import (
	"errors"

	"github.com/ignite/arukereso-extractor/internal/feed"
)

// Sink is a feed.Sink that can be flushed and closed at the end of a run.
type Sink interface {
	feed.Sink
	Close() error
}

// Multi fans records out to every sink in order and stops at the first error.
type Multi []Sink

// Write sends rec to each sink.
func (m Multi) Write(rec feed.Record) error {
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
