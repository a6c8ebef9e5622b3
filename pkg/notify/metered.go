package notify

import "context"

// MeteredSink counts successful deliveries through the wrapped sink. It sits
// at the delivery end of the chain so suppressed duplicates are not counted.
type MeteredSink struct {
	next  Sink
	count func(template string)
}

// NewMeteredSink wraps next with a per-template delivery counter. count may
// be nil.
func NewMeteredSink(next Sink, count func(template string)) *MeteredSink {
	return &MeteredSink{next: next, count: count}
}

func (s *MeteredSink) Emit(ctx context.Context, target, templateKey, eventKey string, payload map[string]string) error {
	if err := s.next.Emit(ctx, target, templateKey, eventKey, payload); err != nil {
		return err
	}
	if s.count != nil {
		s.count(templateKey)
	}
	return nil
}
