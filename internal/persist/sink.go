package persist

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

// Sink durably stores a record. Only the queue consumer calls it.
type Sink interface {
	Write(ctx context.Context, rec chat.Record) error
}

type SinkFunc func(ctx context.Context, rec chat.Record) error

func (f SinkFunc) Write(ctx context.Context, rec chat.Record) error { return f(ctx, rec) }

// Multi writes to every sink in order and joins their errors. A failing sink
// does not stop the others.
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return SinkFunc(func(ctx context.Context, rec chat.Record) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Write(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// LogSink only logs what it is given.
var LogSink = SinkFunc(func(ctx context.Context, rec chat.Record) error {
	log.Info().
		Str("component", "persist").
		Str("user_id", rec.UserID.String()).
		Str("chat_id", rec.ChatID.String()).
		Str("turn_id", rec.TurnID).
		Bool("errored", rec.Errored).
		Int("prompt_bytes", len(rec.Prompt)).
		Int("response_bytes", len(rec.Response)).
		Msg("record consumed")
	return nil
})
