package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

// ErrorFragmentPrefix marks the fragment that carries an upstream error.
const ErrorFragmentPrefix = "error: "

const DefaultStreamBuffer = 100

// ErrClientGone reports that the caller went away mid-stream. Nothing is
// recorded for such a request.
var ErrClientGone = errors.New("chat: client disconnected")

type ErrorKind string

const (
	// ErrorKindTransport: the stream failed before any fragment arrived.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindMidStream: the stream failed after partial output.
	ErrorKindMidStream ErrorKind = "mid_stream"
)

type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string { return "provider " + string(e.Kind) + " error: " + e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

// Submitter hands finished records to asynchronous persistence. Submit must
// not block.
type Submitter interface {
	Submit(rec Record) error
}

// Result is the outcome of one relayed request.
type Result struct {
	// Record is the completed turn; nil when the request was discarded.
	Record *Record
	// Err is a *ProviderError, ErrClientGone, or a store failure.
	Err error
	// SubmitErr is set when the record could not be queued for persistence.
	SubmitErr error
}

// Relay runs one streaming request end to end: it reads the conversation
// context, streams the provider's fragments to the caller while accumulating
// them, then records the turn in the store and queues it for persistence.
type Relay struct {
	store     ConversationStore
	streamer  Streamer
	queue     Submitter
	maxTokens int
	buffer    int

	now   func() time.Time
	newID func() (string, error)
}

func NewRelay(store ConversationStore, streamer Streamer, queue Submitter, maxTokens, buffer int) *Relay {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Relay{
		store:     store,
		streamer:  streamer,
		queue:     queue,
		maxTokens: maxTokens,
		buffer:    buffer,
		now:       time.Now,
		newID:     common.NewULID,
	}
}

// Stream starts relaying prompt for id. Fragments arrive on the first channel
// in provider order; it is closed when the request is over, after which the
// second channel yields exactly one Result. Cancelling ctx (client
// disconnect) cancels the upstream call and discards the partial turn.
//
// The fragment channel is bounded. A caller that stops reading pauses the
// upstream read instead of losing fragments.
func (r *Relay) Stream(ctx context.Context, id ConversationID, prompt string) (<-chan string, <-chan Result) {
	out := make(chan string, r.buffer)
	done := make(chan Result, 1)

	go func() {
		res := r.run(ctx, id, prompt, out)
		close(out)
		done <- res
		close(done)
	}()

	return out, done
}

func (r *Relay) run(ctx context.Context, id ConversationID, prompt string, out chan<- string) Result {
	logger := log.With().
		Str("component", "relay").
		Str("user_id", id.UserID.String()).
		Str("chat_id", id.ChatID.String()).
		Logger()

	snap, err := r.store.GetOrCreate(id)
	if err != nil {
		logger.Error().Err(err).Msg("load conversation failed")
		return Result{Err: errors.Wrap(err, "load conversation")}
	}

	upstreamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := r.now()
	chunks, errs := r.streamer.Stream(upstreamCtx, snap.Context, prompt, r.maxTokens)

	var b strings.Builder
	received := 0
	forward := func(frag string) bool {
		select {
		case out <- frag:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for c := range chunks {
		b.WriteString(c)
		received++
		if !forward(c) {
			return r.discard(logger, received)
		}
	}
	upErr := <-errs
	if ctx.Err() != nil {
		return r.discard(logger, received)
	}

	var perr *ProviderError
	if upErr != nil {
		kind := ErrorKindTransport
		if received > 0 {
			kind = ErrorKindMidStream
		}
		perr = &ProviderError{Kind: kind, Err: upErr}
		logger.Warn().Err(upErr).Str("kind", string(kind)).Int("fragments", received).Msg("provider stream failed")

		frag := ErrorFragmentPrefix + upErr.Error()
		b.WriteString(frag)
		if !forward(frag) {
			return r.discard(logger, received)
		}
	}

	turnID, err := r.newID()
	if err != nil {
		logger.Error().Err(err).Msg("allocate turn id failed")
		return Result{Err: errors.Wrap(err, "allocate turn id")}
	}
	now := r.now()
	rec := Record{
		UserID:    id.UserID,
		ChatID:    id.ChatID,
		TurnID:    turnID,
		Prompt:    prompt,
		Response:  b.String(),
		Errored:   perr != nil,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.Update(id, rec); err != nil {
		logger.Error().Err(err).Str("turn_id", turnID).Msg("update conversation failed")
		return Result{Record: &rec, Err: errors.Wrap(err, "update conversation")}
	}

	res := Result{Record: &rec}
	if perr != nil {
		res.Err = perr
	}
	if err := r.queue.Submit(rec); err != nil {
		logger.Warn().Err(err).Str("turn_id", turnID).Msg("record not queued for persistence")
		res.SubmitErr = err
	}

	logger.Debug().
		Str("turn_id", turnID).
		Int("fragments", received).
		Int("response_bytes", len(rec.Response)).
		Dur("elapsed", r.now().Sub(start)).
		Msg("turn completed")
	return res
}

func (r *Relay) discard(logger zerolog.Logger, received int) Result {
	logger.Info().Int("fragments", received).Msg("client disconnected, turn discarded")
	return Result{Err: ErrClientGone}
}
