package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/ai"
)

type fakeProvider struct {
	chunks []string
	err    error
	// hang keeps the stream open after the chunks until ctx is cancelled
	hang bool

	mu        sync.Mutex
	requests  []ai.StreamRequest
	cancelled chan struct{}
}

func newFakeProvider(chunks ...string) *fakeProvider {
	return &fakeProvider{chunks: chunks, cancelled: make(chan struct{})}
}

func (p *fakeProvider) StreamChat(ctx context.Context, req ai.StreamRequest) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		for _, c := range p.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				close(p.cancelled)
				errs <- ctx.Err()
				return
			}
		}
		if p.hang {
			<-ctx.Done()
			close(p.cancelled)
			errs <- ctx.Err()
			return
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return out, errs
}

func (p *fakeProvider) lastRequest() ai.StreamRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type fakeQueue struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (q *fakeQueue) Submit(rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, rec)
	return nil
}

func (q *fakeQueue) submitted() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Record(nil), q.records...)
}

func newTestRelay(p ai.Provider, store ConversationStore, q Submitter, buffer int) *Relay {
	return NewRelay(store, NewStreamClient(p, "gpt-4o-mini"), q, 512, buffer)
}

func collect(t *testing.T, frags <-chan string, done <-chan Result) ([]string, Result) {
	t.Helper()
	var got []string
	for f := range frags {
		got = append(got, f)
	}
	select {
	case res := <-done:
		return got, res
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish")
		return nil, Result{}
	}
}

func streamAll(t *testing.T, ctx context.Context, relay *Relay, id ConversationID, prompt string) ([]string, Result) {
	t.Helper()
	frags, done := relay.Stream(ctx, id, prompt)
	return collect(t, frags, done)
}

func TestRelay_StreamsFragmentsAndRecordsTurn(t *testing.T) {
	p := newFakeProvider("Hel", "lo")
	store := NewMemoryStore(5, 0)
	q := &fakeQueue{}
	relay := newTestRelay(p, store, q, 0)
	id := newID()

	got, res := streamAll(t, context.Background(), relay, id, "Hi")

	require.Equal(t, []string{"Hel", "lo"}, got)
	require.NoError(t, res.Err)
	require.NoError(t, res.SubmitErr)
	require.NotNil(t, res.Record)
	require.Equal(t, "Hi", res.Record.Prompt)
	require.Equal(t, "Hello", res.Record.Response)
	require.False(t, res.Record.Errored)
	require.NotEmpty(t, res.Record.TurnID)
	require.Equal(t, id, res.Record.ConversationID())

	latest, ok := store.Latest(id)
	require.True(t, ok)
	require.Equal(t, *res.Record, latest)
	require.Equal(t, []Record{*res.Record}, q.submitted())

	req := p.lastRequest()
	require.Equal(t, 512, req.MaxTokens)
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Equal(t, []ai.Message{{Role: ai.RoleUser, Content: "Hi"}}, req.Messages)
}

func TestRelay_SendsWindowAsContext(t *testing.T) {
	p := newFakeProvider("ok")
	store := NewMemoryStore(5, 0)
	relay := newTestRelay(p, store, &fakeQueue{}, 0)
	id := newID()

	_, res := streamAll(t, context.Background(), relay, id, "first")
	require.NoError(t, res.Err)
	_, res = streamAll(t, context.Background(), relay, id, "second")
	require.NoError(t, res.Err)

	req := p.lastRequest()
	require.Equal(t, []ai.Message{
		{Role: ai.RoleSystem, Content: "Conversation so far:\nUser: first\nAssistant: ok"},
		{Role: ai.RoleUser, Content: "second"},
	}, req.Messages)
}

func TestRelay_MidStreamErrorBecomesFragment(t *testing.T) {
	p := newFakeProvider("par", "tial")
	p.err = errors.New("connection reset")
	q := &fakeQueue{}
	store := NewMemoryStore(5, 0)
	relay := newTestRelay(p, store, q, 0)
	id := newID()

	got, res := streamAll(t, context.Background(), relay, id, "Hi")

	require.Equal(t, []string{"par", "tial", "error: connection reset"}, got)
	var perr *ProviderError
	require.ErrorAs(t, res.Err, &perr)
	require.Equal(t, ErrorKindMidStream, perr.Kind)
	require.NotNil(t, res.Record)
	require.True(t, res.Record.Errored)
	require.Equal(t, "partialerror: connection reset", res.Record.Response)
	require.Len(t, q.submitted(), 1)

	latest, ok := store.Latest(id)
	require.True(t, ok)
	require.True(t, latest.Errored)
}

func TestRelay_TransportErrorIsSingleFragment(t *testing.T) {
	p := newFakeProvider()
	p.err = errors.New("openai: invalid api key")
	q := &fakeQueue{}
	relay := newTestRelay(p, NewMemoryStore(5, 0), q, 0)

	got, res := streamAll(t, context.Background(), relay, newID(), "Hi")

	require.Equal(t, []string{"error: openai: invalid api key"}, got)
	var perr *ProviderError
	require.ErrorAs(t, res.Err, &perr)
	require.Equal(t, ErrorKindTransport, perr.Kind)
	require.Equal(t, "error: openai: invalid api key", res.Record.Response)
	require.Len(t, q.submitted(), 1)
}

func TestRelay_ClientDisconnectCancelsUpstreamAndDiscards(t *testing.T) {
	p := newFakeProvider("a")
	p.hang = true
	store := NewMemoryStore(5, 0)
	q := &fakeQueue{}
	relay := newTestRelay(p, store, q, 0)
	id := newID()

	ctx, cancel := context.WithCancel(context.Background())
	frags, done := relay.Stream(ctx, id, "Hi")
	require.Equal(t, "a", <-frags)
	cancel()

	select {
	case <-p.cancelled:
	case <-time.After(time.Second):
		t.Fatal("upstream call was not cancelled")
	}

	_, res := collect(t, frags, done)
	require.ErrorIs(t, res.Err, ErrClientGone)
	require.Nil(t, res.Record)

	_, ok := store.Latest(id)
	require.False(t, ok)
	require.Empty(t, q.submitted())
}

func TestRelay_StalledClientAppliesBackpressureThenDisconnects(t *testing.T) {
	chunks := make([]string, 20)
	for i := range chunks {
		chunks[i] = fmt.Sprint(i)
	}
	p := newFakeProvider(chunks...)
	q := &fakeQueue{}
	relay := newTestRelay(p, NewMemoryStore(5, 0), q, 2)

	ctx, cancel := context.WithCancel(context.Background())
	frags, done := relay.Stream(ctx, newID(), "Hi")

	// nobody reads: the relay must stall rather than finish
	select {
	case <-done:
		t.Fatal("relay completed while the client was not reading")
	case <-time.After(50 * time.Millisecond):
	}
	require.Len(t, frags, 2)

	cancel()
	select {
	case res := <-done:
		require.ErrorIs(t, res.Err, ErrClientGone)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after disconnect")
	}
	require.Empty(t, q.submitted())
}

func TestRelay_PreservesOrderWithSmallBuffer(t *testing.T) {
	chunks := make([]string, 200)
	want := ""
	for i := range chunks {
		chunks[i] = fmt.Sprintf("<%d>", i)
		want += chunks[i]
	}
	p := newFakeProvider(chunks...)
	relay := newTestRelay(p, NewMemoryStore(5, 0), &fakeQueue{}, 1)

	frags, done := relay.Stream(context.Background(), newID(), "count")
	var got []string
	for f := range frags {
		got = append(got, f)
		if len(got)%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	res := <-done

	require.Equal(t, chunks, got)
	require.NoError(t, res.Err)
	require.Equal(t, want, res.Record.Response)
}

func TestRelay_QueueFullStillUpdatesStore(t *testing.T) {
	full := errors.New("queue full")
	q := &fakeQueue{err: full}
	store := NewMemoryStore(5, 0)
	relay := newTestRelay(newFakeProvider("x"), store, q, 0)
	id := newID()

	got, res := streamAll(t, context.Background(), relay, id, "Hi")

	require.Equal(t, []string{"x"}, got)
	require.NoError(t, res.Err)
	require.ErrorIs(t, res.SubmitErr, full)
	_, ok := store.Latest(id)
	require.True(t, ok)
}

func TestRelay_ConcurrentRequestsSameConversation(t *testing.T) {
	store := NewMemoryStore(100, 0)
	q := &fakeQueue{}
	relay := newTestRelay(newFakeProvider("r"), store, q, 0)
	id := newID()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, res := streamAll(t, context.Background(), relay, id, fmt.Sprint(i))
			require.NoError(t, res.Err)
		}(i)
	}
	wg.Wait()

	snap, err := store.GetOrCreate(id)
	require.NoError(t, err)
	require.Len(t, q.submitted(), 10)
	require.Contains(t, snap.Context, snap.Record.MemoryEntry())
}

func TestRelay_TurnCompletesWhenUpstreamEndsEvenIfTailUnread(t *testing.T) {
	p := newFakeProvider("a", "b", "c")
	store := NewMemoryStore(5, 0)
	q := &fakeQueue{}
	relay := newTestRelay(p, store, q, 10)
	id := newID()

	ctx, cancel := context.WithCancel(context.Background())
	frags, done := relay.Stream(ctx, id, "Hi")

	// everything fits in the buffer, so the relay finishes without a reader
	var res Result
	select {
	case res = <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not finish")
	}
	require.Equal(t, "a", <-frags)
	cancel()

	require.NoError(t, res.Err)
	require.Equal(t, "abc", res.Record.Response)
	_, ok := store.Latest(id)
	require.True(t, ok)
	require.Len(t, q.submitted(), 1)
}
