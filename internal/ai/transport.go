package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxLineBytes = 2 * 1024 * 1024

// decodeFunc extracts content from one line of a streamed response body.
// A true done ends the stream without error.
type decodeFunc func(line []byte) (content string, done bool, err error)

// streamCall is one streaming POST whose body is read line by line.
type streamCall struct {
	provider string
	client   *http.Client
	url      string
	payload  any
	header   http.Header
	decode   decodeFunc
}

// start runs the call in its own goroutine. chunks is closed before errs;
// errs carries at most one error.
func (c streamCall) start(ctx context.Context) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)
		if err := c.run(ctx, chunks); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (c streamCall) run(ctx context.Context, chunks chan<- string) error {
	if c.client == nil {
		return fmt.Errorf("%s: http client is nil", c.provider)
	}
	b, err := json.Marshal(c.payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header = c.header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("%s: %s", c.provider, msg)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		content, done, err := c.decode(line)
		if err != nil {
			return err
		}
		if content != "" {
			select {
			case chunks <- content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if done {
			return nil
		}
	}
	return sc.Err()
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
