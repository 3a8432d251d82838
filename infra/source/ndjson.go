package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cardgrid/cardgrid/core/query"
	"github.com/cardgrid/cardgrid/core/spec"
)

// NDJSONOpener opens long-lived HTTP responses carrying delimited JSON
// records, one per frame. The server keeps the connection open until the
// engine closes it.
type NDJSONOpener struct {
	client *http.Client
}

// NewNDJSONOpener creates an opener using the given client. The client must
// not set an overall timeout or it would cut the stream short.
func NewNDJSONOpener(client *http.Client) *NDJSONOpener {
	return &NDJSONOpener{client: client}
}

// Open issues the request and returns the live record stream.
func (o *NDJSONOpener) Open(ctx context.Context, req query.Request) (query.Stream, error) {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}

	delim := byte('\n')
	if req.Query.StreamDelimiter != "" {
		delim = req.Query.StreamDelimiter[0]
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	scanner.Split(splitOn(delim))
	return &ndjsonStream{body: resp.Body, scanner: scanner}, nil
}

type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv returns the next decoded record. Empty frames are skipped; a frame
// that fails to parse yields query.ErrMalformedFrame. The request context
// aborts the underlying body read, surfacing as a scan error.
func (s *ndjsonStream) Recv(ctx context.Context) (any, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		frame := bytes.TrimSpace(s.scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		var rec any
		if err := json.Unmarshal(frame, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", query.ErrMalformedFrame, err)
		}
		return unwrapEnvelope(frame, rec), nil
	}
}

func (s *ndjsonStream) Close() error { return s.body.Close() }

// unwrapEnvelope extracts the payload when the frame matches the card
// endpoint envelope {kind, report_id, card_id, data}. Bare records pass
// through untouched.
func unwrapEnvelope(frame []byte, rec any) any {
	var env spec.Record
	if err := json.Unmarshal(frame, &env); err != nil {
		return rec
	}
	if env.CardID == "" || env.Data == nil {
		return rec
	}
	return env.Data
}

// splitOn returns a bufio split function for a single-byte frame delimiter.
func splitOn(delim byte) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexByte(data, delim); i >= 0 {
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}
