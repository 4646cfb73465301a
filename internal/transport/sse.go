// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bufio"
	"bytes"
	"io"
)

// DoneSentinel is the literal SSE payload that marks end-of-stream.
const DoneSentinel = "[DONE]"

// SSEReader parses Server-Sent Events from a byte stream.
//
// Only "data:" fields are surfaced; "event:", "id:", "retry:" fields and
// comment lines (leading ':') are ignored. Reads are line-buffered, so a
// frame split across network reads is reassembled before it is returned.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// Next returns the payload of the next "data:" line.
//
// Returns io.EOF when the stream ends. A trailing line not terminated by a
// newline is never returned as a frame: the decoder cannot know whether the
// upstream had more bytes to send for it.
func (s *SSEReader) Next() (string, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}

		if payload, ok := dataPayload(line); ok {
			return payload, nil
		}
		// Ignore other fields and comments.
	}
}

// IsDone reports whether payload is the end-of-stream sentinel.
func IsDone(payload string) bool {
	return payload == DoneSentinel
}

// dataPayload extracts the payload from a "data:" line. The space after the
// colon is optional per the SSE specification.
func dataPayload(line []byte) (string, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return "", false
	}
	payload := line[len("data:"):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	return string(payload), true
}
