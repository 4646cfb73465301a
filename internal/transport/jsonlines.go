// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// JSONLinesReader parses a stream of newline-delimited JSON objects, the
// framing used by Ollama's generate and chat endpoints.
type JSONLinesReader struct {
	reader *bufio.Reader
}

// NewJSONLinesReader creates a new reader from an io.Reader.
func NewJSONLinesReader(r io.Reader) *JSONLinesReader {
	return &JSONLinesReader{
		reader: bufio.NewReader(r),
	}
}

// Next returns the raw bytes of the next complete JSON object.
//
// Empty lines and lines that fail to parse as JSON are skipped. Returns
// io.EOF when the stream ends; a final line that arrived without a trailing
// newline is still decoded, since EOF is an unambiguous frame boundary.
func (j *JSONLinesReader) Next() (json.RawMessage, error) {
	for {
		line, err := j.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		atEOF := err == io.EOF

		line = bytes.TrimSpace(line)
		if len(line) > 0 && json.Valid(line) {
			return json.RawMessage(line), nil
		}
		// Malformed or empty line: skip, never fatal.

		if atEOF {
			return nil, io.EOF
		}
	}
}
