package sot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxBatch caps the number of envelopes accepted in one ingest request.
const MaxBatch = 500

// BatchItem is one decoded entry of a batch body. Err is set when the
// entry could not be decoded as an envelope.
type BatchItem struct {
	Index    int
	Envelope Envelope
	Err      error
}

// ParseBatch reads either a JSON array of envelopes or newline-delimited
// JSON. Blank lines are ignored. A malformed entry is reported on its item
// and does not stop the rest of the batch.
func ParseBatch(body []byte) ([]BatchItem, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			raws = append(raws, json.RawMessage(append([]byte(nil), line...)))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read NDJSON: %w", err)
		}
	}

	if len(raws) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(raws) > MaxBatch {
		return nil, fmt.Errorf("batch has %d envelopes, limit is %d", len(raws), MaxBatch)
	}

	items := make([]BatchItem, len(raws))
	for i, raw := range raws {
		items[i].Index = i
		if err := json.Unmarshal(raw, &items[i].Envelope); err != nil {
			items[i].Err = fmt.Errorf("decode envelope: %w", err)
		}
	}
	return items, nil
}
