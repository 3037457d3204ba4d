package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

const jsonlName = "jsonl"

// JSONL appends one JSON object per record to a file, or to stdout when the
// path is "-".
type JSONL struct {
	mu   sync.Mutex
	path string
	out  io.Writer
}

// NewJSONL creates the connector. The file is opened on every push so the
// connector holds no descriptor between batches.
func NewJSONL(path string) *JSONL {
	if path == "" {
		path = "-"
	}
	return &JSONL{path: path}
}

// NewJSONLWriter creates a connector writing to w.
func NewJSONLWriter(w io.Writer) *JSONL {
	return &JSONL{out: w}
}

func (j *JSONL) Name() string { return jsonlName }

func (j *JSONL) Push(ctx context.Context, records []Record) error {
	const op = "Push"

	if err := ctx.Err(); err != nil {
		return &PushError{Connector: jsonlName, Op: op, Err: err}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	w := j.out
	if w == nil {
		if j.path == "-" {
			w = os.Stdout
		} else {
			f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return &PushError{Connector: jsonlName, Op: op, Err: fmt.Errorf("open %s: %w", j.path, err)}
			}
			defer f.Close()
			w = f
		}
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return &PushError{Connector: jsonlName, Op: op, Err: err}
		}
	}
	return nil
}
