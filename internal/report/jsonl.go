package report

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"mxversions/internal/federation"
)

// ProbeLine is the JSON form of one domain's result.
type ProbeLine struct {
	Domain    string            `json:"domain"`
	Authority string            `json:"authority"`
	Host      string            `json:"host,omitempty"`
	Method    federation.Method `json:"method"`
	Version   string            `json:"version,omitempty"`
	ElapsedMs uint32            `json:"elapsed_ms"`
	Error     string            `json:"error,omitempty"`
}

func NewProbeLine(r federation.Result) ProbeLine {
	pl := ProbeLine{
		Domain:    r.Domain,
		Authority: r.Resolution.Authority,
		Host:      r.Resolution.Host,
		Method:    r.Resolution.Method,
		Version:   r.Version,
		ElapsedMs: uint32(r.Elapsed.Milliseconds()),
	}
	if r.Err != nil {
		pl.Error = r.Err.Error()
	}
	return pl
}

// JSONL encodes lines to an underlying writer, one object per line. It is
// not safe for concurrent use.
type JSONL struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func NewJSONL(w io.Writer) *JSONL {
	bw := bufio.NewWriterSize(w, 1<<20)
	return &JSONL{bw: bw, enc: json.NewEncoder(bw)}
}

func (j *JSONL) Encode(v interface{}) error {
	return j.enc.Encode(v)
}

func (j *JSONL) Flush() error {
	return j.bw.Flush()
}

// WriteResults writes every result as a ProbeLine and flushes.
func WriteResults(w io.Writer, results []federation.Result) error {
	j := NewJSONL(w)
	for _, r := range results {
		if err := j.Encode(NewProbeLine(r)); err != nil {
			return errors.Wrap(err, "encode result")
		}
	}
	return errors.Wrap(j.Flush(), "flush results")
}
