package source

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
)

// File reads one domain per line; "-" is stdin.
type File struct {
	Path string
}

func (f File) Name() string { return "file:" + f.Path }

func (f File) Domains(ctx context.Context) ([]string, error) {
	var r io.Reader = os.Stdin
	if f.Path != "-" {
		fh, err := os.Open(f.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open domain file")
		}
		defer fh.Close()
		r = fh
	}
	return readLines(ctx, r)
}

func readLines(ctx context.Context, r io.Reader) ([]string, error) {
	c := &collector{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read domains")
	}
	return c.domains, nil
}
