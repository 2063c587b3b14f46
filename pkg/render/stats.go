package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/weaviate/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

type Stats struct {
	Tokens int
	Lines  int
	Bytes  int
}

// ComputeStats counts lines and bytes of content, and tokens with the
// cl100k_base encoding. Lines and bytes are filled even when the encoding
// cannot be loaded.
func ComputeStats(content string) (Stats, error) {
	s := Stats{
		Lines: strings.Count(content, "\n") + 1,
		Bytes: len(content),
	}
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return s, errors.Wrap(err, "load token encoding")
	}
	s.Tokens = len(enc.Encode(content, nil, nil))
	return s, nil
}

func PrintStats(w io.Writer, s Stats) {
	_, _ = fmt.Fprintf(w, "Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Tokens: %d\n", s.Tokens)
	_, _ = fmt.Fprintf(w, "  Lines:  %d\n", s.Lines)
	_, _ = fmt.Fprintf(w, "  Size:   %d bytes\n", s.Bytes)
}
