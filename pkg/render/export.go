package render

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatMarkdown, FormatJSON, FormatYAML:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "":
		return FormatText, nil
	default:
		return "", errors.Errorf("unknown output format %q", s)
	}
}

// Export writes snap to w. Text output goes through the markdown renderer when
// styled is set.
func Export(w io.Writer, snap transcript.Snapshot, format Format, styled bool, width int) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(snap), "encode transcript as json")

	case FormatYAML:
		// Round-trip through JSON so raw coordinates come out as nested lists.
		b, err := json.Marshal(snap)
		if err != nil {
			return errors.Wrap(err, "encode transcript")
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return errors.Wrap(err, "decode transcript")
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return errors.Wrap(err, "encode transcript as yaml")
		}
		return errors.Wrap(enc.Close(), "flush yaml")

	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(snap))
		return err

	case FormatText, "":
		md := Markdown(snap)
		if !styled {
			_, err := io.WriteString(w, md)
			return err
		}
		out, err := Styled(md, width)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err

	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
