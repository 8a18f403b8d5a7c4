package shell

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// printer writes results in the configured output format.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) printer {
	return printer{format: format, w: w}
}

// print writes v. A nil result prints nothing and a plain string, such as
// an echoed identifier, prints as a bare line.
func (p printer) print(v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(p.w, x)
		return err
	}

	if p.format == "yaml" {
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("output: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
