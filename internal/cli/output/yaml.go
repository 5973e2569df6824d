// Package output provides output formatting for diaryx-relay-cli.
package output

import "io"

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

// Format writes nothing and returns nil: YAML encoding is not
// implemented, so the output is empty.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	return nil
}
