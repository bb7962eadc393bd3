package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// emit writes payload as indented JSON, or calls text for the text format.
func emit(cmd *cobra.Command, opts *RootOptions, payload any, text func(io.Writer) error) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(payload); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return nil
	}
	return text(out)
}
