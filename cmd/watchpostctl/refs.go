package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/watchpost/internal/records/httplookup"
	"github.com/linnemanlabs/watchpost/internal/refs"
)

type refsOptions struct {
	text        string
	lookupURL   string
	lookupToken string
	timeout     time.Duration
	concurrency int
}

func newRefsCmd() *cobra.Command {
	var o refsOptions
	cmd := &cobra.Command{
		Use:   "refs [file]",
		Short: "Extract lost and found record references from text",
		Long: `Extract record references from narrative text and print them as JSON.

Text comes from --text, the named file, or stdin. With --lookup-url every
reference is also resolved against the records service.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, o.text, args)
			if err != nil {
				return err
			}
			var out any
			if o.lookupURL == "" {
				out = refs.Extract(text)
			} else {
				lookup := httplookup.New(o.lookupURL, o.lookupToken)
				out = refs.NewResolver(lookup, o.timeout, o.concurrency, nil, refs.Hooks{}).Resolve(cmd.Context(), text)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&o.text, "text", "", "Text to scan instead of a file or stdin")
	cmd.Flags().StringVar(&o.lookupURL, "lookup-url", os.Getenv("WATCHPOST_RECORD_LOOKUP_URL"), "Records service base URL")
	cmd.Flags().StringVar(&o.lookupToken, "lookup-token", os.Getenv("WATCHPOST_RECORD_LOOKUP_TOKEN"), "Bearer token for the records service")
	cmd.Flags().DurationVar(&o.timeout, "timeout", refs.DefaultLookupTimeout, "Timeout for one record lookup")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", refs.DefaultLookupConcurrency, "Concurrent record lookups")
	return cmd
}

func readText(cmd *cobra.Command, text string, args []string) (string, error) {
	if text != "" {
		return text, nil
	}
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
