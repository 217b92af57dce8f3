package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/extract"
)

func newExtractCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "extract FILE...",
		Short: "Guess metrics from documents",
		Long: `Guess metrics from documents. Arguments may be glob patterns, including
"**" to match any number of directories.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := a.extractor()
			if err != nil {
				return err
			}
			files, err := expandGlobs(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for i, p := range files {
				f, err := extractFile(cmd, x, p)
				if err != nil {
					return err
				}
				if asJSON {
					if err := enc.Encode(f); err != nil {
						return err
					}
					continue
				}
				if i != 0 {
					fmt.Fprintln(out)
				}
				if err := printFindings(out, f); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per file")
	return cmd
}

// ExpandGlobs expands each pattern. A pattern without metacharacters that
// names no file is an error; one with metacharacters may match nothing.
func expandGlobs(pats []string) ([]string, error) {
	var out []string
	for _, pat := range pats {
		ms, err := doublestar.FilepathGlob(pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("extract: %q: %w", pat, err)
		}
		if len(ms) == 0 && !hasMeta(pat) {
			if _, err := os.Stat(pat); err != nil {
				return nil, fmt.Errorf("extract: %w", err)
			}
			return nil, fmt.Errorf("extract: %s: not a regular file", pat)
		}
		out = append(out, ms...)
	}
	return out, nil
}

// HasMeta reports whether "pat" contains glob syntax.
func hasMeta(pat string) bool {
	return strings.ContainsAny(pat, `*?[{\`)
}

func extractFile(cmd *cobra.Command, x *extract.Extractor, p string) (*extract.Findings, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	defer f.Close()
	fs, err := x.Document(cmd.Context(), filepath.Base(p), f)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", p, err)
	}
	return fs, nil
}

func printFindings(w io.Writer, f *extract.Findings) error {
	fmt.Fprintf(w, "File:   %s\n", f.Filename)
	fmt.Fprintf(w, "Title:  %s\n", f.Title)
	if f.CVEID != "" {
		fmt.Fprintf(w, "CVE:    %s\n", f.CVEID)
	}
	if f.Vector != "" {
		fmt.Fprintf(w, "Vector: %s\n", f.Vector)
	}
	for _, m := range cvss.AllMetrics() {
		v, ok := f.Metrics[m.String()]
		if !ok {
			fmt.Fprintf(w, "  %-2s  -\n", m)
			continue
		}
		fmt.Fprintf(w, "  %-2s  %s (%s)\n", m, v, m.ValueName(v))
	}
	if !f.Complete() {
		_, err := fmt.Fprintln(w, "Incomplete: select the missing metrics by hand.")
		return err
	}
	r, err := cvss.Evaluate(f.Metrics)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Score:  %.1f (%v)\n", r.BaseScore, r.Severity)
	return err
}
