package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quay/cvssd/cvss"
)

func newScoreCmd() *cobra.Command {
	var (
		metrics map[string]string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "score [VECTOR]",
		Short: "Compute a base score",
		Long: `Compute a base score from a vector string, or from metric selections
given as "-m AV=N -m AC=L ...".`,
		Example: `  cvssd score CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H
  cvssd score -m AV=N,AC=L,PR=N,UI=N,S=U,C=H,I=H,A=H --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				r   cvss.Result
				err error
			)
			switch {
			case len(args) == 1 && len(metrics) != 0:
				return errors.New("score: use a vector or metric flags, not both")
			case len(args) == 1:
				var m cvss.Metrics
				if m, err = cvss.Parse(args[0]); err == nil {
					r, err = cvss.Score(m)
				}
			case len(metrics) != 0:
				r, err = cvss.Evaluate(metrics)
			default:
				return errors.New("score: a vector or metric flags are required")
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(r)
			}
			_, err = fmt.Fprintf(out, "Base Score: %.1f\nSeverity:   %v\nVector:     %s\n",
				r.BaseScore, r.Severity, r.Vector)
			return err
		},
	}
	f := cmd.Flags()
	f.StringToStringVarP(&metrics, "metric", "m", nil, "metric selection as ABBR=VALUE (repeatable)")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
