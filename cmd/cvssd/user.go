package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quay/cvssd/auth"
)

// PasswordEnv names the environment variable consulted before reading a
// password from standard input.
const passwordEnv = envPrefix + `_PASSWORD`

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	var email, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Long: `Create an account. The password is taken from $` + passwordEnv + ` if set,
otherwise from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, ok := os.LookupEnv(passwordEnv)
			if !ok {
				var err error
				if pw, err = readLine(cmd); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			s, err := a.openStore(ctx, a.cfg.DB.Migrations)
			if err != nil {
				return err
			}
			defer closeLogged(ctx, "store", s)
			u, err := auth.New(s, nil).Register(ctx, email, pw, name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s>\n", u.ID, u.Email)
			return err
		},
	}
	f := add.Flags()
	f.StringVar(&email, "email", "", "account email")
	f.StringVar(&name, "name", "", "full name")
	add.MarkFlagRequired("email")
	add.MarkFlagRequired("name")
	cmd.AddCommand(add)
	return cmd
}

func readLine(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	sc := bufio.NewScanner(cmd.InOrStdin())
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return "", errors.New("reading password: no input")
	}
	fmt.Fprintln(cmd.ErrOrStderr())
	return strings.TrimRight(sc.Text(), "\r"), nil
}
