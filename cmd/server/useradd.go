package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rhuss/todoapi/pkg/config"
	"github.com/rhuss/todoapi/pkg/storage"
	"github.com/rhuss/todoapi/pkg/users"
)

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

// isTerminal reports whether fd is a TTY.
var isTerminal = term.IsTerminal

type userAddOptions struct {
	username      string
	passwordStdin bool
}

func newUserAddCommand(root *rootOptions) *cobra.Command {
	opts := &userAddOptions{}

	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Create a user in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := requirePersistentStore(cfg.Storage); err != nil {
				return err
			}

			password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), opts.passwordStdin)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := addUser(cmd.Context(), store, opts.username, password); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "user %q created\n", opts.username)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.username, "username", "", "username to create (required)")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.MarkFlagRequired("username")

	return cmd
}

// errMemoryStore is returned by useradd when the configured store does not
// outlive the process.
var errMemoryStore = errors.New(`useradd needs a persistent store: set storage.type to "postgres" or "sqlite", or list the user under auth.users to seed it at startup`)

func requirePersistentStore(cfg config.StorageConfig) error {
	if cfg.Type == "memory" || cfg.Type == "" {
		return errMemoryStore
	}
	return nil
}

// addUser hashes password and stores a new user. An existing username is
// reported as an error rather than overwritten.
func addUser(ctx context.Context, dir users.Directory, username, password string) error {
	u, err := users.New(username, password)
	if err != nil {
		return err
	}
	if err := dir.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("user %q already exists", username)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// promptPassword reads the password from in. With fromStdin, or when in
// is not a terminal, the first line is used as is; otherwise the user is
// prompted twice without echo.
func promptPassword(in io.Reader, w io.Writer, fromStdin bool) (string, error) {
	f, ok := in.(*os.File)
	if fromStdin || !ok || !isTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(w, "Password: ")
	first, err := readPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
