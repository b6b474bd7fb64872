package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bluejorts/bluesky-archiver/pkg/auth"
	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	"github.com/bluejorts/bluesky-archiver/pkg/config"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/ui"
)

var (
	showGuide bool
	noVerify  bool
	logoutAll bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored app passwords",
	Long: `Manage Bluesky app passwords stored for the archiver.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (BSKY_ARCHIVER_HANDLE, BLUESKY_APP_PASSWORD)

Use an app password, never your account password.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [handle]",
	Short: "Store an app password",
	Example: `  # Interactive login
  bsky-archiver auth login

  # Show how to create an app password first
  bsky-archiver auth login alice.bsky.social --guide`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [handle]",
	Short: "Remove a stored app password",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().BoolVar(&showGuide, "guide", false, "explain how to create an app password")
	loginCmd.Flags().BoolVar(&noVerify, "no-verify", false, "store without test-logging in")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(os.Stdin)

	if showGuide {
		auth.ShowAppPasswordGuide(out)
	} else {
		auth.ShowQuickGuide(out)
	}

	var handle string
	if len(args) > 0 {
		handle = args[0]
	} else {
		fmt.Fprint(out, "Bluesky handle: ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return fmt.Errorf("failed to read handle: %w", err)
		}
		handle = input
	}
	handle, err = bluesky.ParseActor(handle)
	if err != nil {
		return err
	}

	if existing, _ := manager.Retrieve(handle); existing != nil {
		fmt.Fprintf(out, "Account '%s' already exists. Replace its app password? (y/N): ", handle)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Fprint(out, "App password (hidden): ")
	password, err := readPassword(reader, out)
	if err != nil {
		return fmt.Errorf("failed to read app password: %w", err)
	}
	if err := auth.ValidateAppPassword(password); err != nil {
		return err
	}

	account := &auth.Account{AppPassword: password}
	if bluesky.IsDID(handle) {
		account.DID = handle
	} else {
		account.Handle = handle
	}

	if !noVerify {
		if err := verifyAccount(cmd.Context(), account); err != nil {
			return fmt.Errorf("login check failed: %w", err)
		}
		ui.PrintSuccess("Login check passed")
	}

	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	ui.PrintSuccess("Account saved: " + account.Identifier())
	fmt.Fprintln(out, "\nArchive your likes with:")
	fmt.Fprintf(out, "  bsky-archiver archive -u %s\n", account.Identifier())
	return nil
}

// verifyAccount logs in once with the configured service URL and records
// the DID and current handle the PDS reports
func verifyAccount(ctx context.Context, account *auth.Account) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configFile, globalFlags(nil))
	if err != nil {
		cfg = config.DefaultConfig()
	}
	account.ServiceURL = cfg.Bluesky.ServiceURL

	client := bluesky.NewClient(cfg.Bluesky.ServiceURL, cfg.Bluesky.RequestTimeout, logger.NewNopLogger())
	session, err := client.Login(ctx, account.Identifier(), account.AppPassword)
	if err != nil {
		return err
	}
	account.DID = session.DID
	if session.Handle != "" {
		account.Handle = session.Handle
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if logoutAll {
		if err := manager.DeleteAll(); err != nil {
			return fmt.Errorf("failed to remove accounts: %w", err)
		}
		ui.PrintSuccess("All accounts removed")
		return nil
	}

	var handle string
	if len(args) > 0 {
		handle = args[0]
	} else {
		accounts, err := manager.List()
		if err != nil || len(accounts) == 0 {
			ui.PrintWarning("No stored accounts found")
			return nil
		}
		if len(accounts) > 1 {
			return fmt.Errorf("several accounts are stored; name one or pass --all")
		}
		handle = accounts[0].Key()
	}

	if err := manager.Delete(handle); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + handle)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "use 'bsky-archiver auth login' to add one")
		return nil
	}

	out := cmd.OutOrStdout()
	ui.PrintHighlight("Stored Accounts")
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Fprintf(out, "%d. %s\n", i+1, sanitized.Identifier())
		if sanitized.DID != "" && sanitized.Handle != "" {
			fmt.Fprintf(out, "   DID: %s\n", sanitized.DID)
		}
		fmt.Fprintf(out, "   App password: %s\n", sanitized.AppPassword)
		if sanitized.ServiceURL != "" {
			fmt.Fprintf(out, "   Service: %s\n", sanitized.ServiceURL)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Fprintf(out, "   Last modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

// readPassword reads without echo on a terminal and falls back to a line read
func readPassword(reader *bufio.Reader, out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(password)), nil
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
