package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igmonitor/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials",
	Long: `Manage the secrets the monitor runs on: the upstream session cookie
and the delivery bot token.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only fallback)

Never share your credentials or config files!`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store credentials securely",
	Long: `Store a named credential bundle.

You will be prompted for:
  - Session ID (from the sessionid cookie)
  - Bot token (from BotFather)
  - User agent (optional, press Enter for default)

To get the session ID:
1. Log into the site in your browser
2. Open Developer Tools (F12)
3. Go to Application/Storage > Cookies
4. Copy the sessionid value`,
	Example: `  igmonitor auth login
  igmonitor auth login production`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:     "logout [name]",
	Short:   "Remove stored credentials",
	Args:    cobra.MaximumNArgs(1),
	Example: `  igmonitor auth logout production`,
	RunE:    runAuthLogout,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential bundles",
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authListCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	name := "default"
	if len(args) == 1 {
		name = strings.TrimSpace(args[0])
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("open credential stores: %w", err)
	}

	sessionID, err := promptSecret("Session ID: ")
	if err != nil {
		return err
	}
	botToken, err := promptSecret("Bot token: ")
	if err != nil {
		return err
	}
	userAgent, err := promptLine("User agent (optional): ")
	if err != nil {
		return err
	}

	cred := &auth.Credential{
		Name:      name,
		SessionID: sessionID,
		BotToken:  botToken,
		UserAgent: userAgent,
	}
	if err := manager.Store(cred); err != nil {
		return err
	}
	fmt.Printf("Stored credentials %q\n", name)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	name := "default"
	if len(args) == 1 {
		name = strings.TrimSpace(args[0])
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("open credential stores: %w", err)
	}
	if err := manager.Delete(name); err != nil {
		return err
	}
	fmt.Printf("Removed credentials %q\n", name)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("open credential stores: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		fmt.Println("No stored credentials")
		return nil
	}

	for _, cred := range creds {
		masked := auth.Sanitize(cred)
		fmt.Printf("%s\n  session: %s\n  bot token: %s\n  modified: %s\n",
			masked.Name, masked.SessionID, masked.BotToken,
			masked.LastModified.Format("2006-01-02 15:04"))
	}
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(string(value)), nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
