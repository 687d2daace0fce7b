package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"remoteauth/internal/config"
	"remoteauth/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

// globalOptions holds the persistent flags and the configuration they
// resolve to.
type globalOptions struct {
	debug        bool
	logLevel     string
	configPath   string
	storageDir   string
	callbackHost string
	callbackPort int
	clientID     string
	clientSecret string
	scopes       []string
	resource     string
	noBrowser    bool

	cfg config.Config
}

// rootCmd represents the base command for the remoteauth application.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "remoteauth",
		Short: "Authenticate to OAuth-protected remote tool servers",
		Long: `remoteauth obtains and maintains OAuth 2.1 credentials for remote
tool servers. It discovers the authorization server, registers a client when
needed, completes the browser-based Authorization Code + PKCE flow on a local
redirect listener and keeps the resulting tokens on disk.`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.SetVersionTemplate(`{{printf "remoteauth version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging (same as --log-level debug)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.configPath, "config", "", "Config file (default is $HOME/.config/remoteauth/config.yaml)")
	flags.StringVar(&opts.storageDir, "storage-dir", "", "Credential store directory")
	flags.StringVar(&opts.callbackHost, "callback-host", "", "Host of the local redirect listener")
	flags.IntVar(&opts.callbackPort, "callback-port", config.DefaultCallbackPort, "Port of the local redirect listener (0 for ephemeral, static clients only)")
	flags.StringVar(&opts.clientID, "client-id", "", "Pre-registered OAuth client ID")
	flags.StringVar(&opts.clientSecret, "client-secret", "", "Pre-registered OAuth client secret")
	flags.StringSliceVar(&opts.scopes, "oauth-scope", nil, "OAuth scopes to request (repeatable)")
	flags.StringVar(&opts.resource, "resource", "", "RFC 8707 resource indicator")
	flags.BoolVar(&opts.noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")

	cmd.AddCommand(
		newLoginCmd(opts),
		newTokenCmd(opts),
		newStatusCmd(opts),
		newLogoutCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// resolve initializes logging and loads the config file, then applies the
// flags that were set explicitly.
func (o *globalOptions) resolve(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	if o.debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("storage-dir") {
		cfg.StorageDir = o.storageDir
	}
	if flags.Changed("callback-host") {
		cfg.Callback.Host = o.callbackHost
	}
	if flags.Changed("callback-port") {
		cfg.Callback.Port = o.callbackPort
	}
	if flags.Changed("client-id") {
		cfg.Client.ClientID = o.clientID
	}
	if flags.Changed("client-secret") {
		cfg.Client.ClientSecret = o.clientSecret
	}
	if flags.Changed("oauth-scope") {
		cfg.Scopes = o.scopes
	}
	if flags.Changed("resource") {
		cfg.Resource = o.resource
	}
	if o.noBrowser {
		cfg.OpenBrowser = false
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg
	return nil
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main(). An interrupt cancels the running
// command, which tears down any redirect listener before exiting.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var authRequired *AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authFailed *AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
