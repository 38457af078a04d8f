package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/config"
	"github.com/openbench/obwizard/internal/credentials"
	"github.com/openbench/obwizard/internal/hostkeys"
	"github.com/openbench/obwizard/internal/sshx"
)

var (
	connectPassword   string
	connectKeyFile    string
	connectJump       string
	connectAcceptKeys bool
)

func init() {
	connectCmd.AddCommand(connectTestCmd)
	connectCmd.AddCommand(connectProbeCmd)
	rootCmd.AddCommand(connectCmd)

	for _, cmd := range []*cobra.Command{connectTestCmd, connectProbeCmd} {
		cmd.Flags().StringVar(&connectPassword, "password", "", "Password (omit to use stored credentials or a prompt)")
		cmd.Flags().StringVar(&connectKeyFile, "key", "", "Private key file")
		cmd.Flags().StringVar(&connectJump, "jump", "", "Onward host to reach through the primary connection")
		cmd.Flags().BoolVar(&connectAcceptKeys, "accept-new-keys", false, "Trust unknown host keys without prompting")
	}
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Test and inspect SSH connections",
}

var connectTestCmd = &cobra.Command{
	Use:   "test user@host",
	Short: "Connect, run a probe command, and disconnect",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectTest,
}

var connectProbeCmd = &cobra.Command{
	Use:   "probe user@host",
	Short: "Detect Python interpreters, conda environments, and OpenBench",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectProbe,
}

// dialTarget builds a connected manager for the target, consulting the
// credential store when no auth flags are given.
func dialTarget(hostString string) (*sshx.Manager, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	keys, err := hostkeys.Open(config.KnownHostsPath(dir))
	if err != nil {
		return nil, fmt.Errorf("opening host key store: %w", err)
	}
	keys.SetLogger(cliLogger())
	keys.SetAutoAccept(connectAcceptKeys)
	keys.SetPrompt(func(hostname, keyType, fingerprint string) bool {
		fmt.Printf("The authenticity of host %s can't be established.\n", hostname)
		fmt.Printf("%s key fingerprint is %s.\n", keyType, fingerprint)
		return confirm("Are you sure you want to continue connecting?")
	})

	auth := sshx.Auth{Password: connectPassword, KeyFile: connectKeyFile}
	_, host, _ := sshx.ParseHostString(hostString)

	if auth.Password == "" && auth.KeyFile == "" {
		store, err := credentials.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("opening credential store: %w", err)
		}
		store.SetLogger(cliLogger())
		warnDegradedSalt(store)
		if cred, ok := store.Get(host); ok {
			auth.Password = cred.Password
			auth.KeyFile = cred.KeyFile
		}
	}
	if auth.Password == "" && auth.KeyFile == "" {
		password, err := promptSecret(fmt.Sprintf("Password for %s", hostString))
		if err != nil {
			return nil, err
		}
		auth.Password = password
	}

	mgr := sshx.NewManager(keys)
	mgr.SetLogger(cliLogger())
	if err := mgr.Connect(hostString, auth); err != nil {
		return nil, err
	}

	if connectJump != "" {
		if err := mgr.ConnectWithJump(connectJump, sshx.JumpAuth{Mode: sshx.JumpAuthInternal}); err != nil {
			mgr.Disconnect()
			return nil, fmt.Errorf("connecting to jump target %s: %w", connectJump, err)
		}
	}
	return mgr, nil
}

// connectExitCode distinguishes trust failures from plain connection
// failures for scripting.
func connectExitCode(err error) int {
	var changed *hostkeys.KeyChangedError
	var unknown *hostkeys.UnknownHostError
	if errors.As(err, &changed) || errors.As(err, &unknown) {
		return ExitTrustError
	}
	return ExitConnError
}

func runConnectTest(cmd *cobra.Command, args []string) error {
	mgr, err := dialTarget(args[0])
	if err != nil {
		return exitErr(connectExitCode(err), "connecting: %v", err)
	}
	defer mgr.Disconnect()

	if !mgr.TestConnection() {
		return exitErr(ExitConnError, "connection established but probe command failed")
	}
	fmt.Printf("Connection to %s OK", mgr.Host())
	if mgr.IsJumpConnected() {
		fmt.Printf(" (via jump to %s)", connectJump)
	}
	fmt.Println()
	return nil
}

func runConnectProbe(cmd *cobra.Command, args []string) error {
	mgr, err := dialTarget(args[0])
	if err != nil {
		return exitErr(connectExitCode(err), "connecting: %v", err)
	}
	defer mgr.Disconnect()

	pythons := mgr.DetectPythonInterpreters()
	fmt.Printf("Python interpreters (%d):\n", len(pythons))
	for _, p := range pythons {
		fmt.Printf("  %s\n", p)
	}

	envs := mgr.DetectCondaEnvs()
	fmt.Printf("Conda environments (%d):\n", len(envs))
	for _, e := range envs {
		fmt.Printf("  %s\n", e)
	}
	return nil
}

// exitErr reports the message and returns a sentinel error so cobra
// propagates a nonzero status; the specific code is set via os.Exit in
// exitWithError when it matters.
func exitErr(code int, format string, args ...interface{}) error {
	exitWithError(code, format, args...)
	return nil
}
