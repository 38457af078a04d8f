package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/credentials"
)

var (
	credAuthType string
	credKeyFile  string
	credJumpNode string
)

func init() {
	credsSaveCmd.Flags().StringVar(&credAuthType, "auth", credentials.AuthPassword, "Auth type: password or key")
	credsSaveCmd.Flags().StringVar(&credKeyFile, "key", "", "Private key file (for key auth)")
	credsSaveCmd.Flags().StringVar(&credJumpNode, "jump", "", "Default onward host for this server")

	credsCmd.AddCommand(credsListCmd)
	credsCmd.AddCommand(credsSaveCmd)
	credsCmd.AddCommand(credsDeleteCmd)
	credsCmd.AddCommand(credsClearCmd)
	rootCmd.AddCommand(credsCmd)
}

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage stored connection credentials",
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hosts with stored credentials",
	RunE:  runCredsList,
}

var credsSaveCmd = &cobra.Command{
	Use:   "save host",
	Short: "Save credentials for a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredsSave,
}

var credsDeleteCmd = &cobra.Command{
	Use:   "delete host",
	Short: "Delete stored credentials for a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredsDelete,
}

var credsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored credentials",
	RunE:  runCredsClear,
}

func openCredStore() (*credentials.Store, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	store, err := credentials.Open(dir)
	if err != nil {
		return nil, err
	}
	store.SetLogger(cliLogger())
	warnDegradedSalt(store)
	return store, nil
}

// warnDegradedSalt tells the user when the random salt file was
// unavailable and encryption fell back to a machine-derived salt.
func warnDegradedSalt(store *credentials.Store) {
	if store.DegradedSalt() {
		fmt.Fprintln(os.Stderr, "warning: salt file unavailable; credential encryption is using a weaker machine-derived salt")
	}
}

func runCredsList(cmd *cobra.Command, args []string) error {
	store, err := openCredStore()
	if err != nil {
		return exitErr(ExitConfigError, "opening credential store: %v", err)
	}

	hosts := store.Hosts()
	if len(hosts) == 0 {
		fmt.Println("No stored credentials.")
		return nil
	}
	for _, h := range hosts {
		cred, _ := store.Get(h)
		line := fmt.Sprintf("%s  (%s auth", h, cred.AuthType)
		if cred.JumpNode != "" {
			line += ", jump via " + cred.JumpNode
		}
		fmt.Println(line + ")")
	}
	return nil
}

func runCredsSave(cmd *cobra.Command, args []string) error {
	host := args[0]
	store, err := openCredStore()
	if err != nil {
		return exitErr(ExitConfigError, "opening credential store: %v", err)
	}

	cred := credentials.Credential{
		AuthType: credAuthType,
		KeyFile:  credKeyFile,
		JumpNode: credJumpNode,
	}
	switch credAuthType {
	case credentials.AuthPassword:
		password, err := promptSecret(fmt.Sprintf("Password for %s", host))
		if err != nil {
			return exitErr(ExitError, "reading password: %v", err)
		}
		cred.Password = password
	case credentials.AuthKey:
		if credKeyFile == "" {
			return exitErr(ExitError, "key auth requires --key")
		}
	default:
		return exitErr(ExitError, "unknown auth type %q", credAuthType)
	}

	if err := store.Save(host, cred); err != nil {
		return exitErr(ExitError, "saving credentials: %v", err)
	}
	fmt.Printf("Saved credentials for %s\n", host)
	return nil
}

func runCredsDelete(cmd *cobra.Command, args []string) error {
	store, err := openCredStore()
	if err != nil {
		return exitErr(ExitConfigError, "opening credential store: %v", err)
	}
	if err := store.Delete(args[0]); err != nil {
		return exitErr(ExitError, "deleting credentials: %v", err)
	}
	fmt.Printf("Deleted credentials for %s\n", args[0])
	return nil
}

func runCredsClear(cmd *cobra.Command, args []string) error {
	if !confirm("Delete ALL stored credentials?") {
		fmt.Println("Aborted.")
		return nil
	}
	store, err := openCredStore()
	if err != nil {
		return exitErr(ExitConfigError, "opening credential store: %v", err)
	}
	if err := store.ClearAll(); err != nil {
		return exitErr(ExitError, "clearing credentials: %v", err)
	}
	fmt.Println("All credentials deleted.")
	return nil
}
