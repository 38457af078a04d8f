package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/connections"
)

var profileFlags connections.Profile

func init() {
	connectionsSaveCmd.Flags().StringVar(&profileFlags.Host, "host", "", "Server hostname")
	connectionsSaveCmd.Flags().StringVar(&profileFlags.Username, "user", "", "Username")
	connectionsSaveCmd.Flags().IntVar(&profileFlags.Port, "port", 0, "SSH port (default 22)")
	connectionsSaveCmd.Flags().StringVar(&profileFlags.JumpNode, "jump", "", "Onward host reached through the primary connection")
	connectionsSaveCmd.Flags().StringVar(&profileFlags.PythonPath, "python", "", "Remote Python interpreter")
	connectionsSaveCmd.Flags().StringVar(&profileFlags.CondaEnv, "conda-env", "", "Remote conda environment")
	connectionsSaveCmd.Flags().StringVar(&profileFlags.InstallPath, "openbench-path", "", "Remote OpenBench installation")
	connectionsSaveCmd.Flags().StringVar(&profileFlags.ProjectPath, "project", "", "Remote project directory")
	_ = connectionsSaveCmd.MarkFlagRequired("host")
	_ = connectionsSaveCmd.MarkFlagRequired("user")

	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsSaveCmd)
	connectionsCmd.AddCommand(connectionsDeleteCmd)
	rootCmd.AddCommand(connectionsCmd)
}

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conn"},
	Short:   "Manage saved connection profiles",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	RunE:  runConnectionsList,
}

var connectionsSaveCmd = &cobra.Command{
	Use:   "save name",
	Short: "Save or update a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionsSave,
}

var connectionsDeleteCmd = &cobra.Command{
	Use:   "delete name",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectionsDelete,
}

func openProfiles() (*connections.Manager, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	m, err := connections.Open(dir)
	if err != nil {
		return nil, err
	}
	m.SetLogger(cliLogger())
	return m, nil
}

func runConnectionsList(cmd *cobra.Command, args []string) error {
	m, err := openProfiles()
	if err != nil {
		return exitErr(ExitConfigError, "opening profiles: %v", err)
	}

	profiles := m.List()
	if len(profiles) == 0 {
		fmt.Println("No saved profiles.")
		return nil
	}
	for _, p := range profiles {
		line := fmt.Sprintf("%s  %s@%s", p.Name, p.Username, p.Host)
		if p.JumpNode != "" {
			line += " via " + p.JumpNode
		}
		if p.CondaEnv != "" {
			line += "  [conda: " + p.CondaEnv + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runConnectionsSave(cmd *cobra.Command, args []string) error {
	m, err := openProfiles()
	if err != nil {
		return exitErr(ExitConfigError, "opening profiles: %v", err)
	}

	p := profileFlags
	p.Name = args[0]
	if err := m.Save(p); err != nil {
		return exitErr(ExitError, "saving profile: %v", err)
	}
	fmt.Printf("Saved profile %s\n", p.Name)
	return nil
}

func runConnectionsDelete(cmd *cobra.Command, args []string) error {
	m, err := openProfiles()
	if err != nil {
		return exitErr(ExitConfigError, "opening profiles: %v", err)
	}
	if err := m.Delete(args[0]); err != nil {
		return exitErr(ExitError, "deleting profile: %v", err)
	}
	fmt.Printf("Deleted profile %s\n", args[0])
	return nil
}
