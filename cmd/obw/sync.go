package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/storage"
	"github.com/openbench/obwizard/internal/syncengine"
)

var (
	syncRemoteDir string
	syncPatterns  []string
)

func init() {
	syncPushCmd.Flags().StringVar(&syncRemoteDir, "remote-dir", "", "Remote project directory")
	syncPushCmd.Flags().StringSliceVar(&syncPatterns, "pattern", []string{"*.yaml", "*.yml", "*.json", "nml/*.yaml"}, "Local glob patterns to push")
	_ = syncPushCmd.MarkFlagRequired("remote-dir")
	syncCmd.AddCommand(syncPushCmd)
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize project files with a remote directory",
}

var syncPushCmd = &cobra.Command{
	Use:   "push user@host local-dir",
	Short: "Push matching local files to the remote project directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runSyncPush,
}

func runSyncPush(cmd *cobra.Command, args []string) error {
	mgr, err := dialTarget(args[0])
	if err != nil {
		return exitErr(connectExitCode(err), "connecting: %v", err)
	}
	defer mgr.Disconnect()

	local := storage.NewLocal(args[1])
	engine := syncengine.NewEngine(mgr, syncRemoteDir)
	engine.SetLogger(cliLogger())

	pushed := 0
	for _, pattern := range syncPatterns {
		matches, err := local.Glob(pattern)
		if err != nil {
			return exitErr(ExitError, "matching %s: %v", pattern, err)
		}
		for _, rel := range matches {
			content, err := local.ReadFile(rel)
			if err != nil {
				return exitErr(ExitError, "reading %s: %v", rel, err)
			}
			engine.Write(rel, content)
			pushed++
		}
	}
	if pushed == 0 {
		fmt.Println("Nothing to push.")
		return nil
	}

	fmt.Printf("Pushing %d file(s) to %s...\n", pushed, syncRemoteDir)
	syncErr := engine.SyncAll()

	errFiles := engine.ErrorFiles()
	if len(errFiles) > 0 {
		var paths []string
		for p := range errFiles {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Printf("  FAILED %s: %s\n", p, errFiles[p])
		}
	}
	if syncErr != nil {
		return exitErr(ExitError, "sync incomplete: %v", syncErr)
	}
	fmt.Println("All files synced.")
	return nil
}
