package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/config"
	"github.com/openbench/obwizard/internal/history"
	"github.com/openbench/obwizard/internal/runner"
)

var (
	runPython    string
	runCondaEnv  string
	runInstall   string
	runVariables int
	runRefs      int
	runSims      int
	runShowLogs  bool
)

func init() {
	runCmd.Flags().StringVar(&runPython, "python", "python3", "Remote Python interpreter")
	runCmd.Flags().StringVar(&runCondaEnv, "conda-env", "", "Remote conda environment to activate")
	runCmd.Flags().StringVar(&runInstall, "openbench-path", "", "Remote OpenBench installation path")
	runCmd.Flags().IntVar(&runVariables, "variables", 0, "Expected variable count (for progress)")
	runCmd.Flags().IntVar(&runRefs, "refs", 0, "Expected reference source count (for progress)")
	runCmd.Flags().IntVar(&runSims, "sims", 0, "Expected simulation source count (for progress)")
	runCmd.Flags().BoolVar(&runShowLogs, "logs", true, "Print remote output lines")
	_ = runCmd.MarkFlagRequired("openbench-path")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run user@host config.yaml",
	Short: "Run an OpenBench evaluation on a remote host",
	Long: `Uploads the config file (plus sibling YAML/JSON files) to a remote
temp directory, launches OpenBench there, streams its output, and
records the outcome in the run history. Ctrl-C friendly: a second
invocation of obw can inspect history afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	hostString, configPath := args[0], args[1]

	mgr, err := dialTarget(hostString)
	if err != nil {
		return exitErr(connectExitCode(err), "connecting: %v", err)
	}
	defer mgr.Disconnect()

	dir, err := configDir()
	if err != nil {
		return exitErr(ExitConfigError, "resolving config dir: %v", err)
	}
	hist, err := history.Open(config.HistoryDBPath(dir))
	if err != nil {
		return exitErr(ExitConfigError, "opening history: %v", err)
	}
	defer hist.Close()

	runID, err := hist.Append(mgr.Host(), configPath, time.Now())
	if err != nil {
		return exitErr(ExitError, "recording run: %v", err)
	}

	counts := runner.TaskCounts{
		Variables:    runVariables,
		RefSources:   runRefs,
		SimSources:   runSims,
		DoEvaluation: runVariables > 0,
	}
	remote := runner.RemoteConfig{
		PythonPath:    runPython,
		CondaEnv:      runCondaEnv,
		OpenBenchPath: runInstall,
	}

	r := runner.New(mgr, configPath, remote, counts)
	r.SetLogger(cliLogger())

	lastPercent := -1.0
	r.OnProgress = func(p runner.Progress) {
		if p.Percent != lastPercent {
			lastPercent = p.Percent
			label := p.Phase.String()
			if p.Variable != "" {
				label = p.Variable
				if p.Stage != "" {
					label += " - " + p.Stage
				}
			}
			fmt.Printf("[%5.1f%%] %s\n", p.Percent, label)
		}
	}
	if runShowLogs {
		r.OnLog = func(line string) { fmt.Println(line) }
	}

	var success bool
	var message string
	r.OnFinished = func(ok bool, msg string) {
		success, message = ok, msg
	}

	r.Start()
	r.Wait()

	if err := hist.Finish(runID, time.Now(), success, message); err != nil {
		fmt.Println("warning: could not record run outcome:", err)
	}
	if !success {
		return exitErr(ExitRunFailed, "%s", message)
	}
	fmt.Println(message)
	return nil
}
