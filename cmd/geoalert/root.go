package main

import (
	"sync"

	"github.com/spf13/cobra"
)

const annotationStructuredLog = "geoalert/structured-log"

var structuredLogAnnotations = map[string]string{annotationStructuredLog: "true"}

var rootCmd = &cobra.Command{
	Use:           "geoalert",
	Short:         "geoalert alerts on sign-ins from outside the allowed country.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setCommandExecutionContext(commandExecutionContext{
			CommandPath:       cmd.CommandPath(),
			UsesStructuredLog: commandUsesStructuredLogging(cmd),
		})
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	stateCmd.AddCommand(stateShowCmd, stateUnsuppressCmd)
	rootCmd.AddCommand(runCmd, stateCmd)
}

// commandExecutionContext describes the command being executed, for the
// fatal error path in main.
type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	commandExecutionMu  sync.Mutex
	commandExecutionCtx commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	commandExecutionMu.Lock()
	defer commandExecutionMu.Unlock()
	commandExecutionCtx = ctx
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	commandExecutionMu.Lock()
	defer commandExecutionMu.Unlock()
	return commandExecutionCtx
}

// commandUsesStructuredLogging reports whether cmd logs through slog. Admin
// commands that print to stdout get plain error output instead.
func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	return cmd.Annotations[annotationStructuredLog] == "true"
}
