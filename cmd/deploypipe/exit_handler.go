package main

import (
	"errors"
	"os"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/pkg/runner"
)

// Exit codes
const (
	exitFailure  = 1
	exitRejected = 3
)

// ExitHandler provides a testable way to handle program termination
type ExitHandler interface {
	Exit(code int)
	LogFatalError(err error, msg string, keyvals ...any)
}

// DefaultExitHandler implements ExitHandler for production use
type DefaultExitHandler struct {
	logger *common.Logger
}

// NewDefaultExitHandler creates a new default exit handler
func NewDefaultExitHandler() *DefaultExitHandler {
	return &DefaultExitHandler{}
}

// Exit terminates the program with the given exit code
func (h *DefaultExitHandler) Exit(code int) {
	os.Exit(code)
}

// LogFatalError logs a fatal error and exits. A rejected approval exits
// with its own code so scripts can tell it apart from a failure.
func (h *DefaultExitHandler) LogFatalError(err error, msg string, keyvals ...any) {
	logger := h.logger
	if logger == nil {
		logger = common.GetLogger().WithComponent("main")
	}
	allKeyvals := append([]any{"error", err}, keyvals...)
	logger.Error(msg, allKeyvals...)
	h.Exit(exitCode(err))
}

func exitCode(err error) int {
	var rejected *runner.RejectedError
	if errors.As(err, &rejected) {
		return exitRejected
	}
	return exitFailure
}

// Global exit handler (can be replaced for testing)
var exitHandler ExitHandler = NewDefaultExitHandler()
