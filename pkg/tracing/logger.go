// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"time"

	"github.com/pterm/pterm"
)

// Logger reports trace session progress.
type Logger interface {
	LogScriptStart(name string, statementCount int)
	LogStatement(index int, sql string, duration time.Duration, triggerCount int)
	LogScriptComplete(name string, passed bool)

	Info(msg string, args ...any)
}

type traceLogger struct {
	logger pterm.Logger
}

type noopLogger struct{}

func NewLogger() Logger {
	return &traceLogger{logger: pterm.DefaultLogger}
}

func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *traceLogger) LogScriptStart(name string, statementCount int) {
	l.logger.Info("tracing script", l.logger.Args(
		"name", name,
		"statement_count", statementCount,
	))
}

func (l *traceLogger) LogStatement(index int, sql string, duration time.Duration, triggerCount int) {
	l.logger.Info("executed statement", l.logger.Args(
		"statement", index,
		"duration", duration.String(),
		"triggered_rules", triggerCount,
	))
}

func (l *traceLogger) LogScriptComplete(name string, passed bool) {
	l.logger.Info("traced script", l.logger.Args(
		"name", name,
		"passed_all_checks", passed,
	))
}

func (l *traceLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args...))
}

func (l *noopLogger) LogScriptStart(name string, statementCount int)                            {}
func (l *noopLogger) LogStatement(index int, sql string, duration time.Duration, triggers int)  {}
func (l *noopLogger) LogScriptComplete(name string, passed bool)                                {}
func (l *noopLogger) Info(msg string, args ...any)                                              {}
