package authority

import "log/slog"

// LogNotifier is the default notification surface: lifecycle signals are
// logged and nothing else. A richer front-end can replace it with something
// that pushes to the shell.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NavigateToEntry() {
	if n.Logger != nil {
		n.Logger.Info("navigation: return to entry screen")
	}
}

func (n LogNotifier) SessionFailure(err error) {
	if n.Logger != nil {
		n.Logger.Warn("session failure", slog.Any("error", err))
	}
}
