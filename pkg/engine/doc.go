// Package engine holds the vocabulary shared by every mu package: the classified
// error model and the small interfaces the orchestrator is written against.
//
// # Errors
//
// Every failure that reaches the CLI is an *EngineError carrying an ErrorClass:
//
//   - missing_project: no mu.toml / mu.state.json pair; the user runs `mu init`
//   - subprocess: an external tool exited non-zero or could not be started
//   - bindings: the interface description could not be turned into client bindings
//   - corruption: mu.toml and mu.state.json disagree structurally
//   - unsupported: a backend or template that has no implementation
//   - invalid: bad user input or configuration
//
// Errors are matched with errors.Is against the sentinels (ErrNoProject,
// ErrStructuralMismatch, ...) or with the Is* predicates:
//
//	if engine.IsMissingProject(err) {
//		fmt.Fprintln(os.Stderr, err)
//		os.Exit(1)
//	}
//
// # Interfaces
//
// ChangeNotifier is the single-shot change source the dev loop waits on.
// HistoryRecorder and HistoryReader are implemented by the SQLite history store.
package engine
