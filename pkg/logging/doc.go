// Package logging provides subsystem-tagged logging for remoteauth on top of
// log/slog.
//
// Call InitForCLI once at startup. Packages that log through the helpers
// (Debug, Info, Warn, Error) tag every entry with a subsystem; packages that
// take a *slog.Logger are handed Logger() or For(subsystem).
//
// # Usage
//
//	logging.InitForCLI(logging.LevelDebug, os.Stderr)
//	logging.Info("Config", "Loaded configuration from %s", path)
//	logging.Error("StoreWatcher", err, "fsnotify error")
//
//	provider, err := auth.NewProvider(serverURL, auth.WithLogger(logging.For("Auth")))
package logging
