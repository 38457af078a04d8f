package main

// Exit codes used across obw commands.
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (missing config dir, bad profile)
	ExitConnError   = 3 // Connection failure (auth, timeout, unreachable)
	ExitTrustError  = 4 // Host key unknown or changed
	ExitRunFailed   = 5 // Remote evaluation finished unsuccessfully
)
