package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitConfigError    = 3
	ExitDownloadFailed = 4
	ExitStorageError   = 5
	ExitNotFound       = 6
	ExitInterrupted    = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "download":
		return runDownload(cmdArgs)
	case "list":
		return runList(cmdArgs)
	case "resume":
		return runResume(cmdArgs)
	case "remove":
		return runRemove(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: fetchkit <command> [options]

Commands:
  download  Queue HTTP downloads in a namespace and run them to completion
  list      Show the download records of a namespace
  resume    Re-queue paused, failed or cancelled downloads and run the queue
  remove    Remove download records, optionally deleting the output files

Run 'fetchkit <command> -h' for command-specific help.`)
}
