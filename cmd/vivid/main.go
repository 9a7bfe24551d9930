package main

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Version information (can be overridden at build time with -ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = runServe(args)
	case "render":
		err = runRender(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("vivid version %s\n", version)

	if info, ok := debug.ReadBuildInfo(); ok {
		var vcsRevision string
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				vcsRevision = setting.Value
			}
		}
		if commit != "unknown" {
			fmt.Printf("commit: %s\n", commit)
		} else if vcsRevision != "" {
			if len(vcsRevision) > 12 {
				vcsRevision = vcsRevision[:12]
			}
			fmt.Printf("commit: %s\n", vcsRevision)
		}
		fmt.Printf("go: %s\n", info.GoVersion)
	}
}

func printUsage() {
	fmt.Println(`vivid - reactive HTML templating

Usage:
  vivid <command> [arguments]

Commands:
  serve     Serve a directory of live pages
            flags: --config vivid.yaml --listen host:port --root dir
  render    Render a single page to stdout
            flags: --state file.yaml --base-dir dir --minify
  version   Print version information
  help      Show this help

Serve mode renders every .html file under the root through the template
engine, seeds state from a .yaml sidecar with the same name, pushes
re-renders to connected clients over websocket, and exposes engine
counters at /metrics. A vivid.yaml in the working directory configures
the defaults.`)
}
