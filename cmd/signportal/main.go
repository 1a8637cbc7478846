// Command signportal is the CLI tool for creating and serving portal landing sites.
package main

import (
	"fmt"
	"os"

	"github.com/signportal/signportal/cmd/signportal/commands"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

// run dispatches the CLI and returns the process exit code. Split from main
// so the testscript harness can invoke the binary in-process.
func run() int {
	if len(os.Args) < 2 {
		printUsage()
		return 1
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = commands.ServeCommand(args)
	case "check":
		err = commands.CheckCommand(args)
	case "users":
		err = commands.UsersCommand(args)
	case "new":
		err = commands.NewCommand(args)
	case "version":
		fmt.Printf("signportal version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println("signportal - Landing pages with a live account dialog")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  signportal serve [directory]     Start the portal server")
	fmt.Println("  signportal check [directory]     Validate config and pages")
	fmt.Println("  signportal users [directory]     List registered users")
	fmt.Println("  signportal new <name> [--template=TYPE]  Create a new portal site")
	fmt.Println("  signportal version               Show version")
	fmt.Println("  signportal help                  Show this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  signportal serve                 # Serve current directory")
	fmt.Println("  signportal serve ./site          # Serve a specific directory")
	fmt.Println("  signportal serve --no-signups    # Serve with registration closed")
	fmt.Println("  signportal serve --open          # Serve and open in the browser")
	fmt.Println("  signportal serve --db ./test.db  # Serve with a different users db")
	fmt.Println("  signportal check                 # Validate current directory")
	fmt.Println("  signportal users --json          # Dump registered users as JSON")
	fmt.Println("  signportal new acme              # Create new site (landing template)")
	fmt.Println("  signportal new acme --template=minimal  # Create with minimal template")
	fmt.Println("  signportal new --list            # List available templates")
	fmt.Println()
	fmt.Println("Documentation: https://github.com/signportal/signportal")
}
