package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: helmsman admin <command> [options]

Commands:
  hash-key   Hash an operator API key for HELMSMAN_AUTH_OPERATOR_KEY_HASH
  help       Show this help message

Examples:
  helmsman admin hash-key
  helmsman admin hash-key --cost 12
`)
}

// runAdminHashKey prompts for an operator key and prints its bcrypt hash.
// The hash goes in auth.operator_key_hash; the key itself is never stored.
func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Operator key: ")
	key, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if len(key) == 0 {
		return fmt.Errorf("operator key must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(key, *cost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}
