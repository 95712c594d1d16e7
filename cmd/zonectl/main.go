// Command zonectl is the operator toolbox for the zone ledger: it manages
// signing keys, signs operation envelopes for POST /api/ops and produces
// feed headers for price publishers.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

type command struct {
	usage string
	run   func(args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"keygen":       {"generate a new secp256k1 key", runKeygen},
	"encrypt-key":  {"seal a private key into a password-protected key file", runEncryptKey},
	"address":      {"print the address of a key", runAddress},
	"sign":         {"sign an operation envelope", runSign},
	"feed-headers": {"print signed price feed headers", runFeedHeaders},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "zonectl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: zonectl <command> [flags]")

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(args[1:], stdout)
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: zonectl <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-13s %s\n", name, commands[name].usage)
	}
	fmt.Fprint(w, b.String())
}
