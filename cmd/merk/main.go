// Package main provides a command-line tool to operate an authenticated
// key-value store: read and write keys, prove and verify them, and move a store
// around in chunks.
//
//	merk --db /tmp/store put --key a --value 1
//	merk --db /tmp/store prove --key a --key b
//	merk --db /tmp/store export --out /tmp/chunks
//	merk --db /tmp/copy restore --in /tmp/chunks --root <hex> --count <n>
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/merk/cli/ucli"
)

var printer io.Writer = os.Stderr

func main() {
	err := run(os.Args, os.Stdout)
	if err != nil {
		fmt.Fprintf(printer, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	builder := ucli.NewBuilder("merk",
		ucli.WithUsage("authenticated key-value store"),
		ucli.WithWriter(out),
		ucli.WithFlags(globalFlags...))

	setCommands(builder, action{printer: out, logs: printer})

	return builder.Build().Run(args)
}
