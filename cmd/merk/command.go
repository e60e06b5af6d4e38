package main

import (
	"go.dedis.ch/merk/cli"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config",
		Usage: "path to a yaml configuration file",
	},
	cli.StringFlag{
		Name:  "db",
		Usage: "path to the store, overrides the configuration",
	},
}

// setCommands registers the commands of the tool.
func setCommands(builder cli.Builder, action action) {
	keyFlag := cli.StringFlag{
		Name:     "key",
		Usage:    "the key",
		Required: true,
	}

	keysFlag := cli.StringSliceFlag{
		Name:     "key",
		Usage:    "a key of the proof, can be repeated",
		Required: true,
	}

	cmd := builder.SetCommand("get")
	cmd.SetDescription("print the value of a key")
	cmd.SetFlags(keyFlag)
	cmd.SetAction(action.getAction)

	cmd = builder.SetCommand("put")
	cmd.SetDescription("set the value of a key and print the new root, the store is created if needed")
	cmd.SetFlags(keyFlag, cli.StringFlag{
		Name:     "value",
		Usage:    "the value",
		Required: true,
	})
	cmd.SetAction(action.putAction)

	cmd = builder.SetCommand("delete")
	cmd.SetDescription("delete a key and print the new root")
	cmd.SetFlags(keyFlag)
	cmd.SetAction(action.deleteAction)

	cmd = builder.SetCommand("root")
	cmd.SetDescription("print the root hash")
	cmd.SetAction(action.rootAction)

	cmd = builder.SetCommand("prove")
	cmd.SetDescription("print the hex proof of a set of keys")
	cmd.SetFlags(keysFlag)
	cmd.SetAction(action.proveAction)

	cmd = builder.SetCommand("verify")
	cmd.SetDescription("verify a proof against a root and print the proven values")
	cmd.SetFlags(keysFlag, cli.StringFlag{
		Name:     "proof",
		Usage:    "the hex proof",
		Required: true,
	}, cli.StringFlag{
		Name:     "root",
		Usage:    "the hex root hash",
		Required: true,
	})
	cmd.SetAction(action.verifyAction)

	cmd = builder.SetCommand("checkpoint")
	cmd.SetDescription("write a consistent copy of the store")
	cmd.SetFlags(cli.StringFlag{
		Name:     "out",
		Usage:    "path of the copy, it must not exist",
		Required: true,
	})
	cmd.SetAction(action.checkpointAction)

	cmd = builder.SetCommand("export")
	cmd.SetDescription("write the chunks of the store to a directory")
	cmd.SetFlags(cli.StringFlag{
		Name:     "out",
		Usage:    "the output directory",
		Required: true,
	})
	cmd.SetAction(action.exportAction)

	cmd = builder.SetCommand("restore")
	cmd.SetDescription("build a new store from the chunks of an export")
	cmd.SetFlags(cli.StringFlag{
		Name:     "in",
		Usage:    "the directory of the chunks",
		Required: true,
	}, cli.StringFlag{
		Name:     "root",
		Usage:    "the expected hex root hash",
		Required: true,
	}, cli.IntFlag{
		Name:     "count",
		Usage:    "the number of chunks",
		Required: true,
	})
	cmd.SetAction(action.restoreAction)

	cmd = builder.SetCommand("destroy")
	cmd.SetDescription("delete the store")
	cmd.SetAction(action.destroyAction)
}
