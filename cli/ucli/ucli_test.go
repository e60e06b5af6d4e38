package ucli

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/merk/cli"
)

func TestBuild(t *testing.T) {
	builder := NewBuilder("test", WithUsage("a test application"), WithWriter(io.Discard))
	app := builder.Build().(*urfave.App)

	require.Equal(t, "test", app.Name)
	require.Equal(t, "a test application", app.Usage)
	require.Equal(t, io.Discard, app.Writer)

	err := app.Run([]string{"test"})
	require.NoError(t, err)
}

func TestBuild_GlobalFlags(t *testing.T) {
	var db string
	var keys []string

	builder := NewBuilder("test",
		WithWriter(io.Discard),
		WithFlags(cli.StringFlag{Name: "db", Value: "default"}))

	cmd := builder.SetCommand("get")
	cmd.SetFlags(cli.StringSliceFlag{Name: "key"})
	cmd.SetAction(func(flags cli.Flags) error {
		db = flags.Path("db")
		keys = flags.StringSlice("key")
		return nil
	})

	err := builder.Build().Run([]string{"test", "--db", "/tmp/store", "get", "--key", "a", "--key", "b"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/store", db)
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestBuild_Action(t *testing.T) {
	called := false

	builder := NewBuilder("test", WithAction(func(cli.Flags) error {
		called = true
		return nil
	}))

	err := builder.Build().Run([]string{"test"})
	require.NoError(t, err)
	require.True(t, called)
}

func TestSetCommand(t *testing.T) {
	builder := NewBuilder("test")

	builder.SetCommand("first")
	builder.SetCommand("second")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Commands, 3)

	require.Equal(t, "first", app.Commands[0].Name)
	require.Equal(t, "second", app.Commands[1].Name)
	require.Equal(t, "help", app.Commands[2].Name)

}

func TestCommandBuilder(t *testing.T) {
	builder := NewBuilder("test").(*Builder)
	cmd := builder.SetCommand("first")

	fakeAction := func(flags cli.Flags) error {
		return nil
	}

	cmd.SetAction(fakeAction)
	cmd.SetDescription("first action")
	cmd.SetFlags(cli.StringFlag{
		Name:     "arg",
		Usage:    "this is a test arg",
		Required: true,
		Value:    "default",
	})
	cmd.SetSubCommand("second")

	require.Len(t, builder.commands, 1)
	require.Len(t, builder.flags, 0)

	cmd2 := builder.commands[0]
	require.Len(t, cmd2.flags, 1)
	require.Len(t, cmd2.subcommands, 1)
}

func TestBuildFlags(t *testing.T) {
	in := []cli.Flag{
		cli.StringFlag{
			Name:     "name1",
			Usage:    "usage1",
			Required: true,
			Value:    "value1",
		},
		cli.StringSliceFlag{
			Name:     "name2",
			Usage:    "usage2",
			Required: true,
			Value:    []string{},
		},
		cli.IntFlag{
			Name:     "name4",
			Usage:    "usage4",
			Required: true,
			Value:    1,
		},
		cli.BoolFlag{
			Name:     "name5",
			Usage:    "usage5",
			Required: true,
			Value:    true,
		},
	}

	out := buildFlags(in)
	require.Len(t, out, 4)

	require.Equal(t, "name1", out[0].Names()[0])
	require.Equal(t, "name2", out[1].Names()[0])
	require.Equal(t, "name4", out[2].Names()[0])
	require.Equal(t, "name5", out[3].Names()[0])
}

func TestBuildFlags_Panic(t *testing.T) {
	defer func() {
		r := recover()
		require.Equal(t, "flag type '<nil>' not supported", r)
	}()

	buildFlags([]cli.Flag{nil})
}

func TestMakeAction(t *testing.T) {
	res := makeAction(nil)
	require.Nil(t, res)

	isCalled := false
	fakeAction := func(flags cli.Flags) error {
		require.Nil(t, flags)
		isCalled = true
		return nil
	}

	res = makeAction(fakeAction)
	require.NotNil(t, res)

	out := res(nil)
	require.NoError(t, out)
	require.True(t, isCalled)
}
