package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/AnishMulay/numbfs/internal/config"
	"github.com/AnishMulay/numbfs/internal/fs_errors"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "numbfs",
		Usage: "create and edit numbfs volumes without mounting them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{config.EnvConfigFile}},
			&cli.StringFlag{Name: "image", Usage: "volume image file, overrides the config"},
			&cli.StringFlag{Name: "remote", Usage: "block server address, overrides the config"},
			&cli.StringFlag{Name: "log-level", Usage: "DEBUG, INFO, WARN or ERROR", Value: "WARN", EnvVars: []string{config.EnvPrefix + "_LOG_LEVEL"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "mkfs",
				Usage: "format a volume",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "inodes", Usage: "inode table size"},
					&cli.UintFlag{Name: "blocks", Usage: "data region size in blocks"},
				},
				Action: mkfsAction,
			},
			{Name: "info", Usage: "show volume geometry and usage", Action: infoAction},
			{Name: "fsck", Usage: "compare allocation bitmaps with the superblock counters", Action: fsckAction},
			{Name: "ls", Usage: "list a directory", ArgsUsage: "[PATH]", Action: lsAction},
			{Name: "stat", Usage: "show inode attributes", ArgsUsage: "PATH", Action: statAction},
			{
				Name:      "mkdir",
				Usage:     "create a directory",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{&cli.UintFlag{Name: "mode", Value: 0o755, Usage: "permission bits"}},
				Action:    mkdirAction,
			},
			{
				Name:      "touch",
				Usage:     "create an empty file or update its times",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{&cli.UintFlag{Name: "mode", Value: 0o644, Usage: "permission bits for a new file"}},
				Action:    touchAction,
			},
			{
				Name:      "write",
				Usage:     "write standard input, or --input, into a file",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "host file to read instead of stdin"},
					&cli.Int64Flag{Name: "offset", Usage: "byte offset to write at"},
				},
				Action: writeAction,
			},
			{Name: "cat", Usage: "print a file", ArgsUsage: "PATH", Action: catAction},
			{Name: "rm", Usage: "remove a file or symlink", ArgsUsage: "PATH", Action: rmAction},
			{Name: "rmdir", Usage: "remove an empty directory", ArgsUsage: "PATH", Action: rmdirAction},
			{Name: "mv", Usage: "rename an entry", ArgsUsage: "SRC DST", Action: mvAction},
			{Name: "ln", Usage: "create a hard link", ArgsUsage: "TARGET LINK", Action: lnAction},
			{Name: "symlink", Usage: "create a symbolic link", ArgsUsage: "TARGET LINK", Action: symlinkAction},
			{Name: "readlink", Usage: "print a symlink target", ArgsUsage: "PATH", Action: readlinkAction},
			{Name: "truncate", Usage: "set a file's size", ArgsUsage: "PATH SIZE", Action: truncateAction},
			{Name: "getfattr", Usage: "list extended attributes, or print one", ArgsUsage: "PATH [NAME]", Action: getfattrAction},
			{
				Name:      "setfattr",
				Usage:     "set an extended attribute",
				ArgsUsage: "PATH NAME [VALUE]",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "remove", Aliases: []string{"x"}, Usage: "remove NAME instead"}},
				Action:    setfattrAction,
			},
			{Name: "import", Usage: "copy a host file and its user.* attributes into the volume", ArgsUsage: "HOSTFILE PATH", Action: importAction},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "numbfs: %v\n", err)
		os.Exit(int(fs_errors.Errno(err)))
	}
}
