// Command imgtool creates, inspects, and edits FAT12 disk images from the
// shell.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/disks"
	"github.com/tjhancocks/imgtool/fat12"
	"github.com/tjhancocks/imgtool/vfs"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "imgtool",
		Usage: "Create and manipulate FAT12 disk images",
		Commands: []*cli.Command{
			formatCommand,
			lsCommand,
			mkdirCommand,
			touchCommand,
			writeCommand,
			readCommand,
			rmCommand,
			cdCommand,
			pwdCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("imgtool: %s", err.Error())
	}
}

var formatCommand = &cli.Command{
	Name:      "format",
	Usage:     "Create and format a new FAT12 image",
	ArgsUsage: "IMAGE_PATH",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "geometry", Value: "1440k", Usage: fmt.Sprintf("predefined geometry (%v)", disks.Slugs())},
		&cli.StringFlag{Name: "label", Value: "", Usage: "11-character volume label"},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return cli.Exit("format requires an image path", 1)
		}

		geometry, err := disks.Lookup(c.String("geometry"))
		if err != nil {
			return err
		}

		dev, err := block.CreateFile(path, uint32(geometry.SectorSize), uint32(geometry.SectorCount))
		if err != nil {
			return err
		}

		driver := fat12.New()
		if err := driver.Format(dev, c.String("label"), nil); err != nil {
			return err
		}
		return dev.Flush()
	},
}

// openHandle mounts path's image as FAT12 and returns a ready Handle. The
// caller is responsible for Unmount.
func openHandle(path string) (*vfs.Handle, error) {
	dev, err := block.OpenFile(path, fat12.SectorSize)
	if err != nil {
		return nil, err
	}
	return vfs.MountAs(dev, fat12.TypeName)
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "List the current directory",
	ArgsUsage: "IMAGE_PATH",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().First())
		if err != nil {
			return err
		}
		defer handle.Unmount()

		nodes, err := handle.ListDirectory()
		if err != nil {
			return err
		}
		for _, node := range nodes {
			kind := "-"
			if node.IsDirectory() {
				kind = "d"
			}
			fmt.Printf("%s %8d %s\n", kind, node.Size, node.Name)
		}
		return nil
	},
}

var mkdirCommand = &cli.Command{
	Name:      "mkdir",
	Usage:     "Create a directory",
	ArgsUsage: "IMAGE_PATH PATH",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer handle.Unmount()

		return handle.Mkdir(c.Args().Get(1))
	},
}

var touchCommand = &cli.Command{
	Name:      "touch",
	Usage:     "Create an empty file",
	ArgsUsage: "IMAGE_PATH NAME",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer handle.Unmount()

		return handle.Touch(c.Args().Get(1))
	},
}

var writeCommand = &cli.Command{
	Name:      "write",
	Usage:     "Write a host file's contents into the image",
	ArgsUsage: "IMAGE_PATH NAME HOST_FILE",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer handle.Unmount()

		data, err := os.ReadFile(c.Args().Get(2))
		if err != nil {
			return err
		}
		return handle.Write(c.Args().Get(1), data, uint32(len(data)))
	},
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "Print a file's contents to stdout",
	ArgsUsage: "IMAGE_PATH NAME",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer handle.Unmount()

		data, err := handle.Read(c.Args().Get(1))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var rmCommand = &cli.Command{
	Name:      "rm",
	Usage:     "Remove a file",
	ArgsUsage: "IMAGE_PATH NAME",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer handle.Unmount()

		return handle.Remove(c.Args().Get(1))
	},
}

var cdCommand = &cli.Command{
	Name:      "cd",
	Usage:     "Change directory and print the resulting path",
	ArgsUsage: "IMAGE_PATH PATH",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().Get(0))
		if err != nil {
			return err
		}
		defer handle.Unmount()

		if err := handle.Cd(c.Args().Get(1)); err != nil {
			return err
		}
		fmt.Println(handle.Pwd())
		return nil
	},
}

var pwdCommand = &cli.Command{
	Name:      "pwd",
	Usage:     "Print the current directory",
	ArgsUsage: "IMAGE_PATH",
	Action: func(c *cli.Context) error {
		handle, err := openHandle(c.Args().First())
		if err != nil {
			return err
		}
		defer handle.Unmount()

		fmt.Println(handle.Pwd())
		return nil
	},
}
