package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/app"
)

var downloadOpts struct {
	out  string
	gzip bool
}

var downloadCmd = &cobra.Command{
	Use:   "download RESOURCE",
	Short: "Download a file through a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, true, func(ctx context.Context, c *app.Console) error {
			var w io.Writer = cmd.OutOrStdout()
			var file io.WriteCloser
			if downloadOpts.out != "" && downloadOpts.out != "-" {
				f, err := createFile(downloadOpts.out)
				if err != nil {
					return err
				}
				file, w = f, f
			}

			n, err := download(ctx, c, args[0], w)
			if file != nil {
				if cerr := file.Close(); err == nil && cerr != nil {
					err = fmt.Errorf("failed to close %s: %w", downloadOpts.out, cerr)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Downloaded %s (%d bytes)\n", args[0], n)
			return nil
		})
	},
}

var createFile = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func download(ctx context.Context, c *app.Console, resource string, w io.Writer) (int64, error) {
	if !downloadOpts.gzip {
		return c.Download(ctx, resource, w)
	}
	zw := gzip.NewWriter(w)
	zw.Name = resource
	n, err := c.Download(ctx, resource, zw)
	if err != nil {
		return n, err
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return n, nil
}

var uploadCmd = &cobra.Command{
	Use:   "upload RESOURCE FILE",
	Short: "Upload a file through a ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConsole(cmd, true, func(ctx context.Context, c *app.Console) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if err := c.Upload(ctx, args[0], f, info.Size()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded %s (%d bytes)\n", args[0], info.Size())
			return nil
		})
	},
}

func init() {
	f := downloadCmd.Flags()
	f.StringVarP(&downloadOpts.out, "out", "o", "", "write to file instead of stdout")
	f.BoolVarP(&downloadOpts.gzip, "gzip", "z", false, "gzip the downloaded content")
	rootCmd.AddCommand(downloadCmd, uploadCmd)
}
