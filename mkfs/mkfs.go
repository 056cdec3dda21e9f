// Command mkfs builds a bootable disk image: a bootloader, a kernel
// image, and a skeletal filesystem tree copied in from the host.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nyxkern/fs"
	"nyxkern/mem"
	"nyxkern/ufs"
	"nyxkern/ustr"
)

// copydata reads the file at `src` and appends its contents to `dst` in the
// provided filesystem.
//
// \param src path to the source file on the host
// \param f   filesystem handle obtained from ufs.BootFS
// \param dst destination path within the image
func copydata(src string, f *ufs.Ufs_t, dst string) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	buf := make([]byte, fs.BSIZE)
	for {
		n, readErr := srcFile.Read(buf)
		if readErr != nil && readErr != io.EOF {
			panic(readErr)
		}
		if n == 0 {
			break
		}
		chunk := ufs.MkBuf(buf[:n])
		f.Append(ustr.Ustr(dst), chunk)
		if readErr == io.EOF {
			break
		}
	}
}

// addfiles walks `skeldir` on the host and replicates its contents into the
// filesystem `fs`.
//
// \param fs       target filesystem
// \param skeldir  host directory tree to copy
func addfiles(fs *ufs.Ufs_t, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}

		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}

		if d.IsDir() {
			if e := fs.MkDir(ustr.Ustr(rel)); e != 0 {
				fmt.Printf("failed to create dir %v\n", rel)
			}
			return nil
		}

		if e := fs.MkFile(ustr.Ustr(rel), nil); e != 0 {
			fmt.Printf("failed to create file %v\n", rel)
		}
		copydata(path, fs, rel)
		return nil
	})

	if err != nil {
		fmt.Printf("error walking the path %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

// buildOpts holds the layout knobs a real mkfs would expose as flags; the
// teacher hardcodes these as package constants, we promote them to
// --nlogblks/--ninodes/--ndatablks so an invocation can target a
// smaller or larger image without a recompile.
type buildOpts struct {
	nlogblks  int
	ninodes   int
	ndatablks int
}

func runMkfs(opts *buildOpts, bootimage, kernelimage, outimage, skeldir string) error {
	ufs.MkDisk(outimage, []string{bootimage, kernelimage}, opts.nlogblks, opts.ninodes, opts.ndatablks)

	// the filesystem's admission control counts free physical pages
	if !mem.Physmem.Inited {
		mem.Phys_init(1024)
	}
	f := ufs.BootFS(outimage)
	if _, err := f.Stat(ustr.MkUstrRoot()); err != 0 {
		return fmt.Errorf("not a valid fs: no root inode")
	}

	addfiles(f, skeldir)
	ufs.ShutdownFS(f)
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &buildOpts{nlogblks: 127, ninodes: 5000, ndatablks: 40000}

	cmd := &cobra.Command{
		Use:   "mkfs <bootimage> <kernelimage> <outimage> <skeldir>",
		Short: "Assemble a bootable disk image with an on-disk filesystem",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMkfs(opts, args[0], args[1], args[2], args[3])
		},
	}

	cmd.Flags().IntVar(&opts.nlogblks, "nlogblks", opts.nlogblks, "number of write-ahead log blocks to reserve")
	cmd.Flags().IntVar(&opts.ninodes, "ninodes", opts.ninodes, "number of inode slots to reserve")
	cmd.Flags().IntVar(&opts.ndatablks, "ndatablks", opts.ndatablks, "number of data blocks to reserve")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
