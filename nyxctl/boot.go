package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"nyxkern/mem"
	"nyxkern/proc"
	"nyxkern/ufs"
	"nyxkern/ustr"
)

// newBootCmd brings the whole kernel core up in its real order: physical
// memory, the per-CPU scheduler loops, then a root process that mounts
// the filesystem and runs a first "program" (here: list the root
// directory and read an optional file, standing in for exec'ing /bin/sh,
// whose ELF loading is an external collaborator's job). It exists so the
// full boot path is exercisable from the command line, not only from
// tests.
func newBootCmd() *cobra.Command {
	var image, catPath string
	var ncpu, npages int

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the kernel core against a disk image and run a first program",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !mem.Physmem.Inited {
				mem.Phys_init(npages)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			cpuErr := make(chan error, 1)
			go func() { cpuErr <- proc.BootCPUs(ctx, ncpu) }()

			rootDone := make(chan error, 1)
			root, err := proc.InitProc(0)
			if err != 0 {
				return fmt.Errorf("init proc: %v", err)
			}
			proc.Root = root
			proc.StartProc(root, root, func(p *proc.Proc_t) {
				rootDone <- runRoot(p, image, catPath)
			})

			select {
			case err := <-rootDone:
				cancel()
				<-cpuErr
				return err
			case err := <-cpuErr:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&image, "image", "disk.img", "disk image to mount as the root filesystem")
	cmd.Flags().StringVar(&catPath, "cat", "", "optional file to read and print after mounting")
	cmd.Flags().IntVar(&ncpu, "ncpu", proc.NCPU, "number of simulated CPUs")
	cmd.Flags().IntVar(&npages, "npages", 1<<14, "pages of simulated physical memory")
	return cmd
}

// runRoot is the root process's body: mount, list "/", optionally print
// one file, unmount.
func runRoot(p *proc.Proc_t, image, catPath string) error {
	log.Printf("boot: pid %d mounting %s", p.Pid, image)
	f := ufs.BootMemFS(image)
	defer ufs.ShutdownFS(f)

	ents, err := f.Ls(ustr.MkUstrRoot())
	if err != 0 {
		return fmt.Errorf("ls /: %v", err)
	}
	for name, st := range ents {
		fmt.Printf("%8d  %s\n", st.Size(), name)
	}

	if catPath != "" {
		data, err := f.Read(ustr.Ustr(catPath))
		if err != 0 {
			return fmt.Errorf("read %s: %v", catPath, err)
		}
		fmt.Printf("%s", data)
	}
	return nil
}
