// Command aioringctl exercises a System's lifecycle from the command
// line: setup a context, seed an in-memory file, submit one read of it,
// reap the completion, and tear down.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ioplex/aioring/internal/logging"

	aioring "github.com/ioplex/aioring"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var events uint32
	var verbose bool

	root := &cobra.Command{
		Use:   "aioringctl",
		Short: "Exercise an in-process aioring System end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(events, verbose)
		},
	}
	root.Flags().Uint32Var(&events, "events", 8, "requested ring capacity")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	return root
}

func runDemo(events uint32, verbose bool) error {
	cfg := aioring.DefaultConfig()
	if verbose {
		cfg.Logger = logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: os.Stderr})
	}
	mem := aioring.NewMemoryBackend()
	if err := mem.CreateFile(3, 4096); err != nil {
		return err
	}
	cfg.Backend = mem

	sys, err := aioring.NewSystem(cfg)
	if err != nil {
		return fmt.Errorf("new system: %w", err)
	}
	defer sys.Close()

	handle, err := sys.Setup(events)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	fmt.Printf("setup ok: handle=%#x\n", handle)

	payload := []byte("hello from aioringctl")
	if _, err := mem.WriteAt(3, payload, 0); err != nil {
		return fmt.Errorf("seed write: %w", err)
	}

	buf := make([]byte, len(payload))
	n, err := sys.Submit(handle, []aioring.Descriptor{
		{Opcode: aioring.OpRead, FD: 3, Buf: buf, Offset: 0, DescriptorKey: 1, UserData: 0xA},
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Printf("submitted %d descriptor(s)\n", n)

	timeout := 2 * time.Second
	records, err := sys.GetEvents(handle, 1, 1, &timeout)
	if err != nil {
		return fmt.Errorf("get_events: %w", err)
	}
	for _, r := range records {
		fmt.Printf("completion: obj=%#x data=%#x res=%d payload=%q\n", r.Obj, r.Data, r.Res, string(buf))
	}

	if err := sys.Destroy(handle); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	fmt.Println("destroy ok")
	return nil
}
