// Command walinspect opens a write-ahead log file read-only and renders
// what crash recovery would see: the dirty page table and transaction
// table an Analysis pass reconstructs, plus the lock context tree shape
// (empty, since locks are in-memory only and never touch the log).
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"storemy/pkg/concurrency/lock"
	"storemy/pkg/log/wal"
	"storemy/pkg/recovery"
)

func main() {
	walPath := flag.String("wal", "", "path to a WAL file to inspect (required)")
	flag.Parse()

	if *walPath == "" {
		fmt.Fprintln(os.Stderr, "walinspect: -wal is required")
		os.Exit(2)
	}

	log, err := wal.Open(*walPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "walinspect: open %s: %v\n", *walPath, err)
		os.Exit(1)
	}
	defer log.Close()

	mgr := recovery.NewManager(log, recovery.DefaultConfig())
	if err := mgr.Analyze(); err != nil {
		fmt.Fprintf(os.Stderr, "walinspect: analyze %s: %v\n", *walPath, err)
		os.Exit(1)
	}

	root := lock.NewRoot(lock.NewManager())

	m := newModel(mgr, root)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "walinspect: %v\n", err)
		os.Exit(1)
	}
}
