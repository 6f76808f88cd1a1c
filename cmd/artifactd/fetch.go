package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"artifactd/internal/catalog"
	"artifactd/internal/download"
	"artifactd/pkg/types"
)

func newFetchCmd(root *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <id>",
		Short: "Download and verify one catalog artifact, printing progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.resolve(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			descs, err := catalog.Load(cfg.Catalog)
			if err != nil {
				return err
			}
			d, ok := findDescriptor(descs, args[0])
			if !ok {
				return fmt.Errorf("artifact %q not in catalog %s", args[0], cfg.Catalog)
			}
			st := buildStack(cfg, &log)
			updates, cancel := st.engine.Tracker().Subscribe(d.ID)
			done := make(chan struct{})
			go func() {
				defer close(done)
				printProgress(cmd.OutOrStdout(), updates)
			}()
			path, err := st.files.EnsureFile(cmd.Context(), d)
			cancel()
			<-done
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func findDescriptor(descs []types.Descriptor, id string) (types.Descriptor, bool) {
	for _, d := range descs {
		if d.ID == id {
			return d, true
		}
	}
	return types.Descriptor{}, false
}

// printProgress writes one line per phase change or whole-percent step.
func printProgress(w io.Writer, updates <-chan download.Progress) {
	var lastPhase download.Phase
	lastPct := -1
	for p := range updates {
		pct := -1
		if p.TotalBytes > 0 {
			pct = int(p.BytesTransferred * 100 / p.TotalBytes)
		}
		if p.Phase == lastPhase && pct == lastPct {
			continue
		}
		lastPhase, lastPct = p.Phase, pct
		switch p.Phase {
		case download.PhaseDownloading:
			if pct >= 0 {
				fmt.Fprintf(w, "downloading %3d%% (%d/%d bytes)\n", pct, p.BytesTransferred, p.TotalBytes)
			} else {
				fmt.Fprintf(w, "downloading %d bytes\n", p.BytesTransferred)
			}
		case download.PhaseRetrying:
			fmt.Fprintf(w, "retrying attempt %d/%d in %dms: %s\n", p.Attempt, p.MaxAttempts, p.BackoffMs, p.Cause)
		case download.PhaseFailed:
			fmt.Fprintf(w, "failed: %s\n", p.Cause)
		case download.PhaseIdle:
		default:
			fmt.Fprintln(w, p.Phase)
		}
	}
}
