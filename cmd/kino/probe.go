package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "report which decode backends are available on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-9s %-12s %s\n", "BACKEND", "CLASS", "STATUS", "CODECS")

			available := 0
			for _, b := range allBackends() {
				cap, err := b.Probe(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "%-10s %-9s %-12s %v\n", b.ID(), "-", "unavailable", err)
					continue
				}
				available++

				codecs := make([]string, 0, len(cap.Codecs))
				for c, limit := range cap.Codecs {
					codecs = append(codecs, fmt.Sprintf("%s(%dx%d)", c, limit.MaxWidth, limit.MaxHeight))
				}
				sort.Strings(codecs)
				fmt.Fprintf(out, "%-10s %-9s %-12s %s\n",
					cap.Backend, cap.Class, "available", strings.Join(codecs, " "))
			}

			if available == 0 {
				return fmt.Errorf("no decode backend available")
			}
			return nil
		},
	}
}
