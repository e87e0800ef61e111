// Command ssmctl inspects, validates and extracts units from saved-state
// files produced by package ssm, without needing the units that wrote
// them registered anywhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyberus-technology/go-ssm"
)

func main() {
	root := &cobra.Command{
		Use:   "ssmctl",
		Short: "Inspect and validate ssm saved-state files",
		Long: `ssmctl reads the structural layout of a saved-state file (the file
header, each unit's header and record stream, the directory and the
footer) directly off disk, independent of any unit registered with an
SSM. It is a diagnostic tool, not a load path: use ssm.Load in-process
for anything that needs unit semantics back.`,
	}

	root.AddCommand(newInspectCmd(), newValidateCmd(), newCatUnitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Dump a saved-state file's header, units, directory and footer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := ssm.Inspect(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printReport(cmd, rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON instead of a table")
	return cmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Re-derive every structural CRC and fail on the first mismatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ssm.ValidateFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
			return nil
		},
	}
	return cmd
}

func newCatUnitCmd() *cobra.Command {
	var instance uint32
	var out string
	cmd := &cobra.Command{
		Use:   "cat-unit FILE NAME",
		Short: "Dump one unit's decoded payload bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := ssm.UnitPayload(args[0], args[1], instance)
			if err != nil {
				return err
			}
			if out == "" {
				_, err := cmd.OutOrStdout().Write(payload)
				return err
			}
			return os.WriteFile(out, payload, 0o644)
		},
	}
	cmd.Flags().Uint32Var(&instance, "instance", 0, "unit instance number")
	cmd.Flags().StringVar(&out, "out", "", "write the payload to this file instead of stdout")
	return cmd
}

func printReport(cmd *cobra.Command, rep *ssm.FileReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "version:      %d.%d\n", rep.VersionMajor, rep.VersionMinor)
	fmt.Fprintf(w, "host:         %d-bit, GCPhys=%d GCPtr=%d\n", rep.HostBits, rep.GCPhysBytes, rep.GCPtrBytes)
	fmt.Fprintf(w, "flags:        live_save=%v checksummed=%v\n", rep.LiveSave, rep.Checksummed)
	fmt.Fprintf(w, "max_decompressed_size: %d\n", rep.MaxDecompressedSize)
	fmt.Fprintf(w, "units:        %d\n", len(rep.Units))
	for _, u := range rep.Units {
		fmt.Fprintf(w, "  %-24s instance=%-4d version=%-4d pass=%-4d offset=%-10d bytes=%-10d stream_crc=%08x\n",
			u.Name, u.Instance, u.Version, u.Pass, u.Offset, u.PayloadBytes, u.StreamCRC)
	}
	fmt.Fprintf(w, "directory:    %d entries\n", rep.DirectoryEntries)
	fmt.Fprintf(w, "footer:       offset=%d final_crc=%08x\n", rep.FooterOffset, rep.FinalCRC)
}
