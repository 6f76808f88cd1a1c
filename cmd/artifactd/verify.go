package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"artifactd/internal/validate"
)

type outcomeView struct {
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
	LoadTested bool   `json:"load_tested,omitempty"`
	Inputs     int    `json:"inputs,omitempty"`
	Outputs    int    `json:"outputs,omitempty"`
}

func newVerifyCmd(root *options) *cobra.Command {
	var (
		sum      string
		size     int64
		loadTest bool
	)
	cmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Validate an artifact file and print the outcome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.resolve(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			vcfg := validate.Config{CPUWorkers: cfg.CPUWorkers, Logger: &log}
			if loadTest {
				vcfg.Engine = validate.NewLlamaEngine(2048)
			}
			out, err := validate.New(vcfg).Validate(cmd.Context(), args[0], validate.Expect{
				Checksum:  sum,
				SizeBytes: size,
				LoadTest:  loadTest,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcomeView{
				OK:         out.OK(),
				Reason:     string(out.Reason),
				Detail:     out.Detail,
				SizeBytes:  out.SizeBytes,
				SHA256:     out.Checksum,
				LoadTested: out.LoadTested,
				Inputs:     out.Inputs,
				Outputs:    out.Outputs,
			}); err != nil {
				return err
			}
			return out.Err()
		},
	}
	cmd.Flags().StringVar(&sum, "sha256", "", "Expected SHA-256 (hex)")
	cmd.Flags().Int64Var(&size, "size", 0, "Expected size in bytes (1% tolerance)")
	cmd.Flags().BoolVar(&loadTest, "load-test", false, "Open the file with the inference engine")
	return cmd
}
