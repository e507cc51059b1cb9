package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tablewalk/internal/config"
	"tablewalk/internal/host"
	"tablewalk/internal/host/native"
	"tablewalk/internal/logging"
	"tablewalk/internal/signature"
	"tablewalk/internal/ui/colorize"
)

type decompileResult struct {
	Address       string   `json:"address"`
	Name          string   `json:"name"`
	Signature     string   `json:"signature"`
	Parameters    []string `json:"parameters"`
	PointerDepths []int    `json:"pointer_depths"`
}

func newDecompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompile <binary> <address>",
		Short: "Decompile the prototype of a single function",
		Long: `Resolve one address to a function and print its prototype. The native
backend also prints the disassembly it recovered the prototype from.`,
		Example: `
# Prototype and listing of one function
tablewalk decompile nvapi.dll 0x10001000

# Through Ghidra, as JSON
tablewalk decompile --backend ghidra --json nvapi.dll 0x10001000
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := config.ParseAddress(args[1])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, args[:1])
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			showDisasm, _ := cmd.Flags().GetBool("disasm")

			lg := logging.NewLogger()
			defer lg.Close()
			h, closeHost, err := openHost(cfg, lg)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", cfg.Binary, err)
			}
			defer closeHost()

			ctx := cmd.Context()
			fn, ok, err := h.FunctionAt(ctx, uint64(addr))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no function at %s", addr)
			}
			d, err := h.Decompile(ctx, fn, cfg.DecompileTimeout, host.Discard)
			if err != nil {
				return err
			}
			params, err := signature.Parse(signature.Host, d.Signature, d.Parameters)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(decompileResult{
					Address:       addr.String(),
					Name:          fn.Name,
					Signature:     d.Signature,
					Parameters:    params,
					PointerDepths: signature.PointerDepths(params),
				})
			}

			fmt.Fprintf(out, "; %s %s\n", addr, fn.Name)
			fmt.Fprintln(out, colorize.Signature(d.Signature))
			for i, p := range params {
				fmt.Fprintf(out, ";   %d: %s\n", i, p)
			}

			nh, isNative := h.(*native.Host)
			if !showDisasm || !isNative {
				return nil
			}
			stream, err := nh.Disassemble(fn.Entry)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, line := range strings.Split(strings.TrimSuffix(stream.String(), "\n"), "\n") {
				fmt.Fprintln(out, colorize.InstructionLine(line))
			}
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Print the result as JSON")
	cmd.Flags().Bool("disasm", true, "Print the disassembly (native backend)")
	return cmd
}
