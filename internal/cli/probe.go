package cli

import (
	"github.com/spf13/cobra"

	"market-scanner/internal/app"
)

var (
	probeKind   string
	probeExtend bool
	probePid    int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Interactively narrow and edit values in client memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Probe(cmd.Context(), app.ProbeOptions{
			Pid:    probePid,
			Kind:   probeKind,
			Extend: probeExtend,
			In:     cmd.InOrStdin(),
			Out:    cmd.OutOrStdout(),
		})
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeKind, "kind", "int64", "Value kind: int32, int64 or text")
	probeCmd.Flags().BoolVar(&probeExtend, "extend", false, "Extend text reads to the surrounding terminators")
	probeCmd.Flags().IntVar(&probePid, "pid", 0, "Client process id (defaults to config)")
}
