package main

import (
	"encoding/json"

	"github.com/gordian-engine/gsequencer/gstatus"
	"github.com/spf13/cobra"
)

var cmdStatus = &cobra.Command{
	Use:   "status",
	Short: "Print the status of a running sequencer",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var flagStatus struct {
	Addr string
}

func init() {
	cmdStatus.Flags().StringVar(&flagStatus.Addr, "addr", "unix:///tmp/gseq.sock", "Status server address (host:port or unix://PATH)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := gstatus.NewClient(flagStatus.Addr).Status(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
