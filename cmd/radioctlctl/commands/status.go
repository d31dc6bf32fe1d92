package commands

import (
	"github.com/spf13/cobra"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "query the daemon's current lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := wire.EncodeRadioCommand(wire.RadioCommand{Command: wire.CommandStatus})
		resp, err := sendRequest(addr, payload)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}
