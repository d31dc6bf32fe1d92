package commands

import (
	"github.com/spf13/cobra"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

func init() {
	RootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "send a START command, moving the daemon from Ready to Active",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := wire.EncodeRadioCommand(wire.RadioCommand{Command: wire.CommandStart})
		resp, err := sendRequest(addr, payload)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}
