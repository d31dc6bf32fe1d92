package commands

import (
	"github.com/spf13/cobra"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

func init() {
	RootCmd.AddCommand(stopCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "send a STOP command, draining tasks and returning to Finished",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := wire.EncodeRadioCommand(wire.RadioCommand{Command: wire.CommandStop})
		resp, err := sendRequest(addr, payload)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}
