package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

var (
	envVoxelID      uint32
	envChannelSpecs []string
)

func init() {
	envCmd.Flags().Uint32Var(&envVoxelID, "voxel", 0, "voxel identifier the update applies to")
	envCmd.Flags().StringArrayVar(&envChannelSpecs, "channel", nil, "usable channel index (repeatable)")
	RootCmd.AddCommand(envCmd)
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "push a channel availability update (UpdateEnvironment) for one voxel",
	RunE: func(cmd *cobra.Command, args []string) error {
		channels := make([]uint16, 0, len(envChannelSpecs))
		for _, spec := range envChannelSpecs {
			ch, err := strconv.ParseUint(spec, 10, 16)
			if err != nil {
				return fmt.Errorf("--channel %q: %w", spec, err)
			}
			channels = append(channels, uint16(ch))
		}

		payload := wire.EncodeUpdateEnvironment(wire.Environment{
			VoxelID:        envVoxelID,
			ChannelsUsable: channels,
		})
		resp, err := sendRequest(addr, payload)
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}
