package cmds

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/fr8chat/pkg/mockbackend"
)

func NewServeMockCommand() *cobra.Command {
	var (
		addr       string
		frameDelay time.Duration
		chunkRunes int
	)
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Serve canned answers on the chat backend API",
		Long: "Runs a local stand-in for the chat backend. Questions mentioning " +
			"\"chart\" or \"map\" get those payloads, \"fail\" ends in an error frame.",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := mockbackend.New(
				mockbackend.WithFrameDelay(frameDelay),
				mockbackend.WithChunkRunes(chunkRunes),
				mockbackend.WithLogger(log.Logger),
			)
			return srv.Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().DurationVar(&frameDelay, "frame-delay", 30*time.Millisecond, "Pause between frames")
	cmd.Flags().IntVar(&chunkRunes, "chunk-runes", mockbackend.DefaultChunkRunes, "Characters per data frame")
	return cmd
}
