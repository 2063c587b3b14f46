package cmds

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/fr8chat/pkg/chatrunner"
	"github.com/go-go-golems/fr8chat/pkg/replay"
)

func NewReplayCommand(app *App) *cobra.Command {
	var (
		o     sessionOptions
		delay time.Duration
		piece int
	)
	cmd := &cobra.Command{
		Use:   "replay <file|->",
		Short: "Assemble a captured event stream into a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.settings = app.Settings
			src := replay.New(args[0],
				replay.WithPacing(delay, piece),
				replay.WithLogger(log.Logger),
			)
			return app.runSession(cmd.Context(), src, o)
		},
	}
	o.addFlags(cmd, chatrunner.RunModeBlocking)
	cmd.Flags().StringVar(&o.prompt, "prompt", "replay", "Question recorded as the user turn")
	cmd.Flags().DurationVar(&delay, "pace", 0, "Pause before every read, e.g. 20ms")
	cmd.Flags().IntVar(&piece, "piece", 64, "Bytes per read when pacing")
	return cmd
}
