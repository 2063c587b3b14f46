package cmds

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/chatrunner"
)

func NewChatCommand(app *App) *cobra.Command {
	var (
		o         sessionOptions
		newThread bool
	)
	cmd := &cobra.Command{
		Use:   "chat [question...]",
		Short: "Ask the freight data assistant",
		Long: "Send questions to the chat backend and show the streamed answer, " +
			"with its SQL query, chart and map.\n\n" +
			"Without a question the terminal UI starts empty. Blocking mode prints " +
			"the transcript and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.settings = app.Settings
			if newThread {
				o.settings.ThreadID = uuid.NewString()
				log.Info().Str("thread_id", o.settings.ThreadID).Msg("starting a new thread")
			}
			o.prompt = strings.Join(args, " ")

			client, err := chatclient.New(o.settings.APIURL, chatclient.WithLogger(log.Logger))
			if err != nil {
				return err
			}
			return app.runSession(cmd.Context(), client, o)
		},
	}
	o.addFlags(cmd, chatrunner.RunModeChat)
	cmd.Flags().BoolVar(&newThread, "new-thread", false, "Generate a fresh thread id for this run")
	return cmd
}
