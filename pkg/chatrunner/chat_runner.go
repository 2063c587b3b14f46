package chatrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	input "github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/config"
	"github.com/go-go-golems/fr8chat/pkg/redisstream"
	"github.com/go-go-golems/fr8chat/pkg/render"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
	"github.com/go-go-golems/fr8chat/pkg/ui"
)

// RunMode defines the execution mode for the chat session.
type RunMode string

const (
	RunModeChat        RunMode = "chat"
	RunModeInteractive RunMode = "interactive"
	RunModeBlocking    RunMode = "blocking"
)

// ParseRunMode accepts the names used on the command line.
func ParseRunMode(s string) (RunMode, error) {
	switch m := RunMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RunModeChat, RunModeInteractive, RunModeBlocking:
		return m, nil
	case "":
		return RunModeChat, nil
	default:
		return "", errors.Errorf("unknown run mode %q", s)
	}
}

// ChatSession holds the validated configuration and executes the chat logic.
// It's typically created and run by the ChatBuilder.
type ChatSession struct {
	ctx            context.Context
	assembler      *assembler.Assembler
	forwarder      *ui.Forwarder
	settings       config.Settings
	bus            *redisstream.Bus
	modelOptions   []ui.Option
	programOptions []tea.ProgramOption
	mode           RunMode
	prompt         string
	format         render.Format
	styled         bool
	width          int
	stats          bool
	outputWriter   io.Writer
	logger         zerolog.Logger
}

// Assembler exposes the assembler driving this session.
func (cs *ChatSession) Assembler() *assembler.Assembler {
	return cs.assembler
}

// Run executes the chat session based on its configured mode.
func (cs *ChatSession) Run() error {
	switch cs.mode {
	case RunModeChat:
		if strings.TrimSpace(cs.prompt) != "" {
			if _, ok := cs.assembler.Send(cs.ctx, cs.prompt); !ok {
				return errors.New("initial prompt was rejected")
			}
		}
		return cs.runChatInternal()
	case RunModeInteractive:
		return cs.runInteractiveInternal()
	case RunModeBlocking:
		return cs.runBlockingInternal()
	default:
		return errors.Errorf("unknown run mode: %v", cs.mode)
	}
}

// runChatInternal runs the terminal UI. Records that went over the bus are
// forwarded into the program by a router handler running alongside it.
func (cs *ChatSession) runChatInternal() error {
	eg, childCtx := errgroup.WithContext(cs.ctx)
	childCtx, cancel := context.WithCancel(childCtx)
	defer cancel()

	backend := ui.NewBackend(cs.assembler)
	model := ui.NewModel(childCtx, backend, cs.forwarder, cs.modelOptions...)
	p := tea.NewProgram(model, cs.programOptions...)

	if cs.bus != nil {
		router, err := message.NewRouter(message.RouterConfig{}, redisstream.NewWatermillLogger(cs.logger))
		if err != nil {
			return errors.Wrap(err, "failed to create record router")
		}
		router.AddNoPublisherHandler("ui-records", cs.bus.Topic, cs.bus.Subscriber, ui.StepRecordForwardFunc(p))

		eg.Go(func() error {
			defer cancel()
			if err := router.Run(childCtx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "record router")
			}
			return nil
		})
		eg.Go(func() error {
			<-childCtx.Done()
			cs.logger.Debug().Msg("closing record router")
			return router.Close()
		})

		select {
		case <-router.Running():
		case <-childCtx.Done():
			return eg.Wait()
		}
	}

	eg.Go(func() error {
		defer cancel()
		cs.logger.Debug().Msg("starting bubbletea program")
		_, runErr := p.Run()
		cs.logger.Debug().Err(runErr).Msg("bubbletea program finished")
		backend.Interrupt()

		if errors.Is(runErr, tea.ErrProgramKilled) && childCtx.Err() != nil {
			return nil
		}
		return runErr
	})
	// p.Run does not watch childCtx on its own.
	eg.Go(func() error {
		<-childCtx.Done()
		p.Quit()
		return nil
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
		return nil
	}
	return err
}

// runBlockingInternal sends the prompt, waits until the answer finished loading
// and writes the transcript in the requested format.
func (cs *ChatSession) runBlockingInternal() error {
	ctx := cs.ctx
	if cs.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cs.settings.Timeout)
		defer cancel()
	}

	s, ok := cs.assembler.SendAndWait(ctx, cs.prompt)
	if !ok {
		return errors.New("nothing to send: prompt is empty")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Errorf("no complete answer within %s", cs.settings.Timeout)
	}
	if cs.ctx.Err() == context.Canceled {
		log.Debug().Msg("blocking chat cancelled by context")
		return nil
	}

	snap := cs.assembler.Snapshot()
	if err := render.Export(cs.outputWriter, snap, cs.format, cs.styled, cs.width); err != nil {
		return errors.Wrap(err, "failed to write output")
	}
	if cs.format == render.FormatText || cs.format == render.FormatMarkdown {
		_, _ = fmt.Fprintln(cs.outputWriter)
	}

	if cs.stats {
		last, _ := snap.Last()
		st, err := render.ComputeStats(last.Content)
		if err != nil {
			cs.logger.Warn().Err(err).Msg("token count unavailable")
		}
		render.PrintStats(cs.outputWriter, st)
	}

	if err := s.Err(); err != nil {
		return errors.Wrap(err, "chat request failed")
	}
	return nil
}

// runInteractiveInternal handles initial blocking run + optional chat transition.
func (cs *ChatSession) runInteractiveInternal() error {
	log.Debug().Msg("Running initial blocking step for interactive mode")
	err := cs.runBlockingInternal()
	if err != nil {
		if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
			log.Debug().Msg("Initial blocking step cancelled by context")
			return nil
		}
		return errors.Wrap(err, "error during initial blocking step")
	}

	// Stdout might be redirected, so ask on stderr.
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.Debug().Msg("Stderr is not a TTY, skipping chat continuation prompt")
		return nil
	}

	continueInChat, err := askForChatContinuation(os.Stderr)
	if err != nil {
		return errors.Wrap(err, "failed to ask for chat continuation")
	}
	if !continueInChat {
		log.Debug().Msg("User chose not to continue in chat mode")
		return nil
	}

	log.Debug().Msg("User chose to continue, starting chat UI")
	return cs.runChatInternal()
}

// --- ChatBuilder ---

// ChatBuilder provides a fluent API for configuring and running a chat session.
type ChatBuilder struct {
	err            error
	ctx            context.Context
	transport      assembler.Transport
	settings       config.Settings
	bus            *redisstream.Bus
	observers      []assembler.Observer
	modelOptions   []ui.Option
	programOptions []tea.ProgramOption
	mode           RunMode
	prompt         string
	format         render.Format
	styled         bool
	width          int
	stats          bool
	outputWriter   io.Writer
	progressWriter io.Writer
	logger         zerolog.Logger
}

// NewChatBuilder creates a new builder with default settings.
func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{
		ctx:            context.Background(),
		settings:       config.Defaults(),
		programOptions: []tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithAltScreen()},
		modelOptions:   []ui.Option{ui.WithTitle("fr8chat")},
		mode:           RunModeChat,
		format:         render.FormatText,
		width:          render.DefaultWidth,
		outputWriter:   os.Stdout,
		logger:         log.Logger,
	}
}

func (b *ChatBuilder) WithContext(ctx context.Context) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if ctx == nil {
		b.err = errors.New("context cannot be nil")
		return b
	}
	b.ctx = ctx
	return b
}

// WithTransport sets where chat requests go. (Required)
func (b *ChatBuilder) WithTransport(t assembler.Transport) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if t == nil {
		b.err = errors.New("transport cannot be nil")
		return b
	}
	b.transport = t
	return b
}

func (b *ChatBuilder) WithSettings(s config.Settings) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if err := s.Validate(); err != nil {
		b.err = errors.Wrap(err, "invalid settings")
		return b
	}
	b.settings = s
	return b
}

// WithBus publishes every applied record on the bus and, in chat mode, shows
// the last one in the status line.
func (b *ChatBuilder) WithBus(bus *redisstream.Bus) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.bus = bus
	return b
}

// WithObserver adds an observer next to the UI forwarder.
func (b *ChatBuilder) WithObserver(o assembler.Observer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if o != nil {
		b.observers = append(b.observers, o)
	}
	return b
}

func (b *ChatBuilder) WithModelOptions(opts ...ui.Option) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.modelOptions = append(b.modelOptions, opts...)
	return b
}

// WithProgramOptions adds options for configuring the bubbletea program.
func (b *ChatBuilder) WithProgramOptions(opts ...tea.ProgramOption) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.programOptions = append(b.programOptions, opts...)
	return b
}

// WithMode sets the execution mode (chat, interactive, blocking).
func (b *ChatBuilder) WithMode(mode RunMode) *ChatBuilder {
	if b.err != nil {
		return b
	}
	switch mode {
	case RunModeChat, RunModeInteractive, RunModeBlocking:
		b.mode = mode
	default:
		b.err = errors.Errorf("invalid run mode: %s", mode)
	}
	return b
}

// WithPrompt sets the first question. Blocking and interactive modes need one.
func (b *ChatBuilder) WithPrompt(prompt string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.prompt = prompt
	return b
}

// WithOutput sets how blocking mode prints the transcript.
func (b *ChatBuilder) WithOutput(format render.Format, styled bool, width int) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.format = format
	b.styled = styled
	if width > 0 {
		b.width = width
	}
	return b
}

func (b *ChatBuilder) WithStats(stats bool) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.stats = stats
	return b
}

// WithOutputWriter sets the writer for blocking or interactive modes.
// Defaults to os.Stdout.
func (b *ChatBuilder) WithOutputWriter(w io.Writer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if w == nil {
		b.err = errors.New("output writer cannot be nil")
		return b
	}
	b.outputWriter = w
	return b
}

// WithProgressWriter streams the answer text to w while it arrives in
// blocking mode.
func (b *ChatBuilder) WithProgressWriter(w io.Writer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.progressWriter = w
	return b
}

func (b *ChatBuilder) WithLogger(logger zerolog.Logger) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.logger = logger
	return b
}

// Build validates the configuration and wires the assembler.
func (b *ChatBuilder) Build() (*ChatSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.transport == nil {
		return nil, errors.New("transport is required (use WithTransport)")
	}
	if (b.mode == RunModeBlocking || b.mode == RunModeInteractive) && strings.TrimSpace(b.prompt) == "" {
		return nil, errors.Errorf("a prompt is required in %s mode", b.mode)
	}

	fwd := ui.NewForwarder()
	observers := append([]assembler.Observer{fwd}, b.observers...)
	if b.progressWriter != nil {
		observers = append(observers, newProgressPrinter(b.progressWriter))
	}

	options := []assembler.Option{
		assembler.WithObserver(fanOut(observers)),
		assembler.WithThreadID(b.settings.ThreadID),
		assembler.WithChunkSize(b.settings.ChunkSize),
		assembler.WithLogger(b.logger),
	}
	if b.bus != nil {
		options = append(options, assembler.WithSink(redisstream.NewSink(b.bus.Publisher, b.bus.Topic)))
	}

	return &ChatSession{
		ctx:            b.ctx,
		assembler:      assembler.New(b.transport, options...),
		forwarder:      fwd,
		settings:       b.settings,
		bus:            b.bus,
		modelOptions:   b.modelOptions,
		programOptions: b.programOptions,
		mode:           b.mode,
		prompt:         b.prompt,
		format:         b.format,
		styled:         b.styled,
		width:          b.width,
		stats:          b.stats,
		outputWriter:   b.outputWriter,
		logger:         b.logger.With().Str("component", "chatrunner").Logger(),
	}, nil
}

type fanOut []assembler.Observer

func (f fanOut) OnTranscript(s transcript.Snapshot) {
	for _, o := range f {
		o.OnTranscript(s)
	}
}

func (f fanOut) OnLoadingChanged(loading bool) {
	for _, o := range f {
		o.OnLoadingChanged(loading)
	}
}

// progressPrinter writes the growth of the open turn's content. A replaced
// content, such as an error message, is printed on a line of its own.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	turnID  string
	printed string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) OnTranscript(s transcript.Snapshot) {
	if s.OpenID == "" {
		return
	}
	turn, ok := s.Find(s.OpenID)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if turn.ID != p.turnID {
		p.turnID = turn.ID
		p.printed = ""
	}
	switch {
	case turn.Content == p.printed:
	case strings.HasPrefix(turn.Content, p.printed):
		_, _ = io.WriteString(p.w, turn.Content[len(p.printed):])
	default:
		_, _ = fmt.Fprintf(p.w, "\n%s", turn.Content)
	}
	p.printed = turn.Content
}

func (p *progressPrinter) OnLoadingChanged(loading bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !loading && p.printed != "" {
		_, _ = fmt.Fprintln(p.w)
	}
}

// askForChatContinuation prompts the user on the given writer (should be a TTY like os.Stderr)
// whether they want to continue in chat mode.
func askForChatContinuation(tty io.ReadWriter) (bool, error) {
	prompt := &input.UI{
		Writer: tty,
		Reader: tty,
	}

	_, _ = fmt.Fprint(tty, "\n")
	query := "Do you want to continue in chat mode? [Y/n]"
	answer, err := prompt.Ask(query, &input.Options{
		Default:  "y",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N", "":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get user input")
	}

	_, _ = fmt.Fprint(tty, "\n")

	return answer == "y" || answer == "Y" || answer == "", nil
}
