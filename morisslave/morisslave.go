package morisslave

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

var defaultLogWriter io.Writer = os.Stdout

// Set at build time, e.g.:
// -ldflags "-X github.com/RedRozio/moris-slave/morisslave.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// MorisSlave is the bot: it owns the Discord connection, the database,
// the status API server, and dispatches incoming interactions to the
// command flows.
type MorisSlave struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      DBI
	discord *Discord
	api     *API

	selections *selectionRegistry

	runMu      sync.Mutex
	signalStop chan struct{}
	startedAt  time.Time
}

// New validates nothing yet - it wires the bot together from the given
// config. Call [MorisSlave.Run] to validate and start it.
func New(config *Config) (*MorisSlave, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	m := &MorisSlave{config: config}

	m.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     m.config.LogLevel,
			AddSource: true,
		},
	)
	m.logger = slog.New(m.logHandler)
	slog.SetDefault(m.logger)

	m.selections = newSelectionRegistry(m.logger)

	m.config.Discord.httpClient = m.config.HTTPClient

	disc, err := newDiscord(m.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     m.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     m.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	m.discord = disc
	disc.bot = m

	if config.API.Enabled {
		api, apiErr := newAPI(m, config.API)
		if apiErr != nil {
			errs = append(errs, apiErr)
		}
		m.api = api
	}

	return m, errors.Join(errs...)
}

func (m *MorisSlave) ValidateConfig() error {
	return structValidator.Struct(m.config)
}

// RegisterSlashCommands registers the bot's slash commands with the
// Discord API, via the bulk overwrite endpoint.
func (m *MorisSlave) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if m.discord.session == nil {
		session, err := m.discord.newSession()
		if err != nil {
			return nil, err
		}
		m.discord.session = session
	}
	return m.discord.registerCommands(options...)
}

// Run starts the bot: opens the database, connects to the discord
// gateway, serves the status API if enabled, and blocks until the
// context is cancelled.
func (m *MorisSlave) Run(ctx context.Context) error {
	// prevents concurrent runs
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.signalStop = make(chan struct{}, 1)
	m.startedAt = time.Now()
	logger := m.logger

	if err := m.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", m.config))

	startCtx, startCancel := context.WithTimeout(ctx, m.config.StartupTimeout)
	defer startCancel()

	gormDB, err := CreateDB(startCtx, m.config.DatabaseType, m.config.Database)
	if err != nil {
		logger.Error("error initializing database", tint.Err(err))
		return err
	}
	m.db = NewDatabase(
		gormDB,
		m.logger,
		m.config.DatabaseType == dbTypePostgres,
	)
	m.db.LoadUsers()

	if m.discord.session == nil {
		session, sessionErr := m.discord.newSession()
		if sessionErr != nil {
			logger.Error("error creating discord session", tint.Err(sessionErr))
			return sessionErr
		}
		m.discord.session = session
	}

	m.discordRemoveHandlers()
	m.discordgoAddHandlers(ctx)

	if err = m.discord.session.Open(); err != nil {
		logger.Error("error opening discord session", tint.Err(err))
		return err
	}
	defer func() {
		if closeErr := m.discord.session.Close(); closeErr != nil {
			logger.Error("error closing discord session", tint.Err(closeErr))
		}
	}()

	if m.api != nil {
		go func() {
			httpErr := m.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving status API", tint.Err(httpErr))
			}
		}()
	}

	logger.InfoContext(ctx, "bot started")

	select {
	case <-ctx.Done():
		logger.Warn("context canceled, shutting down")
	case <-m.signalStop:
		logger.Warn("got stop signal, shutting down")
		cancel()
	}

	shutdownTimer := time.AfterFunc(
		m.config.ShutdownTimeout,
		func() {
			logger.Error("shutdown timeout exceeded, exiting")
			os.Exit(1)
		},
	)
	defer shutdownTimer.Stop()

	return nil
}

// Stop signals Run to shut down.
func (m *MorisSlave) Stop() {
	select {
	case m.signalStop <- struct{}{}:
	default:
	}
}

func (m *MorisSlave) discordRemoveHandlers() {
	for _, h := range m.discord.discordgoRemoveHandlerFuncs {
		h()
	}
	m.discord.discordgoRemoveHandlerFuncs = nil
}

// discordgoAddHandlers registers the gateway event handlers.
func (m *MorisSlave) discordgoAddHandlers(ctx context.Context) {
	d := m.discord
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(
			func(s *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := GatewayHandler{
					session:     d.session,
					interaction: i,
					logger: d.logger.With(
						loggerNameKey,
						"gateway_handler",
					),
				}
				m.handleInteractionAsync(ctx, handler)
			},
		),
	)
}

// handleRecover handles the recovery from a panic in a command goroutine.
func (*MorisSlave) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, isErr := rc.(error); isErr {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}

// handleInteractionAsync runs handleInteraction on its own goroutine.
// The gateway dispatches events sequentially (SyncEvents is set), and a
// command flow may block waiting on a select-menu choice. That choice
// arrives as another gateway event, so handling must never occupy the
// dispatch goroutine.
func (m *MorisSlave) handleInteractionAsync(
	ctx context.Context,
	handler InteractionHandler,
) {
	go func() {
		defer func() {
			if rc := recover(); rc != nil {
				m.handleRecover(ctx, rc)
			}
		}()
		m.handleInteraction(ctx, handler)
	}()
}

// handleInteraction processes incoming Discord interactions: slash
// commands are dispatched to their command flows, and select-menu
// component events are routed to any pending selection prompt.
func (m *MorisSlave) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if interactionLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := m.db.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionMessageComponent:
		m.handleComponentInteraction(ctx, handler, discordUser)
	case discordgo.InteractionApplicationCommand:
		m.handleCommandInteraction(ctx, handler, discordUser)
	default:
		logger.WarnContext(
			ctx,
			"unhandled interaction type",
			"type", i.Type.String(),
		)
	}
}

// handleComponentInteraction routes a select-menu event to the pending
// selection it belongs to, if any. Events from users other than the
// original requester are acknowledged but never accepted.
func (m *MorisSlave) handleComponentInteraction(
	ctx context.Context,
	handler InteractionHandler,
	discordUser *discordgo.User,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	data := i.MessageComponentData()
	if len(data.Values) == 0 {
		logger.WarnContext(ctx, "component interaction with no values")
		return
	}

	// ack the component event so discord doesn't show a failure -
	// the original prompt message is edited by the waiting flow
	_ = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		},
	)

	accepted := m.selections.dispatch(data.CustomID, discordUser.ID, data.Values[0])
	if !accepted {
		logger.InfoContext(
			ctx,
			"selection not accepted",
			"custom_id", data.CustomID,
			"user_id", discordUser.ID,
		)
	}
}

// handleCommandInteraction acknowledges a slash command, records the
// invoking user, and runs the matching command flow.
func (m *MorisSlave) handleCommandInteraction(
	ctx context.Context,
	handler InteractionHandler,
	discordUser *discordgo.User,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	commandName := i.ApplicationCommandData().Name

	u, _, err := m.db.GetOrCreateUser(ctx, *discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error getting user", tint.Err(err))
		handler.Delete(ctx)
		return
	}
	logger = logger.With(slog.Group("user", userLogAttrs(*u)...))
	ctx = WithLogger(ctx, logger)

	if ackErr := handler.Respond(
		ctx,
		m.discord.ackResponse(commandName),
	); ackErr != nil {
		logger.ErrorContext(ctx, "error acknowledging command", tint.Err(ackErr))
		return
	}

	defer func() {
		if rc := recover(); rc != nil {
			m.handleRecover(ctx, rc)
			errMsg := DefaultDiscordErrorMessage
			_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &errMsg})
		}
	}()

	switch commandName {
	case DiscordSlashCommandCreateSubject:
		cmd := NewSubjectCommand(m, u, i)
		cmd.handler = handler
		m.runSubjectCommand(ctx, cmd)
	case DiscordSlashCommandBecomeHelper:
		cmd := NewHelperCommand(m, u, i)
		cmd.handler = handler
		m.runHelperCommand(ctx, cmd)
	case DiscordSlashCommandWhipSlaves:
		cmd := NewWhipCommand(m, u, i)
		cmd.handler = handler
		m.runWhipCommand(ctx, cmd)
	default:
		logger.WarnContext(ctx, "unknown command", "command", commandName)
		errMsg := DefaultDiscordErrorMessage
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &errMsg})
	}
}

// provisioner returns a request-scoped subject provisioner. The category
// memoization lives only as long as the returned value.
func (m *MorisSlave) provisioner(logger *slog.Logger) *subjectProvisioner {
	return newSubjectProvisioner(
		m.discord.session,
		m.config.Subjects,
		m.config.Discord.GuildID,
		logger,
	)
}

// InteractionHandler defines the interface for responding to a Discord
// interaction, so command flows don't care how the interaction arrived.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes an interaction response.
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// Followup sends a followup message for the interaction.
	Followup(
		ctx context.Context,
		data *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
	return err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := w.session.InteractionResponseDelete(
		w.interaction.Interaction,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	data *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		data,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup message", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

var _ InteractionHandler = GatewayHandler{}
