package morisslave

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

// newTestBot creates a MorisSlave wired to an in-memory mock Discord
// session and a temp-file SQLite database.
func newTestBot(t testing.TB) (*MorisSlave, *mockDiscordSession) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "morisslave_test.sqlite3")
	cfg.DatabaseType = dbTypeSQLite
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app-id"
	cfg.Discord.GuildID = "test-guild"
	cfg.Discord.StartupMessage = ""
	cfg.Discord.CustomStatus = ""

	bot, err := New(cfg)
	require.NoError(t, err)

	gormDB, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	bot.db = NewDatabase(gormDB, bot.logger, false)

	session := newMockDiscordSession()
	bot.discord.session = session
	return bot, session
}

type mockChannelMessage struct {
	ChannelID string
	Content   string
}

// mockDiscordSession is an in-memory DiscordSessionHandler: guild
// channels, roles, and members live in maps, and create calls mutate
// them the way the real API would.
type mockDiscordSession struct {
	mu       sync.Mutex
	nextID   int
	channels []*discordgo.Channel
	roles    []*discordgo.Role
	members  map[string]*discordgo.Member
	messages []mockChannelMessage
	handlers []any

	// interactionEdits records InteractionResponseEdit calls, so tests
	// driving the full gateway path can observe responses
	interactionEdits chan *discordgo.WebhookEdit

	channelCreateCalls int
	roleAddCalls       int
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		nextID:           1000,
		members:          map[string]*discordgo.Member{},
		interactionEdits: make(chan *discordgo.WebhookEdit, 100),
	}
}

func (m *mockDiscordSession) newID() string {
	m.nextID++
	return fmt.Sprintf("%d", m.nextID)
}

// addChannel seeds a channel and returns its generated ID.
func (m *mockDiscordSession) addChannel(
	name string,
	channelType discordgo.ChannelType,
	parentID string,
) *discordgo.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := &discordgo.Channel{
		ID:       m.newID(),
		Name:     name,
		Type:     channelType,
		ParentID: parentID,
	}
	m.channels = append(m.channels, ch)
	return ch
}

func (m *mockDiscordSession) addRole(name string) *discordgo.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := &discordgo.Role{ID: m.newID(), Name: name}
	m.roles = append(m.roles, role)
	return role
}

func (m *mockDiscordSession) addMember(userID string, roleIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[userID] = &discordgo.Member{
		User:  &discordgo.User{ID: userID},
		Roles: roleIDs,
	}
}

func (m *mockDiscordSession) sentMessages() []mockChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make([]mockChannelMessage, len(m.messages))
	copy(rv, m.messages)
	return rv
}

func (m *mockDiscordSession) Open() error  { return nil }
func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) AddHandler(h any) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	return func() {}
}

// dispatchInteraction invokes the registered InteractionCreate handlers
// synchronously, the way the gateway's sequential dispatch loop does.
func (m *mockDiscordSession) dispatchInteraction(i *discordgo.InteractionCreate) {
	m.mu.Lock()
	handlers := make([]any, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.InteractionCreate)); ok {
			fn(nil, i)
		}
	}
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(
		m.messages,
		mockChannelMessage{ChannelID: channelID, Content: message},
	)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch.ID == channelID {
			return ch, nil
		}
	}
	return nil, &discordgo.RESTError{Message: &discordgo.APIErrorMessage{
		Message: "Unknown Channel",
	}}
}

func (m *mockDiscordSession) GuildChannels(
	string,
	...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make([]*discordgo.Channel, len(m.channels))
	copy(rv, m.channels)
	return rv, nil
}

func (m *mockDiscordSession) GuildChannelCreateComplex(
	_ string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelCreateCalls++
	ch := &discordgo.Channel{
		ID:       m.newID(),
		Name:     data.Name,
		Type:     data.Type,
		ParentID: data.ParentID,
	}
	m.channels = append(m.channels, ch)
	return ch, nil
}

func (m *mockDiscordSession) GuildRoles(
	string,
	...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv := make([]*discordgo.Role, len(m.roles))
	copy(rv, m.roles)
	return rv, nil
}

func (m *mockDiscordSession) GuildRoleCreate(
	_ string,
	data *discordgo.RoleParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := &discordgo.Role{ID: m.newID(), Name: data.Name}
	if data.Color != nil {
		role.Color = *data.Color
	}
	m.roles = append(m.roles, role)
	return role, nil
}

func (m *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[userID]
	if !ok {
		return nil, &discordgo.RESTError{Message: &discordgo.APIErrorMessage{
			Message: "Unknown Member",
		}}
	}
	return member, nil
}

func (m *mockDiscordSession) GuildMemberRoleAdd(
	_ string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleAddCalls++
	member, ok := m.members[userID]
	if !ok {
		member = &discordgo.Member{User: &discordgo.User{ID: userID}}
		m.members[userID] = member
	}
	member.Roles = append(member.Roles, roleID)
	return nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := make([]*discordgo.ApplicationCommand, 0, len(commands))
	for _, c := range commands {
		cp := *c
		cp.ID = m.newID()
		created = append(created, &cp)
	}
	return created, nil
}

func (m *mockDiscordSession) InteractionRespond(
	*discordgo.Interaction,
	*discordgo.InteractionResponse,
	...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.interactionEdits <- e
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) InteractionResponseDelete(
	*discordgo.Interaction,
	...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	*discordgo.Interaction,
	bool,
	*discordgo.WebhookParams,
	...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(string) error { return nil }

func (m *mockDiscordSession) SetHTTPClient(*http.Client) {}

type stubEdit struct {
	WebhookEdit *discordgo.WebhookEdit
}

func newStubInteractionHandler(
	t testing.TB,
	i *discordgo.InteractionCreate,
) stubInteractionHandler {
	t.Helper()
	return stubInteractionHandler{
		interaction: i,
		logger:      slog.Default().With("test_name", t.Name()),
		callRespond: make(chan *discordgo.InteractionResponse, 100),
		callEdit:    make(chan *stubEdit, 100),
		callDelete:  make(chan struct{}, 100),
	}
}

// stubInteractionHandler is an InteractionHandler that records calls
// on buffered channels, so tests can observe responses as they happen.
type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger

	callRespond chan *discordgo.InteractionResponse
	callEdit    chan *stubEdit
	callDelete  chan struct{}
}

func (s stubInteractionHandler) Respond(
	_ context.Context,
	i *discordgo.InteractionResponse,
) error {
	s.callRespond <- i
	return nil
}

func (s stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.callEdit <- &stubEdit{WebhookEdit: e}
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) Delete(
	context.Context,
	...discordgo.RequestOption,
) {
	s.callDelete <- struct{}{}
}

func (s stubInteractionHandler) Followup(
	context.Context,
	*discordgo.WebhookParams,
	...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (s stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

var _ InteractionHandler = stubInteractionHandler{}

// newCommandInteraction builds an InteractionCreate for the given slash
// command, invoked by the given user from the given channel.
func newCommandInteraction(
	commandName string,
	userID string,
	channelID string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        fmt.Sprintf("interaction-%s-%s", commandName, userID),
			AppID:     "test-app-id",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "test-guild",
			ChannelID: channelID,
			Member: &discordgo.Member{
				User: &discordgo.User{
					ID:       userID,
					Username: "tester",
				},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    commandName,
				Options: options,
			},
		},
	}
}

func stringOption(
	name string,
	value string,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Type:  discordgo.ApplicationCommandOptionString,
		Name:  name,
		Value: value,
	}
}
