package morisslave

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWhipCommandTest(
	t *testing.T,
	bot *MorisSlave,
	channelID string,
) (*WhipCommand, stubInteractionHandler) {
	t.Helper()
	i := newCommandInteraction(DiscordSlashCommandWhipSlaves, "user-1", channelID)
	u, _, err := bot.db.GetOrCreateUser(context.Background(), *getDiscordUser(i))
	require.NoError(t, err)
	handler := newStubInteractionHandler(t, i)
	cmd := NewWhipCommand(bot, u, i)
	cmd.handler = handler
	return cmd, handler
}

func TestWhipCommandPingsHelpers(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	category := session.addChannel(
		DefaultSubjectCategoryName,
		discordgo.ChannelTypeGuildCategory,
		"",
	)
	forum := session.addChannel(
		"🧮-Math",
		discordgo.ChannelTypeGuildForum,
		category.ID,
	)
	thread := session.addChannel(
		"stuck on problem 3",
		discordgo.ChannelTypeGuildPublicThread,
		forum.ID,
	)
	role := session.addRole("math-helper")

	cmd, _ := newWhipCommandTest(t, bot, thread.ID)

	state, response, err := cmd.execute(context.Background(), bot)
	require.NoError(t, err)
	assert.Equal(t, WhipCommandStatePinged, state)
	assert.Equal(
		t,
		fmt.Sprintf("<@&%s> - your subjects need you!", role.ID),
		response,
	)
	assert.Equal(t, role.ID, cmd.RoleID)
}

func TestWhipCommandRefusesOutsideSubjectThread(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	session.addChannel(
		DefaultSubjectCategoryName,
		discordgo.ChannelTypeGuildCategory,
		"",
	)
	general := session.addChannel(
		"general",
		discordgo.ChannelTypeGuildText,
		"",
	)

	cmd, _ := newWhipCommandTest(t, bot, general.ID)

	state, response, err := cmd.execute(context.Background(), bot)
	require.NoError(t, err)
	assert.Equal(t, WhipCommandStateRefused, state)
	assert.Equal(t, DefaultWhipRefusalMessage, response)
	assert.Empty(t, cmd.RoleID)
}

func TestRunWhipCommandPersistsOutcome(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	category := session.addChannel(
		DefaultSubjectCategoryName,
		discordgo.ChannelTypeGuildCategory,
		"",
	)
	forum := session.addChannel(
		"🧪-Chemistry",
		discordgo.ChannelTypeGuildForum,
		category.ID,
	)
	thread := session.addChannel(
		"titration help",
		discordgo.ChannelTypeGuildPublicThread,
		forum.ID,
	)
	role := session.addRole("chemistry-helper")

	cmd, handler := newWhipCommandTest(t, bot, thread.ID)

	ctx := WithLogger(context.Background(), bot.logger)
	bot.runWhipCommand(ctx, cmd)

	select {
	case edit := <-handler.callEdit:
		assert.Contains(
			t,
			stringPointerValue(edit.WebhookEdit.Content),
			role.ID,
		)
	case <-time.After(time.Second):
		t.Fatal("expected an interaction edit")
	}

	var stored WhipCommand
	require.NoError(t, bot.db.DB().Last(&stored).Error)
	assert.Equal(t, WhipCommandStatePinged, stored.State)
	assert.Equal(t, role.ID, stored.RoleID)
	assert.NotNil(t, stored.FinishedAt)
}
