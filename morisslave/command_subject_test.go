package morisslave

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubjectCommandTest(
	t *testing.T,
	bot *MorisSlave,
	name string,
	color string,
	emoji string,
) (*SubjectCommand, stubInteractionHandler) {
	t.Helper()
	i := newCommandInteraction(
		DiscordSlashCommandCreateSubject,
		"user-1",
		"channel-1",
		stringOption(subjectCommandNameOption, name),
		stringOption(subjectCommandColorOption, color),
		stringOption(subjectCommandEmojiOption, emoji),
	)
	u, _, err := bot.db.GetOrCreateUser(context.Background(), *getDiscordUser(i))
	require.NoError(t, err)
	handler := newStubInteractionHandler(t, i)
	cmd := NewSubjectCommand(bot, u, i)
	cmd.handler = handler
	return cmd, handler
}

func waitForEdit(t testing.TB, handler stubInteractionHandler) *stubEdit {
	t.Helper()
	select {
	case edit := <-handler.callEdit:
		return edit
	case <-time.After(time.Second):
		t.Fatal("expected an interaction edit")
		return nil
	}
}

func TestRunSubjectCommand(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	cmd, handler := newSubjectCommandTest(t, bot, "Biology", "#00FF00", "🧬")

	ctx := WithLogger(context.Background(), bot.logger)
	bot.runSubjectCommand(ctx, cmd)

	edit := waitForEdit(t, handler)
	response := stringPointerValue(edit.WebhookEdit.Content)
	assert.Contains(t, response, "biology-helper")
	assert.Contains(t, response, "/become-helper")

	var stored SubjectCommand
	require.NoError(t, bot.db.DB().Last(&stored).Error)
	assert.Equal(t, SubjectCommandStateCompleted, stored.State)
	assert.Equal(t, "Biology", stored.Name)
	assert.Equal(t, "#00FF00", stored.Color)
	assert.Equal(t, "🧬", stored.Emoji)

	// the provisioned subject is recorded for listing
	var subject Subject
	require.NoError(t, bot.db.DB().Last(&subject).Error)
	assert.Equal(t, "Biology", subject.Name)
	assert.Equal(t, "🧬-Biology", subject.ChannelName)
	assert.Equal(t, "user-1", subject.CreatedBy)

	roles, _ := session.GuildRoles("test-guild")
	require.Len(t, roles, 1)
	assert.Equal(t, "biology-helper", roles[0].Name)
}

func TestRunSubjectCommandDuplicate(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	category := session.addChannel(
		DefaultSubjectCategoryName,
		discordgo.ChannelTypeGuildCategory,
		"",
	)
	session.addChannel(
		"🧬-Biology",
		discordgo.ChannelTypeGuildForum,
		category.ID,
	)

	cmd, handler := newSubjectCommandTest(t, bot, "Biology", "#00FF00", "🧫")

	ctx := WithLogger(context.Background(), bot.logger)
	bot.runSubjectCommand(ctx, cmd)

	edit := waitForEdit(t, handler)
	assert.Contains(
		t,
		stringPointerValue(edit.WebhookEdit.Content),
		"already exists",
	)

	var stored SubjectCommand
	require.NoError(t, bot.db.DB().Last(&stored).Error)
	assert.Equal(t, SubjectCommandStateRejected, stored.State)

	// nothing new was provisioned
	roles, _ := session.GuildRoles("test-guild")
	assert.Empty(t, roles)
}

func TestRunSubjectCommandValidation(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	cmd, handler := newSubjectCommandTest(t, bot, "Biology", "green", "🧬")

	ctx := WithLogger(context.Background(), bot.logger)
	bot.runSubjectCommand(ctx, cmd)

	// the offending field is named in the reply
	edit := waitForEdit(t, handler)
	assert.Contains(t, stringPointerValue(edit.WebhookEdit.Content), "color")

	var stored SubjectCommand
	require.NoError(t, bot.db.DB().Last(&stored).Error)
	assert.Equal(t, SubjectCommandStateFailed, stored.State)

	channels, _ := session.GuildChannels("test-guild")
	assert.Empty(t, channels)
}
