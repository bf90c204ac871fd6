package morisslave

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const (
	HelperCommandStateReceived  HelperCommandState = "received"
	HelperCommandStateFailed    HelperCommandState = "failed"
	HelperCommandStateTimedOut  HelperCommandState = "timed_out"
	HelperCommandStateCancelled HelperCommandState = "cancelled"
	HelperCommandStateNoRoles   HelperCommandState = "no_roles"
	HelperCommandStateHadRole   HelperCommandState = "had_role"
	HelperCommandStateGranted   HelperCommandState = "granted"
)

var (
	columnHelperCommandState      = "state"
	columnHelperCommandFinishedAt = "finished_at"
	columnHelperCommandResponse   = "response"
	columnHelperCommandError      = "error"
	columnHelperCommandStartedAt  = "started_at"
	columnHelperCommandRoleID     = "role_id"
)

type HelperCommandState string

// HelperCommand represents a '/become-helper' slash command execution:
// presenting the helper-role selection prompt, waiting for the
// requester's choice, and granting the chosen role.
type HelperCommand struct {
	ModelUintID
	ModelUnixTime
	Interaction
	logger *slog.Logger
	State  HelperCommandState `json:"state" gorm:"type:string"`

	// RoleID is the role ultimately selected (whether or not it was
	// newly granted)
	RoleID string `json:"role_id" gorm:"type:string"`

	handler InteractionHandler
}

func NewHelperCommand(
	m *MorisSlave,
	u *User,
	i *discordgo.InteractionCreate,
) *HelperCommand {
	interaction := NewUserInteraction(i, u)

	rec := &HelperCommand{
		Interaction: *interaction,
		State:       HelperCommandStateReceived,
	}
	rec.logger = m.logger.With("helper_command", rec)
	return rec
}

func (c HelperCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("interaction", c.Interaction),
		slog.String("state", string(c.State)),
		slog.String("role_id", c.RoleID),
	)
}

// runHelperCommand persists a HelperCommand record, runs the enrollment
// flow, and stores the outcome.
func (m *MorisSlave) runHelperCommand(
	ctx context.Context,
	cmd *HelperCommand,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = cmd.handler.Logger()
	}

	started := time.Now()
	cmd.StartedAt = &started
	if _, dbErr := m.db.Create(ctx, cmd); dbErr != nil {
		logger.ErrorContext(ctx, "error creating helper command", tint.Err(dbErr))
		errMsg := DefaultDiscordErrorMessage
		_, _ = cmd.handler.Edit(ctx, &discordgo.WebhookEdit{Content: &errMsg})
		return
	}

	state, response, execErr := cmd.execute(ctx, m)

	ended := time.Now()
	updates := map[string]any{
		columnHelperCommandFinishedAt: &ended,
		columnHelperCommandState:      state,
		columnHelperCommandResponse:   &response,
		columnHelperCommandRoleID:     cmd.RoleID,
	}
	if execErr != nil {
		updates[columnHelperCommandError] = execErr.Error()
	}
	if _, err := m.db.Updates(context.TODO(), cmd, updates); err != nil {
		logger.ErrorContext(ctx, "error updating helper command", tint.Err(err))
	}
}

// execute runs the enrollment flow. Every path - including timeout and
// cancellation - resolves to a terminal state with a user-facing reply;
// nothing is left as an unobserved failure.
func (c *HelperCommand) execute(
	ctx context.Context,
	m *MorisSlave,
) (HelperCommandState, string, error) {
	cmdLogger := c.logger
	if cmdLogger == nil {
		cmdLogger = slog.Default()
	}

	reply := func(content string) string {
		if _, err := c.handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &content},
			discordgo.WithContext(ctx),
		); err != nil {
			cmdLogger.ErrorContext(ctx, "error updating interaction", tint.Err(err))
		}
		return content
	}

	p := m.provisioner(cmdLogger)
	roles, err := p.helperRoles(ctx)
	if err != nil {
		return HelperCommandStateFailed, reply(DefaultDiscordErrorMessage), err
	}
	if len(roles) == 0 {
		return HelperCommandStateNoRoles, reply(DefaultHelperNoRolesMessage), nil
	}

	customID, err := generateRandomHexString(discordComponentCustomIDLength)
	if err != nil {
		return HelperCommandStateFailed, reply(DefaultDiscordErrorMessage), err
	}

	options := make([]discordgo.SelectMenuOption, 0, len(roles))
	for i, role := range roles {
		if i >= discordMaxSelectOptions {
			break
		}
		options = append(
			options, discordgo.SelectMenuOption{
				Label: p.subjectLabel(role.Name),
				Value: role.ID,
			},
		)
	}

	// register the wait before the prompt is visible, so a selection
	// arriving immediately after the edit can't be missed
	pending := m.selections.add(customID, c.UserID)

	prompt := "Which subject would you like to help with?"
	if _, err = c.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{
			Content: &prompt,
			Components: &[]discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.SelectMenu{
							MenuType: discordgo.StringSelectMenu,
							CustomID: customID,
							Options:  options,
						},
					},
				},
			},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		m.selections.remove(customID)
		return HelperCommandStateFailed, prompt, err
	}

	result := m.selections.await(ctx, pending, m.config.Subjects.SelectTimeout)

	switch result.Outcome {
	case SelectionOutcomeTimedOut:
		cmdLogger.InfoContext(ctx, "selection timed out")
		return HelperCommandStateTimedOut, reply(DefaultHelperTimeoutMessage), nil
	case SelectionOutcomeCancelled:
		cmdLogger.WarnContext(ctx, "selection cancelled")
		return HelperCommandStateCancelled, reply(DefaultHelperTimeoutMessage), nil
	case SelectionOutcomeSelected:
		//
	default:
		return HelperCommandStateFailed, reply(DefaultDiscordErrorMessage),
			fmt.Errorf("unknown selection outcome: %q", result.Outcome)
	}

	c.RoleID = result.Value
	var roleName string
	for _, role := range roles {
		if role.ID == result.Value {
			roleName = role.Name
			break
		}
	}
	subject := p.subjectLabel(roleName)

	member, err := m.discord.session.GuildMember(
		c.GuildID,
		c.UserID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return HelperCommandStateFailed, reply(DefaultDiscordErrorMessage), err
	}

	if memberHasRole(member, result.Value) {
		return HelperCommandStateHadRole, reply(
			fmt.Sprintf("You're already a helper for %s!", subject),
		), nil
	}

	if err = m.discord.session.GuildMemberRoleAdd(
		c.GuildID,
		c.UserID,
		result.Value,
		discordgo.WithContext(ctx),
	); err != nil {
		return HelperCommandStateFailed, reply(DefaultDiscordErrorMessage), err
	}

	response := reply(fmt.Sprintf("You're now a helper for %s!", subject))

	// public announcement, separate from the ephemeral confirmation
	announceChannel := m.config.Discord.NotificationChannelID
	if announceChannel == "" {
		announceChannel = c.ChannelID
	}
	if announceErr := m.discord.channelMessageSend(
		announceChannel,
		fmt.Sprintf("<@%s> became a helper for %s!", c.UserID, subject),
		discordgo.WithContext(ctx),
	); announceErr != nil {
		cmdLogger.ErrorContext(
			ctx,
			"error announcing new helper",
			tint.Err(announceErr),
		)
	}

	return HelperCommandStateGranted, response, nil
}
