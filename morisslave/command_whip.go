package morisslave

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const (
	WhipCommandStateReceived WhipCommandState = "received"
	WhipCommandStateFailed   WhipCommandState = "failed"
	WhipCommandStateRefused  WhipCommandState = "refused"
	WhipCommandStatePinged   WhipCommandState = "pinged"
)

var (
	columnWhipCommandState      = "state"
	columnWhipCommandFinishedAt = "finished_at"
	columnWhipCommandResponse   = "response"
	columnWhipCommandError      = "error"
	columnWhipCommandRoleID     = "role_id"
)

type WhipCommandState string

// WhipCommand represents a '/whip-slaves' slash command execution:
// pinging the helpers of the subject a thread belongs to.
type WhipCommand struct {
	ModelUintID
	ModelUnixTime
	Interaction
	logger *slog.Logger
	State  WhipCommandState `json:"state" gorm:"type:string"`

	// RoleID is the helper role that was pinged, if any
	RoleID string `json:"role_id" gorm:"type:string"`

	handler InteractionHandler
}

func NewWhipCommand(
	m *MorisSlave,
	u *User,
	i *discordgo.InteractionCreate,
) *WhipCommand {
	interaction := NewUserInteraction(i, u)

	rec := &WhipCommand{
		Interaction: *interaction,
		State:       WhipCommandStateReceived,
	}
	rec.logger = m.logger.With("whip_command", rec)
	return rec
}

func (c WhipCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("interaction", c.Interaction),
		slog.String("state", string(c.State)),
		slog.String("role_id", c.RoleID),
	)
}

// runWhipCommand persists a WhipCommand record, executes it, and stores
// the outcome.
func (m *MorisSlave) runWhipCommand(
	ctx context.Context,
	cmd *WhipCommand,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = cmd.handler.Logger()
	}

	started := time.Now()
	cmd.StartedAt = &started
	if _, dbErr := m.db.Create(ctx, cmd); dbErr != nil {
		logger.ErrorContext(ctx, "error creating whip command", tint.Err(dbErr))
		errMsg := DefaultDiscordErrorMessage
		_, _ = cmd.handler.Edit(ctx, &discordgo.WebhookEdit{Content: &errMsg})
		return
	}

	state, response, execErr := cmd.execute(ctx, m)

	ended := time.Now()
	updates := map[string]any{
		columnWhipCommandFinishedAt: &ended,
		columnWhipCommandState:      state,
		columnWhipCommandResponse:   &response,
		columnWhipCommandRoleID:     cmd.RoleID,
	}
	if execErr != nil {
		updates[columnWhipCommandError] = execErr.Error()
	}
	if _, err := m.db.Updates(context.TODO(), cmd, updates); err != nil {
		logger.ErrorContext(ctx, "error updating whip command", tint.Err(err))
	}

	if _, editErr := cmd.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &response},
		discordgo.WithContext(ctx),
	); editErr != nil {
		logger.ErrorContext(ctx, "error updating interaction", tint.Err(editErr))
	}
}

// execute resolves the invoking thread's helper role and pings it.
// Whether the thread belongs to a subject is an explicit boolean
// check - a thread outside the subject category gets the fixed
// refusal message.
func (c *WhipCommand) execute(
	ctx context.Context,
	m *MorisSlave,
) (WhipCommandState, string, error) {
	cmdLogger := c.logger
	if cmdLogger == nil {
		cmdLogger = slog.Default()
	}

	p := m.provisioner(cmdLogger)
	role, err := p.subjectForThread(ctx, c.ChannelID)
	if err != nil {
		if errors.Is(err, ErrUnknownSubjectThread) {
			cmdLogger.InfoContext(
				ctx,
				"whip-slaves outside a subject thread",
				"channel_id", c.ChannelID,
			)
			return WhipCommandStateRefused, DefaultWhipRefusalMessage, nil
		}
		return WhipCommandStateFailed, DefaultDiscordErrorMessage, err
	}

	c.RoleID = role.ID
	cmdLogger.InfoContext(
		ctx,
		"pinging helpers",
		"role_id", role.ID,
		"role_name", role.Name,
	)
	return WhipCommandStatePinged, fmt.Sprintf(
		"<@&%s> - your subjects need you!",
		role.ID,
	), nil
}
