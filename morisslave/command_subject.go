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
	SubjectCommandStateReceived  SubjectCommandState = "received"
	SubjectCommandStateFailed    SubjectCommandState = "failed"
	SubjectCommandStateRejected  SubjectCommandState = "rejected"
	SubjectCommandStateCompleted SubjectCommandState = "completed"
)

var (
	columnSubjectCommandState      = "state"
	columnSubjectCommandFinishedAt = "finished_at"
	columnSubjectCommandResponse   = "response"
	columnSubjectCommandError      = "error"
	columnSubjectCommandStartedAt  = "started_at"
)

type SubjectCommandState string

// SubjectCommand represents a '/create-subject' slash command execution:
// provisioning a forum channel and helper role for a new subject.
type SubjectCommand struct {
	ModelUintID
	ModelUnixTime
	Interaction
	logger *slog.Logger
	State  SubjectCommandState `json:"state" gorm:"type:string"`

	// raw option values, for the audit trail
	Name  string `json:"name" gorm:"type:string"`
	Color string `json:"color" gorm:"type:string"`
	Emoji string `json:"emoji" gorm:"type:string"`

	handler InteractionHandler
	options SubjectOptions
}

func NewSubjectCommand(
	m *MorisSlave,
	u *User,
	i *discordgo.InteractionCreate,
) *SubjectCommand {
	interaction := NewUserInteraction(i, u)
	opts := subjectOptionsFromInteraction(i)

	rec := &SubjectCommand{
		Interaction: *interaction,
		State:       SubjectCommandStateReceived,
		Name:        opts.Name,
		Color:       opts.Color,
		Emoji:       opts.Emoji,
		options:     opts,
	}
	rec.logger = m.logger.With("subject_command", rec)
	return rec
}

func (c SubjectCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("interaction", c.Interaction),
		slog.String("state", string(c.State)),
		slog.Any("options", c.options),
	)
}

// runSubjectCommand persists a SubjectCommand record, executes it, and
// stores the outcome.
func (m *MorisSlave) runSubjectCommand(
	ctx context.Context,
	cmd *SubjectCommand,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = cmd.handler.Logger()
	}

	started := time.Now()
	cmd.StartedAt = &started
	if _, dbErr := m.db.Create(ctx, cmd); dbErr != nil {
		logger.ErrorContext(ctx, "error creating subject command", tint.Err(dbErr))
		errMsg := DefaultDiscordErrorMessage
		_, _ = cmd.handler.Edit(ctx, &discordgo.WebhookEdit{Content: &errMsg})
		return
	}

	response, execErr := cmd.execute(ctx, m)

	ended := time.Now()
	updates := map[string]any{
		columnSubjectCommandFinishedAt: &ended,
		columnSubjectCommandResponse:   &response,
		columnSubjectCommandState:      SubjectCommandStateCompleted,
	}
	switch {
	case errors.Is(execErr, ErrDuplicateSubject):
		updates[columnSubjectCommandState] = SubjectCommandStateRejected
		updates[columnSubjectCommandError] = execErr.Error()
	case execErr != nil:
		updates[columnSubjectCommandState] = SubjectCommandStateFailed
		updates[columnSubjectCommandError] = execErr.Error()
	}
	if _, err := m.db.Updates(context.TODO(), cmd, updates); err != nil {
		logger.ErrorContext(ctx, "error updating subject command", tint.Err(err))
	}

	if _, editErr := cmd.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &response},
		discordgo.WithContext(ctx),
	); editErr != nil {
		logger.ErrorContext(ctx, "error updating interaction", tint.Err(editErr))
	}
}

// execute validates the options and provisions the subject, returning
// the user-facing response message. Validation and duplicate-subject
// errors are surfaced verbatim; remote-call failures become a generic
// failure message (and are returned for the audit record).
func (c *SubjectCommand) execute(
	ctx context.Context,
	m *MorisSlave,
) (string, error) {
	cmdLogger := c.logger
	if cmdLogger == nil {
		cmdLogger = slog.Default()
	}

	p := m.provisioner(cmdLogger)
	subject, err := p.createSubject(ctx, c.options)
	if err != nil {
		cmdLogger.WarnContext(ctx, "create-subject failed", tint.Err(err))
		if errors.Is(err, ErrDuplicateSubject) {
			return err.Error(), err
		}
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			return validationErr.Error(), err
		}
		return DefaultDiscordErrorMessage, err
	}

	subject.CreatedBy = c.UserID
	if _, dbErr := m.db.Create(ctx, subject); dbErr != nil {
		// the channel and role exist; the audit row is best-effort
		cmdLogger.ErrorContext(ctx, "error saving subject record", tint.Err(dbErr))
	}

	cmdLogger.InfoContext(ctx, "provisioned subject", "subject", subject)
	return fmt.Sprintf(
		"Created <#%s> and the `%s` role - /become-helper to volunteer!",
		subject.ChannelID,
		subject.RoleName,
	), nil
}
