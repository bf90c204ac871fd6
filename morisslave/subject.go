package morisslave

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrDuplicateSubject is returned when an existing channel under the
	// subject category already matches the candidate subject name.
	ErrDuplicateSubject = errors.New("a subject like that already exists")

	// ErrUnknownSubjectThread is returned when a thread can't be traced
	// back to a subject forum channel.
	ErrUnknownSubjectThread = errors.New("not a subject thread")
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	if err := v.RegisterValidation("single_emoji", validateSingleEmoji); err != nil {
		panic(err)
	}
	return v
}

// SubjectOptions is the strongly-typed form of the /create-subject
// command's options.
type SubjectOptions struct {
	// Name is the subject's display name (e.g. "Biology")
	Name string `json:"name" binding:"required,min=1,max=90"`

	// Color is a hex color token (e.g. "#00FF00") for the helper role
	Color string `json:"color" binding:"required,hexcolor"`

	// Emoji is a single emoji, used to prefix the subject channel name
	Emoji string `json:"emoji" binding:"required,single_emoji"`
}

func (o SubjectOptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", o.Name),
		slog.String("color", o.Color),
		slog.String("emoji", o.Emoji),
	)
}

// ValidationError describes a rejected command option: which field was
// at fault, and the constraint it violated. The message is shown to the
// requester verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the options against their constraints, returning a
// *ValidationError naming the first offending field. No side effects
// occur before validation completes.
func (o SubjectOptions) Validate() error {
	err := structValidator.Struct(o)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		switch fe.Field() {
		case "Name":
			return &ValidationError{
				Field:   "name",
				Message: "must be a non-empty string of at most 90 characters",
			}
		case "Color":
			return &ValidationError{
				Field: "color",
				Message: fmt.Sprintf(
					"%q isn't a valid hex color token (expected e.g. #00FF00)",
					o.Color,
				),
			}
		case "Emoji":
			return &ValidationError{
				Field:   "emoji",
				Message: fmt.Sprintf("%q isn't a single emoji", o.Emoji),
			}
		}
	}
	return err
}

// validateSingleEmoji accepts a string consisting of exactly one emoji
// (allowing variation selectors and ZWJ sequences, which are how
// compound emoji are encoded). Two adjacent emoji without a joiner
// between them are two clusters, not one.
func validateSingleEmoji(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	clusters := 0
	joined := false
	for _, r := range s {
		switch {
		case r == 0x200D: // ZWJ joins the next base into this cluster
			joined = true
		case r == 0xFE0F: // variation selector
			continue
		case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
			continue
		case unicode.Is(unicode.Sk, r) || unicode.Is(unicode.So, r) || r >= 0x1F000:
			if !joined {
				clusters++
			}
			joined = false
		default:
			return false
		}
	}
	return clusters == 1
}

// subjectOptionsFromInteraction extracts and types the /create-subject
// options from the raw interaction data.
func subjectOptionsFromInteraction(
	i *discordgo.InteractionCreate,
) SubjectOptions {
	opts := discordInteractionOptions(i)
	var rv SubjectOptions
	if opt, ok := opts[subjectCommandNameOption]; ok {
		rv.Name = strings.TrimSpace(opt.StringValue())
	}
	if opt, ok := opts[subjectCommandColorOption]; ok {
		rv.Color = strings.TrimSpace(opt.StringValue())
	}
	if opt, ok := opts[subjectCommandEmojiOption]; ok {
		rv.Emoji = strings.TrimSpace(opt.StringValue())
	}
	return rv
}

// parseColorToken converts a "#RRGGBB" token into the integer color
// value the Discord API expects. The token must already be validated.
func parseColorToken(s string) (int, error) {
	trimmed := strings.TrimPrefix(s, "#")
	if len(trimmed) == 3 {
		// expand shorthand (#0F0 -> #00FF00)
		var b strings.Builder
		for _, r := range trimmed {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		trimmed = b.String()
	}
	v, err := strconv.ParseInt(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color token %q: %w", s, err)
	}
	return int(v), nil
}

// Subject is a persisted record of a provisioned subject - the channel
// and role it implies are owned by Discord, this is an audit/listing row.
//
//nolint:lll // struct tags can't be split
type Subject struct {
	ModelUintID
	ModelUnixTime
	Name        string `json:"name" gorm:"type:string;not null"`
	Emoji       string `json:"emoji" gorm:"type:string"`
	ChannelID   string `json:"channel_id" gorm:"type:string"`
	ChannelName string `json:"channel_name" gorm:"type:string"`
	RoleID      string `json:"role_id" gorm:"type:string"`
	RoleName    string `json:"role_name" gorm:"type:string"`
	RoleColor   string `json:"role_color" gorm:"type:string"`
	CreatedBy   string `json:"created_by" gorm:"type:string"`
}

func (s Subject) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Name),
		slog.String("channel_id", s.ChannelID),
		slog.String("role_id", s.RoleID),
	)
}

// subjectProvisioner orchestrates creation of a subject's forum channel
// and helper role. One provisioner is created per command invocation -
// the category ID memoization below lives only that long.
type subjectProvisioner struct {
	session DiscordSessionHandler
	config  *SubjectConfig
	guildID string
	logger  *slog.Logger

	// categoryID memoizes the resolved subject category for the lifetime
	// of this request only. Not safe under two concurrent resolutions
	// both hitting create - accepted race, there's no locking here.
	categoryID string
}

func newSubjectProvisioner(
	session DiscordSessionHandler,
	config *SubjectConfig,
	guildID string,
	logger *slog.Logger,
) *subjectProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &subjectProvisioner{
		session: session,
		config:  config,
		guildID: guildID,
		logger:  logger.With(loggerNameKey, "subject_provisioner"),
	}
}

// lookupCategoryID returns the ID of the category channel grouping all
// subject channels, or "" if it doesn't exist. Never creates anything.
func (p *subjectProvisioner) lookupCategoryID(ctx context.Context) (string, error) {
	if p.categoryID != "" {
		return p.categoryID, nil
	}

	channels, err := p.session.GuildChannels(
		p.guildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("error listing guild channels: %w", err)
	}

	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == p.config.CategoryName {
			p.categoryID = ch.ID
			return ch.ID, nil
		}
	}
	return "", nil
}

// resolveCategoryID returns the ID of the category channel grouping all
// subject channels, creating it if it doesn't exist yet.
func (p *subjectProvisioner) resolveCategoryID(ctx context.Context) (string, error) {
	if categoryID, err := p.lookupCategoryID(ctx); err != nil || categoryID != "" {
		return categoryID, err
	}

	p.logger.InfoContext(
		ctx,
		"subject category not found, creating it",
		"category_name", p.config.CategoryName,
	)
	created, err := p.session.GuildChannelCreateComplex(
		p.guildID,
		discordgo.GuildChannelCreateData{
			Name: p.config.CategoryName,
			Type: discordgo.ChannelTypeGuildCategory,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("error creating subject category: %w", err)
	}
	p.categoryID = created.ID
	return created.ID, nil
}

// subjectChannelName builds the "{emoji}-{name}" channel name.
func subjectChannelName(opts SubjectOptions) string {
	return fmt.Sprintf("%s-%s", opts.Emoji, opts.Name)
}

// helperRoleName builds the "{name}-helper" role name for a subject.
func (p *subjectProvisioner) helperRoleName(subjectName string) string {
	return strings.ToLower(subjectName) + p.config.HelperRoleSuffix
}

// subjectNameTaken reports whether any existing channel under the
// category matches the candidate name. This deliberately preserves the
// deployed behavior of a case-insensitive substring match rather than
// an exact match: an existing "calculus-math-study" channel blocks a
// new "Math" subject.
func subjectNameTaken(
	channels []*discordgo.Channel,
	categoryID string,
	name string,
) bool {
	lowered := strings.ToLower(name)
	for _, ch := range channels {
		if ch.ParentID != categoryID {
			continue
		}
		if strings.Contains(strings.ToLower(ch.Name), lowered) {
			return true
		}
	}
	return false
}

// createSubject validates the options, checks uniqueness, then creates
// the subject's forum channel and helper role.
//
// There is no rollback: if channel creation succeeds and role creation
// fails, the channel is left in place and the error is reported.
func (p *subjectProvisioner) createSubject(
	ctx context.Context,
	opts SubjectOptions,
) (*Subject, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	categoryID, err := p.resolveCategoryID(ctx)
	if err != nil {
		return nil, err
	}

	channels, err := p.session.GuildChannels(
		p.guildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error listing guild channels: %w", err)
	}
	if subjectNameTaken(channels, categoryID, opts.Name) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubject, opts.Name)
	}

	channelName := subjectChannelName(opts)
	channel, err := p.session.GuildChannelCreateComplex(
		p.guildID,
		discordgo.GuildChannelCreateData{
			Name:     channelName,
			Type:     discordgo.ChannelTypeGuildForum,
			ParentID: categoryID,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating subject channel: %w", err)
	}
	p.logger.InfoContext(
		ctx,
		"created subject channel",
		"channel_id", channel.ID,
		"channel_name", channelName,
	)

	color, err := parseColorToken(opts.Color)
	if err != nil {
		return nil, err
	}
	roleName := p.helperRoleName(opts.Name)
	role, err := p.session.GuildRoleCreate(
		p.guildID,
		&discordgo.RoleParams{
			Name:  roleName,
			Color: &color,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		// the channel created above is left orphaned - failures are
		// reported, not recovered
		return nil, fmt.Errorf("error creating helper role: %w", err)
	}
	p.logger.InfoContext(
		ctx,
		"created helper role",
		"role_id", role.ID,
		"role_name", roleName,
	)

	return &Subject{
		Name:        opts.Name,
		Emoji:       opts.Emoji,
		ChannelID:   channel.ID,
		ChannelName: channelName,
		RoleID:      role.ID,
		RoleName:    roleName,
		RoleColor:   opts.Color,
	}, nil
}

// subjectForThread resolves the helper role implied by a thread's parent
// forum channel. The channel name convention is "{emoji}-{name}", so the
// subject name is everything after the first '-'.
func (p *subjectProvisioner) subjectForThread(
	ctx context.Context,
	threadID string,
) (*discordgo.Role, error) {
	thread, err := p.session.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error getting thread channel: %w", err)
	}
	if !thread.IsThread() || thread.ParentID == "" {
		return nil, ErrUnknownSubjectThread
	}

	parent, err := p.session.Channel(thread.ParentID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error getting parent channel: %w", err)
	}

	// a read path never creates the category
	categoryID, err := p.lookupCategoryID(ctx)
	if err != nil {
		return nil, err
	}
	if categoryID == "" || parent.ParentID != categoryID {
		return nil, ErrUnknownSubjectThread
	}

	_, subjectName, found := strings.Cut(parent.Name, "-")
	if !found || subjectName == "" {
		return nil, ErrUnknownSubjectThread
	}

	roleName := p.helperRoleName(subjectName)
	roles, err := p.session.GuildRoles(p.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error listing guild roles: %w", err)
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, roleName) {
			return role, nil
		}
	}
	return nil, ErrUnknownSubjectThread
}

// helperRoles returns all guild roles matching the helper naming
// convention (suffix match), along with their derived subject labels.
func (p *subjectProvisioner) helperRoles(ctx context.Context) (
	[]*discordgo.Role,
	error,
) {
	roles, err := p.session.GuildRoles(p.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error listing guild roles: %w", err)
	}
	var helpers []*discordgo.Role
	for _, role := range roles {
		if strings.HasSuffix(role.Name, p.config.HelperRoleSuffix) {
			helpers = append(helpers, role)
		}
	}
	return helpers, nil
}

// subjectLabel derives a human-readable subject label from a helper role
// name: strip the suffix, capitalize the first letter.
func (p *subjectProvisioner) subjectLabel(roleName string) string {
	return capitalize(strings.TrimSuffix(roleName, p.config.HelperRoleSuffix))
}
