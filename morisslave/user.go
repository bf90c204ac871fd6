package morisslave

import (
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

var (
	columnUserUsername   = "username"
	columnUserGlobalName = "global_name"
	columnUserLastSeen   = "last_seen"
)

// User is a record of a Discord user.
// See: https://discord.com/developers/docs/resources/user
//
// The Points counter is a placeholder schema carried over from the
// original deployment - none of the bot's command flows read or
// write it.
//
//nolint:lll // struct tags can't be split
type User struct {
	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name - for bots, the application name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots are ignored.
	Bot bool `json:"bot" gorm:"type:bool"`

	// JSON content of the discord user object
	Content string `json:"content" gorm:"type:string"`

	// Points is an integer counter keyed to this user
	Points int `json:"points" gorm:"type:int;default:0"`

	// LastSeen is the last time this user was seen in a Discord interaction
	LastSeen int64 `json:"last_seen" gorm:"column:last_seen"`

	ModelUnixTime
}

func NewUser(u discordgo.User) *User {
	content, err := json.Marshal(u)
	if err != nil {
		slog.Default().Error("error marshaling discord user", tint.Err(err))
	}
	return &User{
		ID:         u.ID,
		Username:   u.Username,
		Content:    string(content),
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		LastSeen:   time.Now().UTC().UnixMilli(),
	}
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
		slog.String("global_name", u.GlobalName),
		slog.Int("points", u.Points),
	)
}

// userChangedDiscordUsername compares [User.Username] and [User.GlobalName]
// with the given discordgo.User, to avoid 'drift' when the user updates
// their Discord profile.
func (u *User) userChangedDiscordUsername(d discordgo.User) bool {
	return (d.Username != u.Username) || (d.GlobalName != u.GlobalName)
}
