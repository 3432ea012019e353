package discord

// VoiceState is the subset of a main gateway voice state that a voice
// connection needs: which channel the user is in and the session ID it was
// assigned.
type VoiceState struct {
	GuildID   GuildID   `json:"guild_id"`
	ChannelID ChannelID `json:"channel_id"`
	UserID    UserID    `json:"user_id"`
	SessionID string    `json:"session_id"`

	SelfDeaf bool `json:"self_deaf"`
	SelfMute bool `json:"self_mute"`
}

// VoiceServer is the voice server assignment sent by the main gateway after a
// voice state update.
type VoiceServer struct {
	GuildID  GuildID `json:"guild_id"`
	Token    string  `json:"token"`
	Endpoint string  `json:"endpoint"`
}
