package dgvoice

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/bwmarrin/discordgo"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/voice/voicegateway"
)

func TestVoiceState(t *testing.T) {
	vs, err := voiceState(&discordgo.VoiceState{
		GuildID:   "41771983423143937",
		ChannelID: "41771983423143938",
		UserID:    "80351110224678912",
		SessionID: "session",
		SelfDeaf:  true,
	})
	assert.NoError(t, err)
	assert.Equal(t, discord.VoiceState{
		GuildID:   41771983423143937,
		ChannelID: 41771983423143938,
		UserID:    80351110224678912,
		SessionID: "session",
		SelfDeaf:  true,
	}, vs)

	// Leaving a channel clears the channel ID.
	vs, err = voiceState(&discordgo.VoiceState{GuildID: "1", UserID: "2"})
	assert.NoError(t, err)
	assert.Equal(t, discord.ChannelID(0), vs.ChannelID)

	_, err = voiceState(&discordgo.VoiceState{GuildID: "guild"})
	assert.Error(t, err)
}

func TestVoiceServer(t *testing.T) {
	srv, err := voiceServer(&discordgo.VoiceServerUpdate{
		GuildID:  "41771983423143937",
		Token:    "token",
		Endpoint: "smart.loyal.discord.gg",
	})
	assert.NoError(t, err)
	assert.Equal(t, discord.VoiceServer{
		GuildID:  41771983423143937,
		Token:    "token",
		Endpoint: "smart.loyal.discord.gg",
	}, srv)

	_, err = voiceServer(&discordgo.VoiceServerUpdate{GuildID: "x"})
	assert.Error(t, err)
}

func TestPending(t *testing.T) {
	const userID discord.UserID = 2

	var p pending

	_, ok := p.complete(userID)
	assert.False(t, ok)

	p.state = &discord.VoiceState{GuildID: 1, ChannelID: 3, UserID: userID, SessionID: "session"}
	_, ok = p.complete(userID)
	assert.False(t, ok)

	// The server is being reallocated.
	p.server = &discord.VoiceServer{GuildID: 1, Token: "token"}
	_, ok = p.complete(userID)
	assert.False(t, ok)

	p.server = &discord.VoiceServer{GuildID: 1, Token: "token", Endpoint: "voice.example:443"}
	state, ok := p.complete(userID)
	assert.True(t, ok)
	assert.Equal(t, voicegateway.State{
		GuildID:   1,
		ChannelID: 3,
		UserID:    userID,
		SessionID: "session",
		Token:     "token",
		Endpoint:  "voice.example:443",
	}, state)
}

func TestReplace(t *testing.T) {
	ch := make(chan int, 1)

	replace(ch, 1)
	replace(ch, 2)

	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 0, len(ch))
}

func TestUserIDNotReady(t *testing.T) {
	s, err := discordgo.New("Bot token")
	assert.NoError(t, err)

	_, err = UserID(s)
	assert.IsError(t, err, ErrNotReady)

	s.State.User = &discordgo.User{ID: "80351110224678912"}

	id, err := UserID(s)
	assert.NoError(t, err)
	assert.Equal(t, discord.UserID(80351110224678912), id)
}
