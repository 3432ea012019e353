// Package dgvoice joins voice channels through a discordgo main gateway
// session. The main gateway hands out the session ID, token and endpoint that
// the voice gateway needs to identify.
package dgvoice

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/logging"
	"github.com/voicestream/voicestream/voice"
	"github.com/voicestream/voicestream/voice/voicegateway"
)

// Intents are the gateway intents needed to receive voice server info.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

// ErrNotReady is returned if the discordgo session has no user yet.
var ErrNotReady = errors.New("discordgo session is not ready")

// Joiner implements voice.Joiner on top of a discordgo session.
type Joiner struct {
	Session *discordgo.Session
}

var _ voice.Joiner = (*Joiner)(nil)

// New creates a new Joiner.
func New(s *discordgo.Session) *Joiner {
	return &Joiner{Session: s}
}

// UserID returns the ID of the bot user.
func UserID(s *discordgo.Session) (discord.UserID, error) {
	if s.State == nil || s.State.User == nil {
		return 0, ErrNotReady
	}

	id, err := discord.ParseSnowflake(s.State.User.ID)
	if err != nil {
		return 0, errors.Wrap(err, "invalid user ID")
	}
	return discord.UserID(id), nil
}

// Join sends a voice state update for the channel and waits for both the new
// voice state and the voice server assignment.
func (j *Joiner) Join(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID, mute, deaf bool) (voicegateway.State, error) {
	userID, err := UserID(j.Session)
	if err != nil {
		return voicegateway.State{}, err
	}

	states := make(chan discord.VoiceState, 1)
	servers := make(chan discord.VoiceServer, 1)

	log := logging.Named("dgvoice").With("guild", guildID)

	rmState := j.Session.AddHandler(func(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
		if ev.VoiceState == nil {
			return
		}

		vs, err := voiceState(ev.VoiceState)
		if err != nil {
			log.Debugw("ignoring voice state update", "err", err)
			return
		}

		if vs.GuildID == guildID && vs.UserID == userID {
			replace(states, vs)
		}
	})
	defer rmState()

	rmServer := j.Session.AddHandler(func(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
		srv, err := voiceServer(ev)
		if err != nil {
			log.Debugw("ignoring voice server update", "err", err)
			return
		}

		if srv.GuildID == guildID {
			replace(servers, srv)
		}
	})
	defer rmServer()

	if err := j.Session.ChannelVoiceJoinManual(guildID.String(), channelID.String(), mute, deaf); err != nil {
		return voicegateway.State{}, errors.Wrap(err, "failed to send voice state update")
	}

	var p pending

	for {
		if state, ok := p.complete(userID); ok {
			log.Debugw("voice server assigned", "endpoint", state.Endpoint)
			return state, nil
		}

		select {
		case vs := <-states:
			p.state = &vs
		case srv := <-servers:
			p.server = &srv
		case <-ctx.Done():
			return voicegateway.State{}, errors.Wrap(ctx.Err(), "failed to wait for voice server")
		}
	}
}

// Leave sends a voice state update without a channel.
func (j *Joiner) Leave(ctx context.Context, guildID discord.GuildID) error {
	if err := j.Session.ChannelVoiceJoinManual(guildID.String(), "", false, false); err != nil {
		return errors.Wrap(err, "failed to leave voice channel")
	}
	return nil
}

// replace puts v into a 1-buffered channel, dropping an unread older value.
func replace[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}

// pending collects the two halves of a voice server assignment.
type pending struct {
	state  *discord.VoiceState
	server *discord.VoiceServer
}

func (p *pending) complete(userID discord.UserID) (voicegateway.State, bool) {
	if p.state == nil || p.server == nil {
		return voicegateway.State{}, false
	}

	// A null endpoint means the server is being reallocated; another update
	// follows.
	if p.state.SessionID == "" || p.server.Endpoint == "" {
		return voicegateway.State{}, false
	}

	return voicegateway.State{
		GuildID:   p.server.GuildID,
		ChannelID: p.state.ChannelID,
		UserID:    userID,
		SessionID: p.state.SessionID,
		Token:     p.server.Token,
		Endpoint:  p.server.Endpoint,
	}, true
}

func voiceState(vs *discordgo.VoiceState) (discord.VoiceState, error) {
	guildID, err := discord.ParseSnowflake(vs.GuildID)
	if err != nil {
		return discord.VoiceState{}, errors.Wrap(err, "invalid guild ID")
	}

	userID, err := discord.ParseSnowflake(vs.UserID)
	if err != nil {
		return discord.VoiceState{}, errors.Wrap(err, "invalid user ID")
	}

	var channelID discord.Snowflake
	if vs.ChannelID != "" {
		if channelID, err = discord.ParseSnowflake(vs.ChannelID); err != nil {
			return discord.VoiceState{}, errors.Wrap(err, "invalid channel ID")
		}
	}

	return discord.VoiceState{
		GuildID:   discord.GuildID(guildID),
		ChannelID: discord.ChannelID(channelID),
		UserID:    discord.UserID(userID),
		SessionID: vs.SessionID,
		SelfDeaf:  vs.SelfDeaf,
		SelfMute:  vs.SelfMute,
	}, nil
}

func voiceServer(ev *discordgo.VoiceServerUpdate) (discord.VoiceServer, error) {
	guildID, err := discord.ParseSnowflake(ev.GuildID)
	if err != nil {
		return discord.VoiceServer{}, errors.Wrap(err, "invalid guild ID")
	}

	return discord.VoiceServer{
		GuildID:  discord.GuildID(guildID),
		Token:    ev.Token,
		Endpoint: ev.Endpoint,
	}, nil
}
