package voice

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/moreatomic"
)

// Registry holds at most one voice session per guild.
type Registry struct {
	// NewSessionFunc, if set, is called on every session the registry creates
	// before it is connected. It may change the session's tunables.
	NewSessionFunc func(*Session)

	userID discord.UserID
	// guard is shared by all sessions so that reconnects are serialized per
	// guild across the whole process.
	guard *moreatomic.GuildIDSet

	mut      sync.Mutex
	sessions map[discord.GuildID]*Session
}

// NewRegistry creates a new registry for the given bot user.
func NewRegistry(userID discord.UserID) *Registry {
	return &Registry{
		userID:   userID,
		guard:    moreatomic.NewGuildIDSet(),
		sessions: make(map[discord.GuildID]*Session),
	}
}

// Session returns the session for the guild, creating an unconnected one if
// there is none or if the previous one is closed.
func (r *Registry) Session(guildID discord.GuildID) *Session {
	r.mut.Lock()
	defer r.mut.Unlock()

	return r.session(guildID)
}

func (r *Registry) session(guildID discord.GuildID) *Session {
	if s, ok := r.sessions[guildID]; ok && s.State() != Closed {
		return s
	}

	s := newSession(guildID, r.userID, r.guard)
	if r.NewSessionFunc != nil {
		r.NewSessionFunc(s)
	}

	r.sessions[guildID] = s
	return s
}

// Get returns the live session for the guild.
func (r *Registry) Get(guildID discord.GuildID) (*Session, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()

	s, ok := r.sessions[guildID]
	if !ok || s.State() == Closed {
		return nil, false
	}
	return s, true
}

// Join joins the voice channel and returns the connected session. The
// registry's session for the guild must not have been connected yet, or must
// be closed.
func (r *Registry) Join(ctx context.Context, j Joiner, guildID discord.GuildID, channelID discord.ChannelID, mute, deaf bool) (*Session, error) {
	s := r.Session(guildID)

	if err := s.JoinChannel(ctx, j, channelID, mute, deaf); err != nil {
		if !errors.Is(err, ErrAlreadyConnecting) {
			r.remove(guildID, s)
		}
		return nil, err
	}

	return s, nil
}

// Disconnect disconnects and forgets the guild's session. Disconnecting a
// guild without a session does nothing.
func (r *Registry) Disconnect(ctx context.Context, guildID discord.GuildID) error {
	r.mut.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mut.Unlock()

	if !ok {
		return nil
	}
	return s.Disconnect(ctx)
}

// Close disconnects every session.
func (r *Registry) Close(ctx context.Context) error {
	r.mut.Lock()
	sessions := r.sessions
	r.sessions = make(map[discord.GuildID]*Session)
	r.mut.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mut.Lock()
	defer r.mut.Unlock()

	var n int
	for _, s := range r.sessions {
		if s.State() != Closed {
			n++
		}
	}
	return n
}

func (r *Registry) remove(guildID discord.GuildID, s *Session) {
	r.mut.Lock()
	defer r.mut.Unlock()

	if r.sessions[guildID] == s {
		delete(r.sessions, guildID)
	}
}
