// Package moreatomic holds small concurrency-safe containers.
package moreatomic

import (
	"sync"

	"github.com/voicestream/voicestream/discord"
)

// GuildIDSet is a set of guild IDs safe for concurrent use. It doubles as a
// per-guild try-lock: TryAdd succeeds for only one caller until Delete.
type GuildIDSet struct {
	set map[discord.GuildID]struct{}
	mut sync.Mutex
}

// NewGuildIDSet creates a new GuildIDSet.
func NewGuildIDSet() *GuildIDSet {
	return &GuildIDSet{
		set: make(map[discord.GuildID]struct{}),
	}
}

// Add adds the passed discord.GuildID to the set.
func (s *GuildIDSet) Add(id discord.GuildID) {
	s.mut.Lock()
	s.set[id] = struct{}{}
	s.mut.Unlock()
}

// TryAdd adds the ID and returns true if it was not already present. If it
// was, the set is left untouched and false is returned.
func (s *GuildIDSet) TryAdd(id discord.GuildID) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.set[id]; ok {
		return false
	}

	s.set[id] = struct{}{}
	return true
}

// Contains checks whether the passed discord.GuildID is present in the set.
func (s *GuildIDSet) Contains(id discord.GuildID) (ok bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	_, ok = s.set[id]
	return
}

// Delete deletes the passed discord.GuildID from the set and returns true if
// the element is present. If not, Delete is a no-op and returns false.
func (s *GuildIDSet) Delete(id discord.GuildID) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.set[id]; ok {
		delete(s.set, id)
		return true
	}

	return false
}

// Len returns the number of IDs in the set.
func (s *GuildIDSet) Len() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	return len(s.set)
}
