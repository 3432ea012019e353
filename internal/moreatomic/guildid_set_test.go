package moreatomic

import (
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/voicestream/voicestream/discord"
)

func TestGuildIDSetTryAdd(t *testing.T) {
	const guildID discord.GuildID = 41771983423143937

	set := NewGuildIDSet()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.TryAdd(guildID) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, set.Contains(guildID))

	assert.True(t, set.Delete(guildID))
	assert.False(t, set.Delete(guildID))
	assert.True(t, set.TryAdd(guildID))
	assert.Equal(t, 1, set.Len())
}
