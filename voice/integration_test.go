package voice_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/voicestream/voicestream/audio"
	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/testenv"
	"github.com/voicestream/voicestream/voice"
	"github.com/voicestream/voicestream/voice/dgvoice"
)

// TestIntegration plays $VOICE_TEST_FILE into $VOICE_ID with a real bot.
func TestIntegration(t *testing.T) {
	env := testenv.Must(t)

	file := os.Getenv("VOICE_TEST_FILE")
	if file == "" {
		t.Skip("missing $VOICE_TEST_FILE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dg, err := discordgo.New("Bot " + env.BotToken)
	if err != nil {
		t.Fatal("failed to create session:", err)
	}
	dg.Identify.Intents = dgvoice.Intents

	if err := dg.Open(); err != nil {
		t.Fatal("failed to open:", err)
	}
	t.Cleanup(func() { dg.Close() })

	userID, err := dgvoice.UserID(dg)
	if err != nil {
		t.Fatal("failed to get user:", err)
	}

	guildID := env.Discord.GuildID
	if !guildID.IsValid() {
		ch, err := dg.Channel(env.Discord.VoiceID.String())
		if err != nil {
			t.Fatal("failed to get voice channel:", err)
		}
		id, err := discord.ParseSnowflake(ch.GuildID)
		if err != nil {
			t.Fatal("invalid guild ID:", err)
		}
		guildID = discord.GuildID(id)
	}

	r := voice.NewRegistry(userID)
	t.Cleanup(func() { r.Close(context.Background()) })

	s, err := r.Join(ctx, dgvoice.New(dg), guildID, env.Discord.VoiceID, false, true)
	if err != nil {
		t.Fatal("failed to join:", err)
	}

	src, err := audio.FFmpeg(ctx, file, audio.FFmpegOptions{})
	if err != nil {
		t.Fatal("failed to start ffmpeg:", err)
	}

	if err := s.Play(src, false); err != nil {
		t.Fatal("failed to play:", err)
	}
	if err := s.WaitPlayback(ctx); err != nil {
		t.Fatal("playback failed:", err)
	}

	if err := r.Disconnect(ctx, guildID); err != nil {
		t.Fatal("failed to disconnect:", err)
	}
}
