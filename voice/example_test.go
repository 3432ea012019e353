package voice_test

import (
	"context"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/voicestream/voicestream/audio"
	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/voice"
	"github.com/voicestream/voicestream/voice/dgvoice"
)

func ExampleSession() {
	dg, err := discordgo.New("Bot TOKEN")
	if err != nil {
		log.Fatalln("failed to create session:", err)
	}
	dg.Identify.Intents = dgvoice.Intents

	if err := dg.Open(); err != nil {
		log.Fatalln("failed to open:", err)
	}
	defer dg.Close()

	userID, err := dgvoice.UserID(dg)
	if err != nil {
		log.Fatalln(err)
	}

	const (
		guildID   discord.GuildID   = 41771983423143937
		channelID discord.ChannelID = 41771983423143938
	)

	ctx := context.Background()

	s := voice.NewSession(guildID, userID)
	if err := s.JoinChannel(ctx, dgvoice.New(dg), channelID, false, true); err != nil {
		log.Fatalln("failed to join:", err)
	}
	defer s.Disconnect(ctx)

	src, err := audio.OggFile("song.ogg")
	if err != nil {
		log.Fatalln(err)
	}

	if err := s.Play(src, false); err != nil {
		log.Fatalln("failed to play:", err)
	}

	if err := s.WaitPlayback(ctx); err != nil {
		log.Println("playback failed:", err)
	}
}
