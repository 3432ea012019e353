package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/k0kubun/pp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/voicestream/voicestream/audio"
	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/config"
	"github.com/voicestream/voicestream/internal/logging"
	"github.com/voicestream/voicestream/utils/ws"
	"github.com/voicestream/voicestream/voice"
	"github.com/voicestream/voicestream/voice/dgvoice"
)

var playOpts struct {
	ogg        bool
	object     bool
	priority   bool
	dumpEvents bool
}

var playCmd = &cobra.Command{
	Use:   "play <file|url|->",
	Short: "Join $VOICE_ID and play audio",
	Long: `Join the voice channel in $VOICE_ID and play the given input.

By default the input is transcoded with FFmpeg, so anything FFmpeg reads
works, including URLs. "-" reads from standard input. With --ogg the input
must already be an Ogg/Opus file and is streamed as is. With --minio the
argument is an object key in $MINIO_BUCKET holding an Ogg/Opus stream.

Interrupting stops the playback and leaves the channel.

Examples:
  voicestream play song.mp3
  voicestream play --ogg --priority announcement.ogg
  voicestream play --minio sounds/airhorn.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := cfg.Discord.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return play(ctx, cmd, cfg, args[0])
	},
}

func init() {
	playCmd.Flags().BoolVar(&playOpts.ogg, "ogg", false, "input is an Ogg/Opus file, skip FFmpeg")
	playCmd.Flags().BoolVar(&playOpts.object, "minio", false, "input is an object key in $MINIO_BUCKET")
	playCmd.Flags().BoolVar(&playOpts.priority, "priority", false, "speak as priority speaker")
	playCmd.Flags().BoolVar(&playOpts.dumpEvents, "dump-events", false, "pretty-print voice events to stderr")
}

func play(ctx context.Context, cmd *cobra.Command, cfg *config.Config, input string) error {
	log := logging.Named("play")

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return errors.Wrap(err, "failed to create discord session")
	}
	dg.Identify.Intents = dgvoice.Intents

	if err := dg.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}
	defer dg.Close()

	userID, err := dgvoice.UserID(dg)
	if err != nil {
		return err
	}

	guildID, err := voiceGuild(dg, cfg.Discord)
	if err != nil {
		return err
	}

	src, err := openSource(ctx, cfg, input)
	if err != nil {
		return err
	}
	defer src.Cleanup()

	registry := voice.NewRegistry(userID)
	registry.NewSessionFunc = func(s *voice.Session) {
		s.HandshakeTimeout = cfg.Voice.HandshakeTimeout
		s.ReconnectAttempts = cfg.Voice.ReconnectAttempts

		if playOpts.dumpEvents {
			s.Handlers().HandleCallback(func(ev ws.Event) {
				pp.Fprintln(cmd.ErrOrStderr(), ev)
			})
		}
	}
	defer registry.Close(context.Background())

	s, err := registry.Join(ctx, dgvoice.New(dg), guildID, cfg.Discord.VoiceID, false, true)
	if err != nil {
		return err
	}

	log.Infow("joined voice channel", "guild", guildID, "channel", cfg.Discord.VoiceID)

	if err := s.Play(src, playOpts.priority); err != nil {
		return err
	}

	playErr := s.WaitPlayback(ctx)
	if ctx.Err() != nil {
		log.Info("interrupted, stopping")
		playErr = s.Stop()
	}

	if err := registry.Disconnect(context.Background(), guildID); err != nil {
		log.Warnw("failed to leave voice channel", "err", err)
	}

	return playErr
}

// voiceGuild returns $GUILD_ID, or looks up the guild of $VOICE_ID.
func voiceGuild(dg *discordgo.Session, cfg config.DiscordConfig) (discord.GuildID, error) {
	if cfg.GuildID.IsValid() {
		return cfg.GuildID, nil
	}

	ch, err := dg.Channel(cfg.VoiceID.String())
	if err != nil {
		return 0, errors.Wrap(err, "failed to get voice channel")
	}

	id, err := discord.ParseSnowflake(ch.GuildID)
	if err != nil || !id.IsValid() {
		return 0, errors.Errorf("channel %v is not in a guild", cfg.VoiceID)
	}

	return discord.GuildID(id), nil
}

func openSource(ctx context.Context, cfg *config.Config, input string) (audio.Source, error) {
	switch {
	case playOpts.object:
		if err := cfg.Minio.Validate(); err != nil {
			return nil, err
		}

		client, err := audio.ObjectStore{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Secure:    cfg.Minio.Secure,
		}.Client()
		if err != nil {
			return nil, err
		}

		return audio.Object(ctx, client, cfg.Minio.Bucket, input)

	case playOpts.ogg && input == "-":
		return audio.Reader(os.Stdin), nil

	case playOpts.ogg:
		return audio.OggFile(input)

	case input == "-":
		return audio.FFmpegReader(ctx, os.Stdin, audio.FFmpegOptions{Bitrate: cfg.Voice.Bitrate})

	default:
		return audio.FFmpeg(ctx, input, audio.FFmpegOptions{Bitrate: cfg.Voice.Bitrate})
	}
}
