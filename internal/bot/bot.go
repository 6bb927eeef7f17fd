package bot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/user/meeting-notetaker/internal/audio/opus"
	"github.com/user/meeting-notetaker/internal/config"
	apperrors "github.com/user/meeting-notetaker/internal/errors"
	"github.com/user/meeting-notetaker/internal/filter"
	"github.com/user/meeting-notetaker/internal/metrics"
	"github.com/user/meeting-notetaker/internal/store"
	"github.com/user/meeting-notetaker/internal/stt"
	"github.com/user/meeting-notetaker/internal/stt/deepgram"
	"github.com/user/meeting-notetaker/internal/stt/vosk"
	"github.com/user/meeting-notetaker/internal/summariser"
	"github.com/user/meeting-notetaker/internal/summariser/gemini"
	"github.com/user/meeting-notetaker/internal/vad"
	"github.com/user/meeting-notetaker/internal/vad/webrtc"
)

// Components are shared by every session and every speaker pipeline.
type Components struct {
	Classifier  *vad.Classifier
	Filter      *filter.Filter
	Transcriber stt.Transcriber
	Summariser  summariser.Summariser
	Store       *store.FileStore
	Metrics     *metrics.Metrics
}

type Bot struct {
	config     *config.Config
	session    *discordgo.Session
	components Components

	// Active sessions
	sessions map[string]*VoiceSession
	mutex    sync.RWMutex
}

func NewBot(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	components, err := buildComponents(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		config:     cfg,
		session:    session,
		components: components,
		sessions:   make(map[string]*VoiceSession),
	}

	// Register handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)

	return bot, nil
}

func buildComponents(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Components, error) {
	c := Components{Metrics: m}

	// Voice packets decode to a fixed format
	if cfg.SampleRate != opus.SampleRate || cfg.Channels != opus.Channels {
		return c, apperrors.Configuration("discord voice decodes to %d Hz with %d channel(s), got AUDIO_SAMPLE_RATE=%d AUDIO_CHANNELS=%d",
			opus.SampleRate, opus.Channels, cfg.SampleRate, cfg.Channels)
	}

	vadConfig, err := cfg.Classifier()
	if err != nil {
		return c, err
	}
	var opts []vad.Option
	if cfg.WebRTCMode >= 0 {
		detector, err := webrtc.NewDetector(cfg.WebRTCMode)
		if err != nil {
			return c, fmt.Errorf("failed to create WebRTC detector: %w", err)
		}
		opts = append(opts, vad.WithDetector(detector))
	}
	if c.Classifier, err = vad.NewClassifier(vadConfig, opts...); err != nil {
		return c, fmt.Errorf("failed to create activity classifier: %w", err)
	}

	if c.Filter, err = filter.New(cfg.Filter()); err != nil {
		return c, fmt.Errorf("failed to create hallucination filter: %w", err)
	}

	if c.Store, err = store.NewFileStore(cfg.DataDir); err != nil {
		return c, fmt.Errorf("failed to create store: %w", err)
	}

	if c.Summariser, err = gemini.NewGeminiSummariser(ctx, cfg.GenAIAPIKey, cfg.GenAIModel); err != nil {
		return c, fmt.Errorf("failed to create summariser: %w", err)
	}

	// Create transcriber based on config
	switch cfg.STTBackend {
	case "vosk":
		c.Transcriber, err = vosk.NewVoskTranscriber(cfg.VoskModelPath, cfg.SampleRate)
		if err != nil {
			return c, fmt.Errorf("failed to create Vosk transcriber: %w", err)
		}
	case "deepgram":
		c.Transcriber, err = deepgram.NewDeepgramTranscriber(deepgram.Options{
			APIKey:    cfg.DeepgramAPIKey,
			Model:     cfg.DeepgramTier,
			Language:  cfg.DeepgramLanguage,
			Punctuate: cfg.DeepgramPunctuate,
			Diarize:   cfg.DeepgramDiarize,
		})
		if err != nil {
			return c, fmt.Errorf("failed to create Deepgram transcriber: %w", err)
		}
	default:
		return c, fmt.Errorf("unsupported STT backend: %s", cfg.STTBackend)
	}

	return c, nil
}

func (b *Bot) Start() error {
	// Open connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	log.Info().Msg("Discord bot started")
	return nil
}

func (b *Bot) Stop() error {
	// Stop all active sessions, keeping whatever was transcribed
	b.mutex.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*VoiceSession)
	b.mutex.Unlock()

	for _, session := range sessions {
		if err := session.Stop(); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Session did not drain cleanly")
		}
		if _, err := session.SaveTranscript(); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to save transcript on shutdown")
		}
	}

	// Close Discord session
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}

	if err := b.components.Transcriber.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close transcriber")
	}
	if err := b.components.Summariser.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close summariser")
	}

	log.Info().Msg("Discord bot stopped")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Info().
		Str("username", event.User.Username).
		Int("guilds", len(event.Guilds)).
		Msg("Bot is ready")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot messages
	if m.Author.Bot {
		return
	}

	switch parseCommand(m.Content) {
	case commandJoin:
		b.handleJoin(s, m)
	case commandLeave:
		b.handleLeave(s, m)
	}
}

func (b *Bot) handleJoin(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Find user's voice channel
	guild, err := s.State.Guild(m.GuildID)
	if err != nil {
		b.sendError(s, m.ChannelID, "Failed to get guild information")
		return
	}

	var voiceChannelID string
	for _, voiceState := range guild.VoiceStates {
		if voiceState.UserID == m.Author.ID {
			voiceChannelID = voiceState.ChannelID
			break
		}
	}

	if voiceChannelID == "" {
		b.sendError(s, m.ChannelID, "You need to be in a voice channel to use this command")
		return
	}

	// Check if already recording in this guild
	if b.sessionForGuild(m.GuildID) != nil {
		b.sendError(s, m.ChannelID, "Already recording in this server")
		return
	}

	sessionID := store.GenerateSessionID()
	session := NewVoiceSession(
		sessionID,
		m.GuildID,
		voiceChannelID,
		m.ChannelID,
		m.Author.ID,
		s,
		b.config,
		b.components,
	)

	if err := session.Start(); err != nil {
		b.sendError(s, m.ChannelID, fmt.Sprintf("Failed to start recording: %v", err))
		return
	}

	b.mutex.Lock()
	b.sessions[sessionID] = session
	b.mutex.Unlock()

	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("🎙️ Started recording in <#%s>. Use `!leave` to stop.", voiceChannelID))

	log.Info().
		Str("session_id", sessionID).
		Str("guild_id", m.GuildID).
		Str("channel_id", voiceChannelID).
		Str("user_id", m.Author.ID).
		Msg("Started voice recording session")
}

func (b *Bot) handleLeave(s *discordgo.Session, m *discordgo.MessageCreate) {
	session := b.sessionForGuild(m.GuildID)
	if session == nil {
		b.sendError(s, m.ChannelID, "No active recording session in this server")
		return
	}

	b.mutex.Lock()
	delete(b.sessions, session.ID)
	b.mutex.Unlock()

	processingMsg, _ := s.ChannelMessageSend(m.ChannelID, "⏳ Processing recording and generating notes...")

	// Stop drains every speaker pipeline before the transcript is written
	if err := session.Stop(); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("Session did not drain cleanly")
	}

	transcriptPath, notesPath, err := session.Finalize(context.Background())
	if err != nil {
		b.sendError(s, m.ChannelID, fmt.Sprintf("Failed to process recording: %v", err))
		return
	}

	if processingMsg != nil {
		s.ChannelMessageEdit(m.ChannelID, processingMsg.ID, "✅ Recording processed!")
	}

	b.sendFiles(s, m.ChannelID, transcriptPath, notesPath)

	log.Info().
		Str("session_id", session.ID).
		Str("transcript_path", transcriptPath).
		Str("notes_path", notesPath).
		Msg("Completed voice recording session")
}

func (b *Bot) sessionForGuild(guildID string) *VoiceSession {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, session := range b.sessions {
		if session.GuildID == guildID {
			return session
		}
	}
	return nil
}

func (b *Bot) sendError(s *discordgo.Session, channelID, message string) {
	s.ChannelMessageSend(channelID, "❌ "+message)
	log.Warn().Str("channel_id", channelID).Str("error", message).Msg("Sent error message")
}

func (b *Bot) sendFiles(s *discordgo.Session, channelID, transcriptPath, notesPath string) {
	transcriptData, err := os.ReadFile(transcriptPath)
	if err != nil {
		b.sendError(s, channelID, "Failed to read transcript file")
		return
	}

	notesData, err := os.ReadFile(notesPath)
	if err != nil {
		b.sendError(s, channelID, "Failed to read notes file")
		return
	}

	_, err = s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: "📝 Here are your meeting notes and transcript:",
		Files: []*discordgo.File{
			{
				Name:        "transcript.jsonl",
				ContentType: "application/jsonl",
				Reader:      strings.NewReader(string(transcriptData)),
			},
			{
				Name:        "notes.md",
				ContentType: "text/markdown",
				Reader:      strings.NewReader(string(notesData)),
			},
		},
	})

	if err != nil {
		b.sendError(s, channelID, "Failed to send files")
	}
}
