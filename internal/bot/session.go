package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/meeting-notetaker/internal/audio"
	"github.com/user/meeting-notetaker/internal/audio/opus"
	"github.com/user/meeting-notetaker/internal/config"
	"github.com/user/meeting-notetaker/internal/pipeline"
)

const voiceReadyTimeout = 10 * time.Second

// speaker is one SSRC's audio stream and the pipeline transcribing it.
type speaker struct {
	ssrc     uint32
	name     string
	decoder  *opus.Decoder
	pipeline *pipeline.Pipeline

	mu       sync.Mutex
	timeline timeline
	samples  int
}

// advance accounts for n decoded samples that arrived at now.
func (sp *speaker) advance(n int, now time.Time) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	offset := time.Duration(sp.samples) * time.Second / time.Duration(opus.SampleRate*opus.Channels)
	sp.timeline.observe(offset, now)
	sp.samples += n
}

func (sp *speaker) utterance(seg pipeline.Segment, userID, source string) audio.Utterance {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return toUtterance(seg, &sp.timeline, userID, source)
}

type VoiceSession struct {
	ID            string
	GuildID       string
	ChannelID     string
	TextChannelID string
	UserID        string // User who initiated the session

	config     *config.Config
	components Components

	// Discord
	session   *discordgo.Session
	voiceConn *discordgo.VoiceConnection

	// Per-speaker pipelines, guarded by mutex
	speakers   map[uint32]*speaker
	speakerMap map[uint32]string // SSRC -> UserID mapping
	stopped    bool
	mutex      sync.Mutex

	utterances []audio.Utterance
	uttMutex   sync.Mutex

	// recvCtx ends packet capture; pipeCtx aborts the pipelines outright
	recvCtx    context.Context
	recvCancel context.CancelFunc
	pipeCtx    context.Context
	pipeCancel context.CancelFunc
	group      *errgroup.Group
}

func NewVoiceSession(
	id, guildID, channelID, textChannelID, userID string,
	session *discordgo.Session,
	cfg *config.Config,
	components Components,
) *VoiceSession {
	recvCtx, recvCancel := context.WithCancel(context.Background())
	pipeCtx, pipeCancel := context.WithCancel(context.Background())

	return &VoiceSession{
		ID:            id,
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		UserID:        userID,
		config:        cfg,
		components:    components,
		session:       session,
		speakers:      make(map[uint32]*speaker),
		speakerMap:    make(map[uint32]string),
		recvCtx:       recvCtx,
		recvCancel:    recvCancel,
		pipeCtx:       pipeCtx,
		pipeCancel:    pipeCancel,
		group:         &errgroup.Group{},
	}
}

func (vs *VoiceSession) Start() error {
	// deaf must be false to receive audio
	voiceConn, err := vs.session.ChannelVoiceJoin(vs.GuildID, vs.ChannelID, false, false)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}
	vs.voiceConn = voiceConn

	// Register before audio flows so SSRC mappings are not missed
	vs.voiceConn.AddHandler(vs.handleSpeakingUpdate)

	deadline := time.Now().Add(voiceReadyTimeout)
	for !vs.voiceConn.Ready {
		if time.Now().After(deadline) {
			vs.voiceConn.Disconnect()
			return fmt.Errorf("voice connection not ready after %v", voiceReadyTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Discord expects a speaking state before it sends SSRC mappings
	if err := vs.voiceConn.Speaking(false); err != nil {
		log.Warn().
			Str("session_id", vs.ID).
			Err(err).
			Msg("Failed to send initial speaking state")
	}

	vs.group.Go(vs.receiveLoop)

	log.Info().
		Str("session_id", vs.ID).
		Str("guild_id", vs.GuildID).
		Str("channel_id", vs.ChannelID).
		Msg("Voice session started")

	return nil
}

func (vs *VoiceSession) receiveLoop() error {
	defer log.Debug().Str("session_id", vs.ID).Msg("Audio receive stopped")

	for {
		select {
		case packet, ok := <-vs.voiceConn.OpusRecv:
			if !ok {
				log.Info().Str("session_id", vs.ID).Msg("Voice receive channel closed")
				return nil
			}
			vs.processAudioPacket(packet)
		case <-vs.recvCtx.Done():
			return nil
		}
	}
}

func (vs *VoiceSession) processAudioPacket(packet *discordgo.Packet) {
	sp, err := vs.speakerFor(packet.SSRC)
	if err != nil {
		if !errors.Is(err, pipeline.ErrStopped) {
			log.Error().Err(err).Str("session_id", vs.ID).Uint32("ssrc", packet.SSRC).Msg("Failed to create speaker pipeline")
		}
		return
	}

	pcm, err := sp.decoder.DecodeFloat(packet.Opus)
	if err != nil {
		log.Warn().
			Str("session_id", vs.ID).
			Uint32("ssrc", packet.SSRC).
			Err(err).
			Msg("Failed to decode opus packet")
		return
	}

	sp.advance(len(pcm), time.Now())
	if err := sp.pipeline.Push(pcm); err != nil && !errors.Is(err, pipeline.ErrStopped) {
		log.Warn().Err(err).Str("stream", sp.name).Msg("Failed to push samples")
	}
}

// speakerFor returns the SSRC's speaker, starting its pipeline on first use.
func (vs *VoiceSession) speakerFor(ssrc uint32) (*speaker, error) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()

	if vs.stopped {
		return nil, pipeline.ErrStopped
	}
	if sp, ok := vs.speakers[ssrc]; ok {
		return sp, nil
	}

	decoder, err := opus.NewDecoder()
	if err != nil {
		return nil, err
	}

	name := streamName(vs.ID, ssrc)
	opts := []pipeline.Option{
		pipeline.WithName(name),
		pipeline.WithHealthHook(func(from, to pipeline.Health) {
			go vs.announceHealth(ssrc, to)
		}),
	}
	if vs.components.Metrics != nil {
		opts = append(opts, pipeline.WithObserver(vs.components.Metrics.ForStream(name)))
	}

	p, err := pipeline.New(
		vs.config.Pipeline(),
		vs.components.Classifier,
		vs.components.Transcriber,
		vs.components.Filter,
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if err := p.Start(vs.pipeCtx); err != nil {
		return nil, err
	}

	sp := &speaker{ssrc: ssrc, name: name, decoder: decoder, pipeline: p}
	vs.speakers[ssrc] = sp
	vs.group.Go(func() error { return vs.collect(sp) })

	log.Info().
		Str("session_id", vs.ID).
		Uint32("ssrc", ssrc).
		Str("stream", name).
		Msg("Started speaker pipeline")

	return sp, nil
}

// collect tags a speaker's segments as utterances until the pipeline drains.
func (vs *VoiceSession) collect(sp *speaker) error {
	for seg := range sp.pipeline.Segments() {
		u := sp.utterance(seg, vs.userFor(sp.ssrc), vs.config.STTBackend)

		vs.uttMutex.Lock()
		vs.utterances = append(vs.utterances, u)
		total := len(vs.utterances)
		vs.uttMutex.Unlock()

		log.Debug().
			Str("session_id", vs.ID).
			Str("stream", sp.name).
			Str("user_id", u.UserID).
			Int("total_utterances", total).
			Msg("Added utterance")
	}

	err := sp.pipeline.Wait()
	if vs.components.Metrics != nil {
		vs.components.Metrics.Forget(sp.name)
	}

	stats := sp.pipeline.Stats()
	log.Info().
		Str("stream", sp.name).
		Uint64("queued", stats.Queued).
		Uint64("dropped_queue_full", stats.DroppedQueueFull).
		Uint64("gated_out", stats.GatedOut).
		Uint64("transcription_failures", stats.TranscriptionFailures).
		Uint64("emitted", stats.Emitted).
		Msg("Speaker pipeline drained")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("speaker %s: %w", sp.name, err)
	}
	return nil
}

func (vs *VoiceSession) announceHealth(ssrc uint32, to pipeline.Health) {
	if _, err := vs.session.ChannelMessageSend(vs.TextChannelID, healthMessage(vs.userFor(ssrc), to)); err != nil {
		log.Warn().Err(err).Str("session_id", vs.ID).Msg("Failed to announce pipeline health")
	}
}

func (vs *VoiceSession) handleSpeakingUpdate(vc *discordgo.VoiceConnection, update *discordgo.VoiceSpeakingUpdate) {
	if update == nil || !update.Speaking {
		return
	}

	vs.mutex.Lock()
	vs.speakerMap[uint32(update.SSRC)] = update.UserID
	total := len(vs.speakerMap)
	vs.mutex.Unlock()

	log.Info().
		Str("session_id", vs.ID).
		Uint32("ssrc", uint32(update.SSRC)).
		Str("user_id", update.UserID).
		Int("total_mappings", total).
		Msg("User started speaking - added SSRC mapping")
}

// userFor resolves an SSRC to a user, falling back to the first channel
// member not yet mapped to any SSRC.
func (vs *VoiceSession) userFor(ssrc uint32) string {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()

	if userID, ok := vs.speakerMap[ssrc]; ok {
		return userID
	}

	guild, err := vs.session.State.Guild(vs.GuildID)
	if err != nil {
		return ""
	}

	mapped := make(map[string]bool, len(vs.speakerMap))
	for _, userID := range vs.speakerMap {
		mapped[userID] = true
	}
	botID := ""
	if vs.session.State.User != nil {
		botID = vs.session.State.User.ID
	}

	for _, voiceState := range guild.VoiceStates {
		if voiceState.ChannelID != vs.ChannelID || voiceState.UserID == botID || mapped[voiceState.UserID] {
			continue
		}
		vs.speakerMap[ssrc] = voiceState.UserID
		log.Info().
			Str("session_id", vs.ID).
			Uint32("ssrc", ssrc).
			Str("user_id", voiceState.UserID).
			Msg("Auto-mapped SSRC to next unmapped user")
		return voiceState.UserID
	}

	log.Debug().
		Str("session_id", vs.ID).
		Uint32("ssrc", ssrc).
		Msg("Could not map SSRC to a user")
	return ""
}

// Stop ends capture, flushes every speaker's trailing audio and waits until
// all queued chunks are transcribed.
func (vs *VoiceSession) Stop() error {
	vs.mutex.Lock()
	if vs.stopped {
		vs.mutex.Unlock()
		return nil
	}
	vs.stopped = true
	speakers := make([]*speaker, 0, len(vs.speakers))
	for _, sp := range vs.speakers {
		speakers = append(speakers, sp)
	}
	vs.mutex.Unlock()

	vs.recvCancel()
	if vs.voiceConn != nil {
		if err := vs.voiceConn.Disconnect(); err != nil {
			log.Warn().Err(err).Str("session_id", vs.ID).Msg("Failed to disconnect from voice")
		}
	}

	for _, sp := range speakers {
		sp.pipeline.Stop()
	}

	err := vs.group.Wait()
	vs.pipeCancel()

	vs.uttMutex.Lock()
	total := len(vs.utterances)
	vs.uttMutex.Unlock()

	log.Info().
		Str("session_id", vs.ID).
		Int("speakers", len(speakers)).
		Int("total_utterances", total).
		Msg("Voice session stopped")

	return err
}

// Utterances returns the collected utterances in start order.
func (vs *VoiceSession) Utterances() []audio.Utterance {
	vs.uttMutex.Lock()
	utterances := make([]audio.Utterance, len(vs.utterances))
	copy(utterances, vs.utterances)
	vs.uttMutex.Unlock()

	sortUtterances(utterances)
	return utterances
}

// SaveTranscript writes the utterances collected so far.
func (vs *VoiceSession) SaveTranscript() (string, error) {
	return vs.components.Store.SaveTranscript(vs.ID, vs.Utterances())
}

// Finalize resolves speaker names, saves the transcript and writes the notes.
func (vs *VoiceSession) Finalize(ctx context.Context) (string, string, error) {
	utterances := vs.Utterances()
	vs.resolveUserTags(utterances)

	transcriptPath, err := vs.components.Store.SaveTranscript(vs.ID, utterances)
	if err != nil {
		return "", "", fmt.Errorf("failed to save transcript: %w", err)
	}

	summary, err := vs.components.Summariser.Summarise(ctx, utterances, vs.config.SummaryMode)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate notes: %w", err)
	}

	notesPath, err := vs.components.Store.SaveNotes(vs.ID, notesDocument(summary, utterances))
	if err != nil {
		return "", "", fmt.Errorf("failed to save notes: %w", err)
	}

	return transcriptPath, notesPath, nil
}

// resolveUserTags fills UserTag with the member's nickname or username.
func (vs *VoiceSession) resolveUserTags(utterances []audio.Utterance) {
	names := make(map[string]string)
	for i := range utterances {
		userID := utterances[i].UserID
		if userID == "" {
			continue
		}
		name, ok := names[userID]
		if !ok {
			name = vs.displayName(userID)
			names[userID] = name
		}
		utterances[i].UserTag = name
	}
}

func (vs *VoiceSession) displayName(userID string) string {
	member, err := vs.session.GuildMember(vs.GuildID, userID)
	if err == nil {
		if member.Nick != "" {
			return member.Nick
		}
		return member.User.Username
	}

	// Fallback to User API if Guild Member fails
	user, userErr := vs.session.User(userID)
	if userErr == nil {
		return user.Username
	}

	log.Warn().
		Str("session_id", vs.ID).
		Str("user_id", userID).
		AnErr("member_error", err).
		AnErr("user_error", userErr).
		Msg("Failed to resolve User ID to username")
	return "Unknown User"
}
