// Package discord provides an [audio.Sink] that plays response audio into a
// Discord voice channel via the bwmarrin/discordgo library. Each stream's PCM
// is converted to Discord's 48 kHz stereo format, encoded to Opus with gopus,
// and paced by the voice connection's send channel.
//
// The sink requires an active *discordgo.Session (owned by the chat layer).
// It joins the configured voice channel lazily when the first stream starts
// and keeps the connection across streams; Close leaves the channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/moksori-live/moksori/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// errStopped signals that Stop interrupted a send.
var errStopped = errors.New("discord: stream stopped")

// Option is a functional option for configuring a Sink.
type Option func(*Sink)

// WithLogger sets the logger for voice lifecycle events.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// Sink implements [audio.Sink] over a Discord voice channel.
//
// Sink is safe for concurrent use; PlayStream runs on the caller's goroutine
// while Stop, IsPlaying and Close may be called from anywhere.
type Sink struct {
	channelID string
	log       *slog.Logger

	// join and leave wrap the session voice calls; overridden in tests.
	join  func() (*discordgo.VoiceConnection, error)
	leave func(*discordgo.VoiceConnection) error

	mu       sync.Mutex
	vc       *discordgo.VoiceConnection
	loudness func(float64)
	playing  bool
	stop     chan struct{}
}

// New creates a Sink that plays into the given guild's voice channel.
func New(session *discordgo.Session, guildID, channelID string, opts ...Option) (*Sink, error) {
	if session == nil {
		return nil, errors.New("discord: session must not be nil")
	}
	if guildID == "" || channelID == "" {
		return nil, errors.New("discord: guild and voice channel ids must not be empty")
	}
	s := &Sink{
		channelID: channelID,
		log:       slog.Default(),
	}
	// Join deafened: the engine hears through the local microphone, not the
	// voice channel.
	s.join = func() (*discordgo.VoiceConnection, error) {
		return session.ChannelVoiceJoin(guildID, channelID, false, true)
	}
	s.leave = func(vc *discordgo.VoiceConnection) error { return vc.Disconnect() }
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// PlayStream implements [audio.Sink]. The first chunk must carry a RIFF/WAVE
// header; every following chunk is converted to 48 kHz stereo, cut into 20 ms
// Opus frames, and sent down the voice connection. The send channel's
// backpressure paces the stream at realtime, so PlayStream blocks for roughly
// the audible duration of the audio.
func (s *Sink) PlayStream(ctx context.Context, chunks <-chan []byte) error {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return errors.New("discord: a stream is already playing")
	}
	stop := make(chan struct{})
	s.stop = stop
	s.playing = true
	fn := s.loudness
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.playing = false
		if s.stop == stop {
			s.stop = nil
		}
		s.mu.Unlock()
	}()

	var header []byte
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case chunk, ok := <-chunks:
		if !ok {
			// Closed before the header: nothing to play.
			return nil
		}
		header = chunk
	}

	info, err := audio.ParseWAVHeader(header)
	if err != nil {
		return fmt.Errorf("discord: parse stream header: %w", err)
	}
	if info.Format.BitsPerSample != 16 {
		return fmt.Errorf("discord: unsupported stream format: %d bits per sample", info.Format.BitsPerSample)
	}
	src := info.Format
	target := audio.Format{SampleRate: opusSampleRate, Channels: opusChannels, BitsPerSample: 16}

	vc, err := s.ensureJoined()
	if err != nil {
		return err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	s.setSpeaking(vc, true)
	defer s.setSpeaking(vc, false)

	var buf []byte
	flush := func(final bool) error {
		for len(buf) >= opusFrameBytes {
			pkt, eErr := enc.encode(buf[:opusFrameBytes])
			buf = buf[opusFrameBytes:]
			if eErr != nil {
				s.log.Warn("opus encode failed, frame dropped", "error", eErr)
				continue
			}
			select {
			case vc.OpusSend <- pkt:
			case <-stop:
				return errStopped
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !final || len(buf) == 0 {
			return nil
		}
		// Pad the tail to a whole frame with silence.
		buf = append(buf, make([]byte, opusFrameBytes-len(buf))...)
		pkt, eErr := enc.encode(buf)
		buf = nil
		if eErr != nil {
			s.log.Warn("opus encode failed, frame dropped", "error", eErr)
			return nil
		}
		select {
		case vc.OpusSend <- pkt:
		case <-stop:
			return errStopped
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	// Some producers pack PCM behind the header in the same chunk.
	if len(header) > info.DataOffset {
		if pcm, cErr := audio.Convert(header[info.DataOffset:], src, target); cErr == nil {
			buf = append(buf, pcm...)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				if err := flush(true); err != nil {
					if errors.Is(err, errStopped) {
						return nil
					}
					return err
				}
				return nil
			}
			pcm, cErr := audio.Convert(chunk, src, target)
			if cErr != nil {
				s.log.Warn("chunk conversion failed, chunk skipped", "error", cErr)
				continue
			}
			buf = append(buf, pcm...)
			if err := flush(false); err != nil {
				if errors.Is(err, errStopped) {
					return nil
				}
				return err
			}
			if fn != nil {
				fn(audio.ChunkLoudness(chunk))
			}
		}
	}
}

// Stop implements [audio.Sink]. It unblocks an active PlayStream and discards
// unsent audio. Safe to call when nothing is playing.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// IsPlaying implements [audio.Sink].
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// OnChunkLoudness implements [audio.Sink]. The callback takes effect for
// streams started after the call.
func (s *Sink) OnChunkLoudness(fn func(float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loudness = fn
}

// SetOutputDevice implements [audio.Sink]. A voice channel has no local
// output device; the id is ignored.
func (s *Sink) SetOutputDevice(string) error { return nil }

// Close stops any active stream and leaves the voice channel. Safe to call
// more than once and before the channel was ever joined.
func (s *Sink) Close() error {
	s.Stop()
	s.mu.Lock()
	vc := s.vc
	s.vc = nil
	s.mu.Unlock()
	if vc == nil {
		return nil
	}
	if err := s.leave(vc); err != nil {
		return fmt.Errorf("discord: leave voice channel: %w", err)
	}
	return nil
}

// ensureJoined returns the live voice connection, joining the channel on
// first use.
func (s *Sink) ensureJoined() (*discordgo.VoiceConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc != nil {
		return s.vc, nil
	}
	vc, err := s.join()
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", s.channelID, err)
	}
	s.log.Info("joined voice channel", "channel_id", s.channelID)
	s.vc = vc
	return vc, nil
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (s *Sink) setSpeaking(vc *discordgo.VoiceConnection, b bool) {
	if err := vc.Speaking(b); err != nil {
		s.log.Warn("speaking notification error", "speaking", b, "error", err)
	}
}
