package session

import (
	"context"
	"encoding/base64"
	"strings"

	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

// chunkOutcome describes what AcceptChunk did with a fragment.
type chunkOutcome int

const (
	chunkIgnored chunkOutcome = iota
	chunkBuffered
	chunkDropped
	chunkDuplicate
	chunkCompleted
)

// appendChunk buffers data and applies the utterance bookkeeping.
// A content chunk arriving after a finished utterance implicitly starts a new
// one. A terminal chunk is accepted at most once per utterance.
func (s *Session) appendChunk(data []byte, isLast bool, maxBytes int) (chunkOutcome, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return chunkIgnored, nil
	}
	if isLast && s.lastChunkSeen {
		return chunkDuplicate, nil
	}
	if !s.recording {
		if s.lastChunkSeen {
			s.lastChunkSeen = false
			s.audio = s.audio[:0]
		}
		s.recording = true
	}

	outcome := chunkBuffered
	if len(s.audio)+len(data) > maxBytes {
		outcome = chunkDropped
	} else {
		s.audio = append(s.audio, data...)
	}

	if !isLast {
		if outcome == chunkDropped {
			return chunkDropped, nil
		}
		return chunkBuffered, s.audio
	}

	s.lastChunkSeen = true
	s.recording = false
	utterance := make([]byte, len(s.audio))
	copy(utterance, s.audio)
	s.audio = s.audio[:0]
	return chunkCompleted, utterance
}

// AcceptChunk feeds one audio fragment into the session's current utterance.
// Empty non-terminal fragments are heartbeats and ignored. The terminal
// fragment triggers transcription and, for a non-empty transcript, a
// completed candidate turn. Repeated terminal fragments are ignored.
func (m *Machine) AcceptChunk(ctx context.Context, sess *Session, out interfaces.Emitter, chunk types.AudioChunk) {
	payload := strings.TrimSpace(chunk.Chunk)
	if payload == "" && !chunk.IsLast {
		return
	}

	var data []byte
	if payload != "" {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			m.log(sess).Debug("invalid base64 audio chunk dropped", "error", err)
			if !chunk.IsLast {
				return
			}
		} else {
			data = decoded
		}
	}

	outcome, audio := sess.appendChunk(data, chunk.IsLast, m.cfg.MaxAudioBytes)
	switch outcome {
	case chunkIgnored:
		return
	case chunkDuplicate:
		m.log(sess).Debug("duplicate terminal chunk ignored")
		return
	case chunkDropped:
		m.log(sess).Warn("audio buffer full, chunk dropped", "max_bytes", m.cfg.MaxAudioBytes)
		return
	case chunkBuffered:
		if m.cfg.LiveTranscription && len(audio) > 0 {
			m.liveTranscribe(ctx, sess, out, audio)
		}
		return
	}

	transcript := strings.TrimSpace(m.ai.Transcribe(ctx, audio))
	m.emit(sess, out, types.EventLiveTranscription, types.LiveTranscription{Text: transcript, Timestamp: m.now()})
	if transcript == "" {
		m.log(sess).Info("empty transcript, no turn recorded", "audio_bytes", len(audio))
		return
	}
	m.candidateTurn(ctx, sess, out, transcript)
}

func (m *Machine) liveTranscribe(ctx context.Context, sess *Session, out interfaces.Emitter, buffered []byte) {
	snapshot := make([]byte, len(buffered))
	copy(snapshot, buffered)
	if text := strings.TrimSpace(m.ai.Transcribe(ctx, snapshot)); text != "" {
		m.emit(sess, out, types.EventLiveTranscription, types.LiveTranscription{Text: text, Timestamp: m.now()})
	}
}
