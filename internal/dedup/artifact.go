// Package dedup decides whether an inbound artifact has already been
// ingested for a conversation.
package dedup

import (
	"fmt"

	"github.com/zapdesk/zapdesk/internal/models"
)

// Artifact kinds.
const (
	KindText      = "text"
	KindImage     = "image"
	KindAudio     = "audio"
	KindVideo     = "video"
	KindDocument  = "document"
	KindVoiceNote = "voice_note"
)

// Key is one dedup identity: a (kind, value) pair scoped to a conversation.
type Key struct {
	Kind  string
	Value string
}

// Artifact is a closed set of inbound artifact variants. Each variant
// yields only the identity keys its kind supports, in match-priority order:
// provider message id, media URL, content hash, then the (file name, file
// size) heuristic.
type Artifact interface {
	// Kind returns the artifact kind constant.
	Kind() string
	// Keys returns the dedup identities in priority order. An empty slice
	// means the artifact has no stable identity and is always unique.
	Keys() []Key
}

// Text is a plain text message.
type Text struct {
	ProviderMessageID string
	Body              string
}

func (a Text) Kind() string { return KindText }

func (a Text) Keys() []Key {
	if a.ProviderMessageID == "" {
		return nil
	}
	return []Key{{models.DedupProviderID, a.ProviderMessageID}}
}

// media carries the identity fields shared by file-backed artifacts.
type media struct {
	ProviderMessageID string
	MediaURL          string
	ContentHash       string
	FileName          string
	FileSize          int64
}

func (m media) keys() []Key {
	var keys []Key
	if m.ProviderMessageID != "" {
		keys = append(keys, Key{models.DedupProviderID, m.ProviderMessageID})
	}
	if m.MediaURL != "" {
		keys = append(keys, Key{models.DedupMediaURL, m.MediaURL})
	}
	if m.ContentHash != "" {
		keys = append(keys, Key{models.DedupHash, m.ContentHash})
	}
	// Name+size is the lowest-confidence fallback, only useful when no
	// hash was computed.
	if m.ContentHash == "" && m.FileName != "" && m.FileSize > 0 {
		keys = append(keys, Key{models.DedupNameSize, fmt.Sprintf("%s:%d", m.FileName, m.FileSize)})
	}
	return keys
}

// Image is an inbound image file.
type Image struct{ media }

func (a Image) Kind() string { return KindImage }
func (a Image) Keys() []Key  { return a.keys() }

// Audio is an uploaded audio file (not a recorded voice note).
type Audio struct{ media }

func (a Audio) Kind() string { return KindAudio }
func (a Audio) Keys() []Key  { return a.keys() }

// Video is an inbound video file.
type Video struct{ media }

func (a Video) Kind() string { return KindVideo }
func (a Video) Keys() []Key  { return a.keys() }

// Document is an inbound document file.
type Document struct{ media }

func (a Document) Kind() string { return KindDocument }
func (a Document) Keys() []Key  { return a.keys() }

// VoiceNote is a recorded voice message. Voice notes are ephemeral
// client-generated content with no stable identity, so they carry no dedup
// keys and are always treated as unique.
type VoiceNote struct {
	MediaURL        string
	DurationSeconds int
}

func (a VoiceNote) Kind() string { return KindVoiceNote }
func (a VoiceNote) Keys() []Key  { return nil }

// NewImage, NewAudio, NewVideo and NewDocument build file-backed artifacts.
func NewImage(providerID, mediaURL, hash, fileName string, fileSize int64) Image {
	return Image{media{providerID, mediaURL, hash, fileName, fileSize}}
}

func NewAudio(providerID, mediaURL, hash, fileName string, fileSize int64) Audio {
	return Audio{media{providerID, mediaURL, hash, fileName, fileSize}}
}

func NewVideo(providerID, mediaURL, hash, fileName string, fileSize int64) Video {
	return Video{media{providerID, mediaURL, hash, fileName, fileSize}}
}

func NewDocument(providerID, mediaURL, hash, fileName string, fileSize int64) Document {
	return Document{media{providerID, mediaURL, hash, fileName, fileSize}}
}
