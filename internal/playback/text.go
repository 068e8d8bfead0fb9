package playback

import (
	"strings"

	"github.com/chatcast/chatcast/internal/ttypes"
	"golang.org/x/text/unicode/norm"
)

// SpeakableText returns the text to send to the engine for a segment: the
// edited line if present, otherwise the line, without backticks.
func SpeakableText(seg ttypes.Segment) string {
	return cleanText(seg.Text())
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "`", "")
	s = norm.NFC.String(s)
	return strings.TrimSpace(s)
}

// copySegments deep-copies segments so later edits by the caller do not
// leak into a running session.
func copySegments(in []ttypes.Segment) []ttypes.Segment {
	out := make([]ttypes.Segment, len(in))
	for i, seg := range in {
		out[i] = seg
		out[i].EditedLine = copyPtr(seg.EditedLine)
		out[i].Rate = copyPtr(seg.Rate)
		out[i].Pitch = copyPtr(seg.Pitch)
		out[i].Volume = copyPtr(seg.Volume)
	}
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
