package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyInput names everything that shapes a segment's audio. Two requests with
// equal KeyInput may share cached PCM.
type KeyInput struct {
	Engine     string  // engine identity, including model/version when known
	VoiceID    string
	Text       string  // exact text sent to the engine, overlap included
	Speed      float64
	SampleRate int
}

// Key derives the cache key. Fields are length-prefixed before hashing so no
// two distinct inputs can collide by concatenation.
func Key(in KeyInput) string {
	h := sha256.New()
	for _, field := range []string{
		in.Engine,
		in.VoiceID,
		in.Text,
		fmt.Sprintf("%.4f", in.Speed),
		fmt.Sprintf("%d", in.SampleRate),
	} {
		fmt.Fprintf(h, "%d:", len(field))
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
