// Package integrity signs and verifies score submissions.
//
// A submission is authenticated with HMAC-SHA256 keyed by the player's
// secret key over
//
//	LE64(timestamp) || leaderboard key || player id || LE32(score bits) || meta
//
// where meta is appended only when present. Binding the leaderboard key
// stops a signature made for one leaderboard from being accepted on
// another, and binding the timestamp lets exact-tuple uniqueness catch
// verbatim replays.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/google/uuid"
)

// Submission is the wire form of a signed score
type Submission struct {
	Score     float32   `json:"score"`
	Player    uuid.UUID `json:"player"`
	Meta      *string   `json:"meta"`
	Timestamp int64     `json:"timestamp"`
	Signature string    `json:"k"`
}

// Sign fills in the signature for the given secrets
func (s *Submission) Sign(playerKey, leaderboardKey uuid.UUID) {
	s.Signature = Sign(playerKey, leaderboardKey, s.Player, s.Score, s.Meta, s.Timestamp)
}

// Verify reports whether the signature matches the given secrets
func (s Submission) Verify(playerKey, leaderboardKey uuid.UUID) bool {
	return Verify(playerKey, leaderboardKey, s.Player, s.Score, s.Meta, s.Timestamp, s.Signature)
}

// Sign returns the hex-encoded MAC of a score submission
func Sign(playerKey, leaderboardKey, playerID uuid.UUID, score float32, meta *string, timestamp int64) string {
	return hex.EncodeToString(mac(playerKey, leaderboardKey, playerID, score, meta, timestamp))
}

// Verify recomputes the MAC and compares it in constant time. A
// signature that is not valid hex never matches.
func Verify(playerKey, leaderboardKey, playerID uuid.UUID, score float32, meta *string, timestamp int64, signature string) bool {
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(playerKey, leaderboardKey, playerID, score, meta, timestamp), given)
}

func mac(playerKey, leaderboardKey, playerID uuid.UUID, score float32, meta *string, timestamp int64) []byte {
	h := hmac.New(sha256.New, playerKey[:])
	h.Write(Message(leaderboardKey, playerID, score, meta, timestamp))
	return h.Sum(nil)
}

// Message returns the exact bytes covered by the MAC
func Message(leaderboardKey, playerID uuid.UUID, score float32, meta *string, timestamp int64) []byte {
	size := 8 + 16 + 16 + 4
	if meta != nil {
		size += len(*meta)
	}
	msg := make([]byte, 0, size)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(timestamp))
	msg = append(msg, leaderboardKey[:]...)
	msg = append(msg, playerID[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, math.Float32bits(score))
	if meta != nil {
		msg = append(msg, *meta...)
	}
	return msg
}
