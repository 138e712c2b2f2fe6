// ABOUTME: Process-local session fingerprint used to tell repeated registrations apart
// ABOUTME: A best-effort collision-avoidance signal, not an authentication credential

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/2389/fieldnet-gateway/internal/store"
)

// hashLen is the number of hex characters kept from the digest.
const hashLen = 16

// Fingerprint identifies one running process. Create it once at startup and
// reuse it for every resolve that process makes.
type Fingerprint struct {
	Platform  string
	PID       int
	StartTime time.Time
	Nonce     string
}

// NewFingerprint captures the current process.
func NewFingerprint(platform string) Fingerprint {
	nonce := make([]byte, 16)
	// crypto/rand.Read does not return errors on supported platforms
	_, _ = rand.Read(nonce)
	return Fingerprint{
		Platform:  platform,
		PID:       os.Getpid(),
		StartTime: time.Now().UTC(),
		Nonce:     hex.EncodeToString(nonce),
	}
}

// Hash returns a short stable hex digest of the fingerprint.
func (f Fingerprint) Hash() string {
	sum := blake2b.Sum256(fmt.Appendf(nil, "%s|%d|%d|%s",
		f.Platform, f.PID, f.StartTime.UnixNano(), f.Nonce))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// Info converts the fingerprint into the blob stored on the agent row.
func (f Fingerprint) Info(joinedAt time.Time) store.SessionInfo {
	return store.SessionInfo{
		Platform:    f.Platform,
		SessionHash: f.Hash(),
		JoinedAt:    joinedAt,
	}
}
