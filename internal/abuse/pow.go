// Package abuse implements the relay's abuse mitigation: proof-of-work
// admission challenges, the chat-repeat detector, and the ban ledgers.
package abuse

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/relaygate-project/relaygate/internal/protocol"
)

// Challenge kinds. The kind selects which parameters are present in the
// challenge payload and which predicate verifies the answer.
//
//	0      echo the first seed
//	1      echo the second seed
//	2..4   echo both seeds
//	5..6   search for the preimage suffix whose hash matches the target
const (
	ChallengeKindMin = 0
	ChallengeKindMax = 6
)

// DefaultMaxIterations bounds the preimage search for hash kinds.
const DefaultMaxIterations = 10000

// Challenge is one outstanding proof-of-work challenge. A connection holds
// at most one at a time; the first successful verification consumes it for
// good.
type Challenge struct {
	mu sync.Mutex

	Nonce int32 // echoed back unchanged so answers can be matched up
	Kind  int

	Seed1, Seed2 int32

	// Hash-kind parameters: the client appends a decimal counter to
	// Prefix until the hex SHA-256 digest equals Target.
	Prefix        string
	Target        string
	MaxIterations int

	consumed bool
}

// NewChallenge builds a random challenge of the given kind.
func NewChallenge(kind int) (*Challenge, error) {
	if kind < ChallengeKindMin || kind > ChallengeKindMax {
		return nil, fmt.Errorf("abuse: challenge kind %d out of range", kind)
	}

	c := &Challenge{
		Nonce: randInt31(),
		Kind:  kind,
		Seed1: randInt31(),
		Seed2: randInt31(),
	}

	if kind >= 5 {
		c.Prefix = hex.EncodeToString(randBytes(8))
		c.MaxIterations = DefaultMaxIterations
		answer := int(randInt31()) % c.MaxIterations
		c.Target = hashPreimage(c.Prefix, strconv.Itoa(answer))
	}

	return c, nil
}

// RandomChallenge builds a challenge of a randomly selected kind.
func RandomChallenge() *Challenge {
	kind := int(randInt31()) % (ChallengeKindMax + 1)
	c, _ := NewChallenge(kind)
	return c
}

// Packet renders the challenge as sent to the client. Presence flags
// mirror the kind-specific parameter layout.
func (c *Challenge) Packet() *protocol.Packet {
	w := protocol.NewWriter()
	w.WriteInt(c.Nonce)
	w.WriteInt(int32(c.Kind))

	if c.Kind == 0 || (c.Kind >= 2 && c.Kind <= 4) || c.Kind == 6 {
		w.WriteBool(true).WriteInt(c.Seed1)
	} else {
		w.WriteBool(false)
	}
	if c.Kind == 1 || (c.Kind >= 2 && c.Kind <= 4) {
		w.WriteBool(true).WriteInt(c.Seed2)
	} else {
		w.WriteBool(false)
	}
	if c.Kind >= 5 {
		w.WriteString(c.Target)
		w.WriteString(c.Prefix)
		w.WriteInt(int32(c.MaxIterations))
	}
	w.WriteBool(false)

	return w.Packet(protocol.PacketRelayPow)
}

// Verify checks a client answer against the kind's predicate. Success is
// one-shot: a consumed challenge never verifies again, with the same answer
// or any other.
func (c *Challenge) Verify(a, b int32, s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumed {
		return false
	}

	var ok bool
	switch {
	case c.Kind == 0:
		ok = a == c.Seed1
	case c.Kind == 1:
		ok = b == c.Seed2
	case c.Kind >= 2 && c.Kind <= 4:
		ok = a == c.Seed1 && b == c.Seed2
	case c.Kind >= 5:
		ok = hashPreimage(c.Prefix, s) == c.Target
	}

	if ok {
		c.consumed = true
	}
	return ok
}

// Consumed reports whether the challenge has already been solved.
func (c *Challenge) Consumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumed
}

// SolvePreimage runs the search a legitimate client performs for hash
// kinds. Used by tests and the loopback client.
func (c *Challenge) SolvePreimage() (string, bool) {
	for i := 0; i < c.MaxIterations; i++ {
		s := strconv.Itoa(i)
		if hashPreimage(c.Prefix, s) == c.Target {
			return s, true
		}
	}
	return "", false
}

func hashPreimage(prefix, suffix string) string {
	sum := sha256.Sum256([]byte(prefix + suffix))
	return hex.EncodeToString(sum[:])
}

func randInt31() int32 {
	var buf [4]byte
	rand.Read(buf[:])
	return int32(binary.BigEndian.Uint32(buf[:]) & 0x7fffffff)
}

func randBytes(n int) []byte {
	buf := make([]byte, n)
	rand.Read(buf)
	return buf
}
