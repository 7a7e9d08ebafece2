package identifier

// Generator produces node identifiers. It is an explicit, constructible
// service rather than a package-level singleton — per the project's
// design note that global state (identifier generation, task-id counters)
// should be passed to constructors, with package singletons reserved for
// throwaway test instances.
type Generator struct {
	persistent bool
	seed       []byte
}

// NewEphemeralGenerator returns a Generator that mints a fresh random
// identifier on every call to Generate.
func NewEphemeralGenerator() *Generator {
	return &Generator{persistent: false}
}

// NewPersistentGenerator returns a Generator that always derives the same
// identifier from the given seed (e.g. loaded from a bootstrap cache by an
// external collaborator).
func NewPersistentGenerator(seed []byte) *Generator {
	return &Generator{persistent: true, seed: append([]byte(nil), seed...)}
}

// Generate returns this generator's identifier.
func (g *Generator) Generate() (Identifier, error) {
	if g.persistent {
		return FromSeed(g.seed)
	}
	return New()
}

// MinExternalSize and MaxExternalSize record a 34-36 byte range for the
// printable external form. No code checks against them: String produces a
// 29-character form (base58 of version byte, 16 internal bytes and a
// 4-byte checksum), which is shorter than this range, and PeekSource
// checks the internal size through SizeInRange.
const (
	MinExternalSize = 34
	MaxExternalSize = 36
)

// SizeInRange reports whether a claimed source-id byte length is plausible
// for an internal-form identifier (always exactly internalSize) — used by
// message.PeekSource before it attempts to decode anything.
func SizeInRange(n int) bool {
	return n == internalSize
}
