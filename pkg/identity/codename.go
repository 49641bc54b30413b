// Package identity provides the stable identifiers the rest of the system
// hangs state off of: deterministic agent codenames and UTC-coerced time
// keys (simulation days, rate-limit windows, checkpoint slots).
//
// Codenames are derived, never assigned: the same agent number always maps
// to the same codename, so display names survive database rebuilds and can
// be re-verified against the derivation at any time.
package identity

import "fmt"

// codewords is the fixed lexicon for agent codenames. Order is load-bearing:
// agent numbers index into it modulo its length, so reordering or inserting
// entries changes every derived name. Append only.
var codewords = []string{
	"Tensor",
	"Vector",
	"Scalar",
	"Matrix",
	"Lambda",
	"Sigma",
	"Delta",
	"Kernel",
	"Cipher",
	"Quanta",
	"Axiom",
	"Vertex",
	"Raster",
	"Photon",
	"Helix",
	"Argon",
	"Basalt",
	"Cobalt",
	"Dynamo",
	"Ember",
}

// Codename returns the canonical display name for an agent number.
// Numbers start at 1; Codename(1) == "Tensor-01".
func Codename(agentNumber int) string {
	if agentNumber < 1 {
		return fmt.Sprintf("Agent-%02d", agentNumber)
	}
	word := codewords[(agentNumber-1)%len(codewords)]
	return fmt.Sprintf("%s-%02d", word, agentNumber)
}

// IsCanonicalName reports whether name is the derived codename for the
// given agent number. Used to verify persisted display names against the
// derivation.
func IsCanonicalName(agentNumber int, name string) bool {
	return name == Codename(agentNumber)
}
