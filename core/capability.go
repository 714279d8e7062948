package core

// Capability names one specialist executor variant. The set is closed:
// new specialists are added by extending this list and the executor
// that backs it, not by runtime registration.
type Capability string

const (
	CapabilityWellness   Capability = "wellness"
	CapabilityReflection Capability = "reflection"
	CapabilityFactual    Capability = "factual"
)

// capabilityRank fixes the deterministic merge order for fragments:
// wellness is the backbone, reflection and factual are woven in after.
var capabilityRank = map[Capability]int{
	CapabilityWellness:   0,
	CapabilityReflection: 1,
	CapabilityFactual:    2,
}

// Rank returns the capability's merge position. Unknown capabilities
// sort last.
func (c Capability) Rank() int {
	if r, ok := capabilityRank[c]; ok {
		return r
	}
	return len(capabilityRank)
}

// Fragment is a partial response produced by one specialist executor.
// Fragments are ephemeral: they exist only between execution and
// synthesis and are never persisted.
type Fragment struct {
	Capability Capability `json:"capability"`
	Text       string     `json:"text"`

	// Confidence reflects how grounded the fragment is. A wellness
	// fragment backed by retrieved passages scores higher than its
	// degraded ungrounded form.
	Confidence float64 `json:"confidence"`
}

// PlanDirective is the planner's decision for a single turn: which
// capabilities to invoke and, when wellness is among them, the query
// the wellness executor should retrieve with. Scoped to one turn.
type PlanDirective struct {
	Capabilities   []Capability `json:"capabilities"`
	RetrievalQuery string       `json:"retrieval_query,omitempty"`
}

// Has reports whether the directive includes the given capability.
func (d PlanDirective) Has(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
