package synthesis_test

import (
	"strings"
	"testing"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/synthesis"
)

func TestMergeWellnessIsBackbone(t *testing.T) {
	s := synthesis.New(0)
	frags := []core.Fragment{
		{Capability: core.CapabilityFactual, Text: "Box breathing is a four-count breath cycle.", Confidence: 0.9},
		{Capability: core.CapabilityWellness, Text: "It sounds like anxiety has been loud today.", Confidence: 0.9},
	}

	draft := s.Merge(frags)
	if !strings.HasPrefix(draft, "It sounds like anxiety") {
		t.Errorf("wellness must lead the draft, got %q", draft)
	}
	if !strings.Contains(draft, "Box breathing") {
		t.Errorf("factual fragment missing from draft: %q", draft)
	}
}

func TestMergeIsOrderInsensitive(t *testing.T) {
	s := synthesis.New(0)
	a := []core.Fragment{
		{Capability: core.CapabilityWellness, Text: "You're carrying a lot right now."},
		{Capability: core.CapabilityReflection, Text: "Deadlines keep coming up when we talk."},
		{Capability: core.CapabilityFactual, Text: "Most people need seven to nine hours of sleep."},
	}
	b := []core.Fragment{a[2], a[0], a[1]}

	if s.Merge(a) != s.Merge(b) {
		t.Errorf("merge depends on input order:\n a=%q\n b=%q", s.Merge(a), s.Merge(b))
	}
}

func TestMergeDropsRedundantFragment(t *testing.T) {
	s := synthesis.New(0.5)
	backbone := "Work stress keeps piling up and your sleep is suffering."
	frags := []core.Fragment{
		{Capability: core.CapabilityWellness, Text: backbone},
		{Capability: core.CapabilityReflection, Text: "Work stress keeps piling up and sleep is suffering."},
	}

	draft := s.Merge(frags)
	if draft != backbone {
		t.Errorf("near-duplicate reflection should be dropped, got %q", draft)
	}
}

func TestMergeSkipsEmptyFragments(t *testing.T) {
	s := synthesis.New(0)
	frags := []core.Fragment{
		{Capability: core.CapabilityWellness, Text: "I'm glad you said this out loud."},
		{Capability: core.CapabilityReflection, Text: "   "},
	}

	draft := s.Merge(frags)
	if draft != "I'm glad you said this out loud." {
		t.Errorf("blank fragment should be skipped, got %q", draft)
	}
}

func TestMergeFallbackWhenNothingProduced(t *testing.T) {
	s := synthesis.New(0)

	draft := s.Merge(nil)
	if draft == "" {
		t.Fatal("fallback draft must be non-empty")
	}
	if !strings.HasSuffix(strings.TrimSpace(draft), "?") {
		t.Errorf("fallback should close with an open question, got %q", draft)
	}
}

func TestMergeFactualOnlyPlan(t *testing.T) {
	s := synthesis.New(0)
	frags := []core.Fragment{
		{Capability: core.CapabilityFactual, Text: "Sleep hygiene means consistent habits around sleep."},
	}

	if draft := s.Merge(frags); draft != frags[0].Text {
		t.Errorf("single factual fragment should pass through, got %q", draft)
	}
}
