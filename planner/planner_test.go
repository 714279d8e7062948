package planner

import (
	"strings"
	"testing"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/memory"
)

func turnWith(caps ...core.Capability) core.Turn {
	return core.Turn{
		TurnID:       "t",
		SessionID:    "s",
		Utterance:    "earlier message",
		Response:     "ok",
		Capabilities: caps,
	}
}

func TestDecideFreshEmotionalTurnIsWellnessOnly(t *testing.T) {
	p := New(DefaultConfig())
	plan := p.Decide("I'm feeling anxious", nil, memory.NewProfile("u1"))

	if got := plan.Directive.Capabilities; len(got) != 1 || got[0] != core.CapabilityWellness {
		t.Errorf("capabilities = %v, want [wellness]", got)
	}
	if plan.Emotion != "anxious" {
		t.Errorf("emotion = %q, want anxious", plan.Emotion)
	}
	if plan.Intent != IntentSupport {
		t.Errorf("intent = %q, want support", plan.Intent)
	}
	if plan.Directive.RetrievalQuery == "" {
		t.Error("wellness directive needs a retrieval query")
	}
}

func TestDecideReflectionJoinsAfterFirstTurn(t *testing.T) {
	p := New(DefaultConfig())
	window := []core.Turn{turnWith(core.CapabilityWellness)}

	plan := p.Decide("I don't know what to do", window, memory.NewProfile("u1"))
	if !plan.Directive.Has(core.CapabilityReflection) {
		t.Errorf("reflection missing after a reflection-free window: %v", plan.Directive.Capabilities)
	}
	if !plan.Directive.Has(core.CapabilityWellness) {
		t.Errorf("wellness floor missing: %v", plan.Directive.Capabilities)
	}
}

func TestDecideReflectionCooldown(t *testing.T) {
	p := New(Config{ReflectionCooldown: 2})

	// Reflection ran on the last turn: cooling down.
	window := []core.Turn{
		turnWith(core.CapabilityWellness),
		turnWith(core.CapabilityWellness, core.CapabilityReflection),
	}
	plan := p.Decide("still feeling stuck about everything", window, nil)
	if plan.Directive.Has(core.CapabilityReflection) {
		t.Error("reflection selected during cooldown")
	}

	// Reflection last ran outside the cooldown window.
	window = append(window, turnWith(core.CapabilityWellness), turnWith(core.CapabilityWellness))
	plan = p.Decide("still feeling stuck about everything", window, nil)
	if !plan.Directive.Has(core.CapabilityReflection) {
		t.Error("reflection not re-selected after cooldown elapsed")
	}
}

func TestDecidePurelyFactualQuestion(t *testing.T) {
	p := New(DefaultConfig())
	plan := p.Decide("What is cognitive behavioral therapy?", nil, nil)

	if plan.Directive.Has(core.CapabilityWellness) {
		t.Errorf("purely factual turn should not include wellness: %v", plan.Directive.Capabilities)
	}
	if !plan.Directive.Has(core.CapabilityFactual) {
		t.Errorf("factual capability missing: %v", plan.Directive.Capabilities)
	}
	if plan.Intent != IntentQuestion {
		t.Errorf("intent = %q, want question", plan.Intent)
	}
	if plan.Directive.RetrievalQuery != "" {
		t.Error("retrieval query should only be derived for wellness turns")
	}
}

func TestDecideMixedQuestion(t *testing.T) {
	p := New(DefaultConfig())
	plan := p.Decide("I'm so anxious about exams, how do I calm down?", nil, nil)

	if !plan.Directive.Has(core.CapabilityWellness) || !plan.Directive.Has(core.CapabilityFactual) {
		t.Errorf("mixed turn should include wellness and factual: %v", plan.Directive.Capabilities)
	}
	if plan.Intent != IntentMixed {
		t.Errorf("intent = %q, want mixed", plan.Intent)
	}
}

func TestDecideNeverReturnsEmptyPlan(t *testing.T) {
	p := New(DefaultConfig())
	for _, utterance := range []string{"", "   ", "ok", "fine."} {
		plan := p.Decide(utterance, nil, nil)
		if len(plan.Directive.Capabilities) == 0 {
			t.Errorf("Decide(%q) selected zero capabilities", utterance)
		}
		if !plan.Directive.Has(core.CapabilityWellness) {
			t.Errorf("Decide(%q) lost the wellness floor: %v", utterance, plan.Directive.Capabilities)
		}
	}
}

func TestRetrievalQueryCarriesDominantTheme(t *testing.T) {
	p := New(DefaultConfig())
	profile := memory.NewProfile("u1")
	profile.RecurringThemes = []memory.Marker{{Label: "work", Count: 3}}

	plan := p.Decide("I'm feeling anxious again", nil, profile)
	if !strings.Contains(plan.Directive.RetrievalQuery, "anxious") {
		t.Errorf("query %q missing utterance signal", plan.Directive.RetrievalQuery)
	}
	if !strings.Contains(plan.Directive.RetrievalQuery, "work") {
		t.Errorf("query %q missing dominant profile theme", plan.Directive.RetrievalQuery)
	}
}
