package memory

import "time"

// UserProfile is the long-term view of one user, accumulated across
// sessions. Profiles are never deleted; markers only append or
// increment, so progress counts are monotonically non-decreasing.
type UserProfile struct {
	UserID string `json:"user_id"`

	// PersonaOverrides tunes response style per user (address form,
	// pacing). Read by the dialogue layer, written out-of-band.
	PersonaOverrides map[string]string `json:"persona_overrides,omitempty"`

	// DominantEmotions counts the emotions that led closed sessions.
	DominantEmotions []Marker `json:"dominant_emotions,omitempty"`

	// RecurringThemes counts topics that recurred within sessions.
	RecurringThemes []Marker `json:"recurring_themes,omitempty"`

	// ProgressMarkers counts coping strategies the user mentioned and
	// later reused.
	ProgressMarkers []Marker `json:"progress_markers,omitempty"`

	// Journey is one dated line per analyzed session.
	Journey []JourneyEntry `json:"journey,omitempty"`

	// Toolkit collects strategies the user has reached for.
	Toolkit Toolkit `json:"toolkit"`

	// Sessions lists the session ids already merged, keying the
	// idempotency of Update.
	Sessions []string `json:"sessions,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Marker is a counted observation with the sessions that contributed
// to it.
type Marker struct {
	Label    string   `json:"label"`
	Count    int      `json:"count"`
	Sessions []string `json:"sessions,omitempty"`
}

// JourneyEntry is a one-line dated summary of a session.
type JourneyEntry struct {
	Date      string `json:"date"`
	Note      string `json:"note"`
	SessionID string `json:"session_id"`
}

// Toolkit tracks coping strategies by how they worked out for the user.
type Toolkit struct {
	Helpful   []string `json:"helpful,omitempty"`
	Unhelpful []string `json:"unhelpful,omitempty"`
}

// NewProfile returns the default empty profile for a user. This is
// what unknown users get: first contact is a valid empty state.
func NewProfile(userID string) *UserProfile {
	return &UserProfile{UserID: userID}
}

// HasSession reports whether the session was already merged.
func (p *UserProfile) HasSession(sessionID string) bool {
	for _, s := range p.Sessions {
		if s == sessionID {
			return true
		}
	}
	return false
}

// DominantTheme returns the highest-count recurring theme, or "".
// Ties resolve to the earliest-recorded theme.
func (p *UserProfile) DominantTheme() string {
	return topMarker(p.RecurringThemes)
}

// DominantEmotion returns the highest-count emotion marker, or "".
func (p *UserProfile) DominantEmotion() string {
	return topMarker(p.DominantEmotions)
}

func topMarker(markers []Marker) string {
	best := ""
	bestCount := 0
	for _, m := range markers {
		if m.Count > bestCount {
			best = m.Label
			bestCount = m.Count
		}
	}
	return best
}

// MarkerTotal sums all marker counts; useful for asserting that
// updates never decrease accumulated progress.
func (p *UserProfile) MarkerTotal() int {
	total := 0
	for _, set := range [][]Marker{p.DominantEmotions, p.RecurringThemes, p.ProgressMarkers} {
		for _, m := range set {
			total += m.Count
		}
	}
	return total
}

// Clone deep-copies the profile so stores can hand out values without
// sharing mutable state.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := &UserProfile{
		UserID:    p.UserID,
		UpdatedAt: p.UpdatedAt,
	}
	if p.PersonaOverrides != nil {
		out.PersonaOverrides = make(map[string]string, len(p.PersonaOverrides))
		for k, v := range p.PersonaOverrides {
			out.PersonaOverrides[k] = v
		}
	}
	out.DominantEmotions = cloneMarkers(p.DominantEmotions)
	out.RecurringThemes = cloneMarkers(p.RecurringThemes)
	out.ProgressMarkers = cloneMarkers(p.ProgressMarkers)
	out.Journey = append([]JourneyEntry(nil), p.Journey...)
	out.Toolkit = Toolkit{
		Helpful:   append([]string(nil), p.Toolkit.Helpful...),
		Unhelpful: append([]string(nil), p.Toolkit.Unhelpful...),
	}
	out.Sessions = append([]string(nil), p.Sessions...)
	return out
}

func cloneMarkers(in []Marker) []Marker {
	if in == nil {
		return nil
	}
	out := make([]Marker, len(in))
	for i, m := range in {
		out[i] = Marker{Label: m.Label, Count: m.Count, Sessions: append([]string(nil), m.Sessions...)}
	}
	return out
}

// bumpMarker increments the marker for label, attributing it to the
// session, appending a new marker when the label is unseen.
func bumpMarker(markers []Marker, label, sessionID string) []Marker {
	for i := range markers {
		if markers[i].Label == label {
			markers[i].Count++
			markers[i].Sessions = append(markers[i].Sessions, sessionID)
			return markers
		}
	}
	return append(markers, Marker{Label: label, Count: 1, Sessions: []string{sessionID}})
}

// appendUnique adds s to list unless already present.
func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
