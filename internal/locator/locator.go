// Package locator holds the selector cascades used to find logical UI
// controls on a conferencing page. Cascades are data, not control flow:
// each logical control maps to an ordered list of candidate selectors tried
// until one matches a visible element, and the whole set can be overridden
// from a JSON rules file so platform-specific brittleness stays in
// configuration.
package locator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Control names a logical UI control independent of how it is located.
type Control string

const (
	ControlMicToggle       Control = "mic_toggle"
	ControlCameraToggle    Control = "camera_toggle"
	ControlNameField       Control = "name_field"
	ControlJoinButton      Control = "join_button"
	ControlLeaveButton     Control = "leave_button"
	ControlPeoplePanel     Control = "people_panel"
	ControlEndedIndicator  Control = "ended_indicator"
	ControlParticipantName Control = "participant_name"
	ControlCaptionToggle   Control = "caption_toggle"
	ControlCaptionText     Control = "caption_text"
)

// Selector is one candidate way to locate a control. CSS is a plain CSS
// selector; Text, when set, additionally requires the element's visible
// text to match the given regular expression.
type Selector struct {
	CSS  string `json:"css"`
	Text string `json:"text,omitempty"`
}

// RuleSet is the full cascade table for one platform.
type RuleSet struct {
	Platform string                `json:"platform"`
	Controls map[Control][]Selector `json:"controls"`
}

// Cascade returns the ordered candidate list for a control. Missing controls
// yield an empty cascade; callers treat that the same as "nothing matched".
func (rs *RuleSet) Cascade(c Control) []Selector {
	if rs == nil || rs.Controls == nil {
		return nil
	}
	return rs.Controls[c]
}

// Load reads a rules file from the user config directory, falling back to
// the built-in Google Meet defaults when no file exists.
func Load(configDir string) (*RuleSet, error) {
	path := filepath.Join(configDir, "selectors.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGoogleMeet(), nil
		}
		return nil, fmt.Errorf("locator: read rules: %w", err)
	}

	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("locator: parse rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate rejects rule sets that would leave the join flow without its
// required controls.
func (rs *RuleSet) Validate() error {
	for _, required := range []Control{ControlJoinButton, ControlLeaveButton} {
		if len(rs.Cascade(required)) == 0 {
			return fmt.Errorf("locator: rules for %q missing required control %q", rs.Platform, required)
		}
	}
	return nil
}

// DefaultGoogleMeet returns the built-in cascade table for Google Meet.
// English and Spanish UI labels are both covered; the label sets drift with
// the product, which is why overrides live in configuration.
func DefaultGoogleMeet() *RuleSet {
	return &RuleSet{
		Platform: "google_meet",
		Controls: map[Control][]Selector{
			ControlMicToggle: {
				{CSS: `[data-is-muted][aria-label*="microphone"]`},
				{CSS: `[data-is-muted][aria-label*="micrófono"]`},
				{CSS: `button[aria-label*="Turn off microphone"]`},
				{CSS: `button[aria-label*="Turn on microphone"]`},
				{CSS: `div[role="button"][data-tooltip*="microphone"]`},
			},
			ControlCameraToggle: {
				{CSS: `[data-is-muted][aria-label*="camera"]`},
				{CSS: `[data-is-muted][aria-label*="cámara"]`},
				{CSS: `button[aria-label*="Turn off camera"]`},
				{CSS: `button[aria-label*="Turn on camera"]`},
				{CSS: `div[role="button"][data-tooltip*="camera"]`},
			},
			ControlNameField: {
				{CSS: `input[placeholder*="name"]`},
				{CSS: `input[placeholder*="nombre"]`},
				{CSS: `input[aria-label*="name"]`},
				{CSS: `input[type="text"]`},
			},
			ControlJoinButton: {
				{CSS: `button[aria-label*="Join now"]`},
				{CSS: `button[aria-label*="Ask to join"]`},
				{CSS: `button[aria-label*="Unirse ahora"]`},
				{CSS: `button[aria-label*="Solicitar unirse"]`},
				{CSS: `button`, Text: `Join now|Ask to join|Unirse|Solicitar`},
				{CSS: `[role="button"]`, Text: `Join|Unirse`},
			},
			ControlLeaveButton: {
				{CSS: `button[aria-label*="Leave call"]`},
				{CSS: `button[aria-label*="Salir de la llamada"]`},
				{CSS: `[data-tooltip*="Leave call"]`},
			},
			ControlPeoplePanel: {
				{CSS: `[aria-label*="Show everyone"]`},
				{CSS: `[aria-label*="People"]`},
				{CSS: `[aria-label*="Mostrar participantes"]`},
				{CSS: `[data-tab-id="1"]`},
			},
			ControlEndedIndicator: {
				{CSS: `[data-call-ended="true"]`},
				{CSS: `div`, Text: `The meeting has ended|Meeting ended|Call ended|You've been removed`},
			},
			ControlParticipantName: {
				{CSS: `[data-participant-id]`},
				{CSS: `[data-self-name]`},
				{CSS: `[data-requested-participant-id]`},
				{CSS: `.participant-name`},
			},
			ControlCaptionToggle: {
				{CSS: `button[aria-label*="captions"]`},
				{CSS: `[data-tooltip*="captions"]`},
				{CSS: `button[aria-label*="subtítulos"]`},
			},
			ControlCaptionText: {
				{CSS: `[data-caption-node]`},
				{CSS: `.captions-text`},
				{CSS: `[jsname="tgaKEf"]`},
			},
		},
	}
}
