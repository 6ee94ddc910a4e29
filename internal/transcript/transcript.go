// Package transcript renders a call's dialogue history into the free-text
// note attached to a created case. Responders read the note to recover
// detail the structured record cannot carry, so the format favours plain
// readability over machine parsing.
package transcript

import (
	"strings"
	"time"

	"github.com/nordlicht-labs/mayday/internal/session"
)

// roleLabels maps session roles to the speaker labels used in the note.
var roleLabels = map[session.Role]string{
	session.RoleCaller:    "Caller",
	session.RoleAssistant: "Assistant",
}

// Format renders the turns as a call transcript note. callID and start
// identify the call in the header; a zero start omits the timestamp.
// Returns the empty string when there are no turns, so callers can skip
// the note entirely (the realtime backend keeps no turn history).
func Format(callID string, start time.Time, turns []session.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Call transcript")
	if callID != "" {
		b.WriteString(" for ")
		b.WriteString(callID)
	}
	if !start.IsZero() {
		b.WriteString(" started ")
		b.WriteString(start.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n\n")

	for _, turn := range turns {
		label, ok := roleLabels[turn.Role]
		if !ok {
			label = string(turn.Role)
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(turn.Text))
		b.WriteString("\n")
	}
	return b.String()
}
