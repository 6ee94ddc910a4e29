// Package agent implements the text-dialogue collaborator for the turn-based
// voice pipeline: one dialogue-model call per caller utterance that produces
// both the spoken reply and a structured-extraction trailer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/nordlicht-labs/mayday/internal/geo"
	"github.com/nordlicht-labs/mayday/internal/session"
)

// systemPrompt instructs the dialogue model to collect the emergency record
// one item at a time and to append a machine-readable trailer to every
// reply. The trailer is stripped before synthesis.
const systemPrompt = `You are an emergency response assistant on a live phone call. The caller may be stressed or scared. Your job is to collect the required information one piece at a time, in a calm and reassuring way.

Collect these four items (in any order, one or two per turn):
1. Full name
2. Identification number (for identification)
3. Current location (as specific as possible - address, landmark, or area)
4. Description of the emergency - what happened and what they need

Guidelines:
- Be warm, calm, and reassuring. If the caller sounds stressed or upset, acknowledge it and reassure them that help is being coordinated.
- Ask for ONE thing at a time (or at most two). Keep your replies SHORT and natural for speech - a few sentences only. Avoid long paragraphs.
- If they give you more than one piece of information, acknowledge it and ask for the next missing piece.
- Categories are fuel, medical, shelter, food_water, rescue, other. Severity 1-5 (5 = life-threatening).
- When you have all four (full name, identification number, location, emergency description), thank them, confirm that help is on the way, and say a brief closing such as: "That's everything I need. Help is being coordinated. You can hang up when you're ready. Stay safe."
- Do not repeat back long lists. Keep every response concise and easy to say aloud.

Output format: First write your spoken reply (what the caller hears). Then on a new line write exactly:
VOICE_EXTRACTION: {"full_name": null or "string", "identification_number": null or "string", "location": null or "string", "emergency_description": null or "string", "category": null or "fuel|medical|shelter|food_water|rescue|other", "severity": null or 1-5}
Use null for any field not yet provided by the caller. The JSON must be valid and on one line after VOICE_EXTRACTION:.`

// extractionMarker separates the spoken reply from the structured trailer.
const extractionMarker = "VOICE_EXTRACTION:"

// Result is the outcome of one dialogue turn.
type Result struct {
	// Reply is the text to synthesise for the caller.
	Reply string

	// Extraction holds the fields the model has resolved so far. The model
	// restates the full record every turn, so this is cumulative.
	Extraction session.Extraction

	// Done reports that all caller-provided fields are present and the
	// assistant has delivered its closing line.
	Done bool
}

// Dialogue turns a caller utterance plus history into a Result. It is the
// pipeline counterpart of the realtime backend's tool call.
type Dialogue interface {
	Respond(ctx context.Context, history []session.Turn, utterance string) (Result, error)
}

// Agent is the any-llm-go backed Dialogue implementation.
type Agent struct {
	backend  anyllmlib.Provider
	model    string
	geocoder geo.Geocoder
	log      *slog.Logger
}

var _ Dialogue = (*Agent)(nil)

// temperature keeps replies warm but steady.
var temperature = 0.6

// New creates an Agent on the given any-llm-go backend. geocoder may be nil,
// in which case locations are passed through unresolved.
func New(backend anyllmlib.Provider, model string, geocoder geo.Geocoder, log *slog.Logger) (*Agent, error) {
	if backend == nil {
		return nil, fmt.Errorf("agent: backend must not be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("agent: model must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{backend: backend, model: model, geocoder: geocoder, log: log}, nil
}

// Respond implements Dialogue: one completion call per caller utterance.
func (a *Agent) Respond(ctx context.Context, history []session.Turn, utterance string) (Result, error) {
	messages := make([]anyllmlib.Message, 0, len(history)+2)
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		role := anyllmlib.RoleUser
		if turn.Role == session.RoleAssistant {
			role = anyllmlib.RoleAssistant
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: utterance})

	resp, err := a.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:       a.model,
		Messages:    messages,
		Temperature: &temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("agent: empty choices in response")
	}

	reply, ext := a.parseReply(ctx, resp.Choices[0].Message.ContentString())
	return Result{
		Reply:      reply,
		Extraction: ext,
		Done:       ext.Collected(),
	}, nil
}

// parseReply splits raw model output into the spoken reply and the
// extraction trailer. A malformed trailer degrades to an empty extraction;
// the call continues and the caller gets another chance.
func (a *Agent) parseReply(ctx context.Context, raw string) (string, session.Extraction) {
	idx := strings.Index(raw, extractionMarker)
	if idx == -1 {
		return strings.TrimSpace(raw), session.Extraction{}
	}
	reply := strings.TrimSpace(raw[:idx])
	trailer := strings.TrimSpace(raw[idx+len(extractionMarker):])

	// Some models wrap the trailer in a code fence despite instructions.
	for _, prefix := range []string{"```json", "```"} {
		if strings.HasPrefix(trailer, prefix) {
			trailer = strings.TrimSpace(strings.TrimPrefix(trailer, prefix))
		}
	}
	trailer = strings.TrimSpace(strings.TrimSuffix(trailer, "```"))

	var fields struct {
		FullName             *string `json:"full_name"`
		IdentificationNumber *string `json:"identification_number"`
		Location             *string `json:"location"`
		EmergencyDescription *string `json:"emergency_description"`
		Category             *string `json:"category"`
		Severity             *int    `json:"severity"`
	}
	if err := json.Unmarshal([]byte(trailer), &fields); err != nil {
		a.log.Warn("malformed extraction trailer", "err", err)
		return reply, session.Extraction{}
	}

	var ext session.Extraction
	if fields.FullName != nil {
		ext.FullName = strings.TrimSpace(*fields.FullName)
	}
	if fields.IdentificationNumber != nil {
		ext.IdentificationNumber = strings.TrimSpace(*fields.IdentificationNumber)
	}
	if fields.Location != nil {
		ext.Location = strings.TrimSpace(*fields.Location)
	}
	if fields.EmergencyDescription != nil {
		ext.Description = strings.TrimSpace(*fields.EmergencyDescription)
	}
	if fields.Category != nil {
		cat := session.Category(strings.TrimSpace(*fields.Category))
		if cat.IsValid() {
			ext.Category = cat
		}
	}
	if fields.Severity != nil && *fields.Severity >= 1 && *fields.Severity <= 5 {
		ext.Severity = *fields.Severity
	}

	if ext.Location != "" && a.geocoder != nil {
		lat, lng, ok, err := a.geocoder.Geocode(ctx, ext.Location)
		if err != nil {
			a.log.Warn("geocode failed", "location", ext.Location, "err", err)
		} else if ok {
			ext.Latitude = lat
			ext.Longitude = lng
			ext.HasCoordinates = true
		}
	}
	return reply, ext
}
