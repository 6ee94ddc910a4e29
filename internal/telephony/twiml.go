package telephony

import (
	"encoding/xml"
	"fmt"
)

// TwiML response document shapes. Only the two verbs the voice webhook
// needs: connecting the call to a bidirectional media stream, and a static
// spoken fallback when no backend can be started.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Hangup  *twimlHangup  `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr"`
	Text  string `xml:",chardata"`
}

type twimlHangup struct{}

// ConnectStreamTwiML answers the voice webhook with a document that
// connects the call to the media-stream WebSocket at wsURL. Call metadata
// rides along as custom parameters and is echoed back in the start event.
func ConnectStreamTwiML(wsURL, callSid, from, to string) ([]byte, error) {
	doc := twimlResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL: wsURL,
				Parameters: []twimlParameter{
					{Name: "CallSid", Value: callSid},
					{Name: "From", Value: from},
					{Name: "To", Value: to},
				},
			},
		},
	}
	return marshalTwiML(doc)
}

// SayHangupTwiML answers the voice webhook with a static spoken message
// followed by a hang-up. Used when the bridge cannot start, so the caller
// is never left in silence.
func SayHangupTwiML(message string) ([]byte, error) {
	doc := twimlResponse{
		Say:    &twimlSay{Voice: "alice", Text: message},
		Hangup: &twimlHangup{},
	}
	return marshalTwiML(doc)
}

func marshalTwiML(doc twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
