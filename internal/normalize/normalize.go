// Package normalize turns a completion envelope into the reply body a route
// returns: the first choice's text, optionally checked to be an itinerary
// JSON document.
package normalize

import (
	"encoding/json"

	"github.com/tripwise/relay/internal/models"
	"github.com/tripwise/relay/internal/upstream"
)

// Reasons a reply fails to normalize, used as metric labels
const (
	ReasonInvalidJSON      = "invalid_json"
	ReasonMissingItinerary = "missing_itinerary"
)

// ParseError reports model text that is not the JSON the route promised.
// Raw holds the text exactly as the model returned it.
type ParseError struct {
	Reason  string
	Message string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extract returns the first choice's message content. An envelope without
// choices is an upstream failure, not an empty reply.
func Extract(resp *models.CompletionResponse) (string, error) {
	if resp == nil {
		return "", upstream.Malformed("empty response envelope")
	}
	if len(resp.Choices) == 0 {
		return "", upstream.Malformed("response envelope contains no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// itineraryShape is the minimal structure a trip document must have
type itineraryShape struct {
	Trip *struct {
		Itinerary map[string]json.RawMessage `json:"itinerary"`
	} `json:"trip"`
}

// ParseItinerary strictly parses text as JSON and checks that it carries a
// trip.itinerary object. No markdown or code-fence stripping is attempted.
// On success the returned document is the complete reply body.
func ParseItinerary(text string) (json.RawMessage, error) {
	raw := json.RawMessage(text)
	if !json.Valid(raw) {
		return nil, &ParseError{
			Reason:  ReasonInvalidJSON,
			Message: "AI response was not valid JSON.",
			Raw:     text,
		}
	}

	var shape itineraryShape
	if err := json.Unmarshal(raw, &shape); err != nil || shape.Trip == nil || shape.Trip.Itinerary == nil {
		return nil, &ParseError{
			Reason:  ReasonMissingItinerary,
			Message: "AI response did not contain a trip itinerary.",
			Raw:     text,
			Err:     err,
		}
	}

	return raw, nil
}
