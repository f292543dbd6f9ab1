package prompt

import (
	"fmt"
	"strings"

	"github.com/tripwise/relay/internal/models"
)

const freeFormSystem = "You are a helpful travel planner assistant. Always respond in valid JSON."

const destinationSystem = `You are a helpful travel planner assistant. Only respond in raw JSON format as requested.
Do not include any explanations, markdown, or code blocks.
Your output should be strictly JSON and parsable by a standard JSON parser.`

const destinationUserTemplate = `Plan a %d-day trip to %s.
Respond ONLY in the following JSON format without any extra commentary, code blocks, or markdown:
{
  "trip": {
    "itinerary": {
      "day_1": {
        "title": "Day 1 Title",
        "activities": [
          { "time": "9:00 AM", "activity": "Visit XYZ" },
          { "time": "2:00 PM", "activity": "Lunch at ABC" }
        ]
      },
      "day_2": {
        "title": "Day 2 Title",
        "activities": [
          { "time": "10:00 AM", "activity": "Explore LMN" }
        ]
      }
    }
  }
}

Include exactly one "day_N" key for each of the %d days.
DO NOT include any code formatting like ` + "```json" + ` or text outside the JSON.
Just reply with raw JSON.`

const promptSystem = `You are a helpful travel planner assistant.
If the user gives a vague destination like 'Europe', assume popular cities like Paris, Rome, and Barcelona and other major or high rated tourist places in that region.
Respond ONLY with raw JSON (no markdown, explanation, or preamble).
Return an object like this:
{
  "trip": {
    "itinerary": {
      "day_1": [
        {
          "name": "Tokyo Tower Visit",
          "location": "Tokyo Tower",
          "description": "Enjoy the view from the observation deck."
        },
        {
          "name": "Sushi Lunch",
          "location": "Tsukiji Market",
          "description": "Try local sushi delicacies."
        }
      ],
      "day_2": [
        ...
      ]
    }
  }
}
Each day should be a key like "day_1", and its value should be an array of 2-5 activities. Ensure valid JSON.
If the user doesn't mention a city, ask them to specify one. Do not assume or generate a destination.`

// FreeForm passes the caller's prompt through unchanged under a loose
// "respond in JSON" system message. Its reply is never parsed.
func FreeForm() *Builder {
	return &Builder{
		name:     "free_form",
		system:   freeFormSystem,
		params:   models.GenerationParams{MaxTokens: 2000, Temperature: 0.2},
		validate: requirePrompt,
		render:   rawPrompt,
	}
}

// ItineraryByDestination asks for a day-keyed itinerary with timed
// activities for a destination and trip length.
func ItineraryByDestination() *Builder {
	return &Builder{
		name:     "itinerary_by_destination",
		system:   destinationSystem,
		params:   models.GenerationParams{MaxTokens: 2000, Temperature: 0.5},
		validate: requireDestination,
		render: func(in models.PlanRequest) string {
			days := int(in.Days)
			return fmt.Sprintf(destinationUserTemplate, days, strings.TrimSpace(in.Destination), days)
		},
	}
}

// ItineraryByPrompt asks for a day-keyed list of places from free text,
// expanding vague regions into concrete cities.
func ItineraryByPrompt() *Builder {
	return &Builder{
		name:     "itinerary_by_prompt",
		system:   promptSystem,
		params:   models.GenerationParams{MaxTokens: 2000, Temperature: 0.2},
		validate: requirePrompt,
		render:   rawPrompt,
	}
}
