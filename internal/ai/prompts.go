package ai

import (
	"fmt"
	"strings"
)

const singleFramePrompt = `You are a security camera analyst. Describe what you see in this camera snapshot in one or two concise sentences. Focus on people, vehicles, animals and packages, their appearance and what they are doing. Do not speculate about intent.`

const multiFramePromptTemplate = `You are a security camera analyst. You are given %d frames captured in temporal order from a short camera clip. Describe the scene as one narrative: what is present, how it moves across the frames, and how the scene ends. One or two concise sentences. Do not describe the frames individually.`

const doorbellPrompt = `You are a doorbell camera analyst. Describe who is at the door: their appearance, what they are carrying, and what they appear to be doing. One or two concise sentences.`

const confidenceInstruction = `

Respond with strict JSON only: {"description": "...", "confidence": N} where N is an integer 0-100 expressing how confident you are in the description.`

// BuildSystemPrompt assembles the system prompt for a single or multi frame
// call. Custom prompts replace the base for single-image calls and append to
// the multi-frame prompt so the temporal-narrative instruction is preserved.
func BuildSystemPrompt(pc PromptContext, multiFrame bool) string {
	var b strings.Builder

	switch {
	case multiFrame:
		n := pc.FrameCount
		if n < 2 {
			n = 2
		}
		b.WriteString(fmt.Sprintf(multiFramePromptTemplate, n))
		if pc.CustomPrompt != "" {
			b.WriteString("\n")
			b.WriteString(pc.CustomPrompt)
		}
	case pc.CustomPrompt != "":
		b.WriteString(pc.CustomPrompt)
	default:
		b.WriteString(singleFramePrompt)
	}

	b.WriteString(contextSuffix(pc))

	if pc.AudioTranscription != "" {
		b.WriteString(fmt.Sprintf("\n\nAudio transcription: %q", pc.AudioTranscription))
	}

	b.WriteString(confidenceInstruction)
	return b.String()
}

// DoorbellPrompt returns the ring-specific base prompt, used in place of the
// camera's default when the event type is ring.
func DoorbellPrompt() string {
	return doorbellPrompt
}

func contextSuffix(pc PromptContext) string {
	s := fmt.Sprintf("\nContext: Camera '%s' at %s.", pc.CameraName, pc.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
	if len(pc.DetectedObjects) > 0 {
		s += fmt.Sprintf(" Motion detected: %s.", strings.Join(pc.DetectedObjects, ", "))
	}
	if pc.KnownEntityContext != "" {
		s += fmt.Sprintf(" Prior sightings: %s.", pc.KnownEntityContext)
	}
	return s
}
