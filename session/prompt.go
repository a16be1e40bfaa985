package session

import "fmt"

const voiceInstruction = "You are a luxury concierge for Afsheen Enterprise. Respond primarily in %s. " +
	"Be polite, helpful, and provide travel advice about South Korea."

const toolInstruction = " When the guest asks where something is, call SearchMap so the places appear on their map, " +
	"then describe the best options briefly. Call GetConciergeServices when they ask what Afsheen Enterprise can arrange."

// VoiceInstruction is the Live system instruction for a reply language name.
func VoiceInstruction(language string) string {
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(voiceInstruction, language) + toolInstruction
}
