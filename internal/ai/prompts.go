package ai

import "fmt"

// The 7 Cycles periods. Content is themed by period; each has a name
// and a color used in visual prompts.
var periodNames = map[int]string{
	1: "Image (rot, #DC2626)",
	2: "Veränderung (orange, #EA580C)",
	3: "Energie (gelb, #CA8A04)",
	4: "Kreativität (grün, #16A34A)",
	5: "Erfolg (blau, #2563EB)",
	6: "Entspannung (indigo, #4F46E5)",
	7: "Umsicht (violett, #9333EA)",
}

// buildSystemPrompt creates capability-specific system prompts shared
// by every text provider.
func buildSystemPrompt(capability Capability, language string, period int) string {
	if language == "" {
		language = "de"
	}

	basePrompt := fmt.Sprintf(`You are the content engine of 7 Cycles, a marketing platform built around the seven life periods of the 7 Cycles method.

Rules:
1. Write all user-facing content in the language %q unless the prompt says otherwise.
2. Never produce placeholder text, lorem ipsum or "example" content.
3. Respect the requested output format exactly. When JSON is requested, reply with raw JSON only, no markdown fences.
4. Keep the warm, encouraging tone of the 7 Cycles brand without becoming saccharine.`, language)

	if period >= 1 && period <= 7 {
		basePrompt += fmt.Sprintf("\n\nCurrent period: %d - %s. Theme the content around this period.", period, periodNames[period])
	}

	switch capability {
	case CapabilityAffirmation:
		return basePrompt + "\n\nWrite short, positive affirmations in the first person present tense. One to two sentences, no hashtags, no emojis."

	case CapabilityInstagramCaption:
		return basePrompt + "\n\nWrite an Instagram caption: an attention hook in the first line, a short body, a call to action. Stay under 2200 characters. Do not include hashtags, they are generated separately."

	case CapabilityHashtags:
		return basePrompt + "\n\nGenerate Instagram hashtags. Return a JSON array of strings, each starting with #, mixing broad and niche tags. Maximum 30."

	case CapabilityVisualPrompt:
		return basePrompt + "\n\nWrite an English image generation prompt for a 4:5 Instagram visual. Describe scene, mood, lighting and the period color. No text in the image."

	case CapabilityVideoScript:
		return basePrompt + "\n\nWrite a short vertical video script (15-30 seconds): scene descriptions with voiceover lines, formatted as JSON with a scenes array."

	case CapabilityAsoInsights:
		return basePrompt + "\n\nYou analyze app store review data. Summarize themes, sentiment drivers and concrete store listing improvements. Reply as JSON with keys themes, complaints, suggestions."

	case CapabilityIdeaRefinement:
		return basePrompt + "\n\nRefine the given content idea: sharpen the angle, name the target audience, suggest formats. Reply as JSON with keys angle, audience, formats, score where score is 0..1 viability."

	default:
		return basePrompt
	}
}

// defaultMaxTokens returns the token budget per capability when the
// request does not set one.
func defaultMaxTokens(capability Capability) int {
	switch capability {
	case CapabilityAffirmation:
		return 200
	case CapabilityHashtags:
		return 500
	case CapabilityInstagramCaption:
		return 1000
	case CapabilityVisualPrompt:
		return 400
	case CapabilityVideoScript:
		return 1500
	case CapabilityAsoInsights:
		return 2000
	case CapabilityIdeaRefinement:
		return 800
	default:
		return 1000
	}
}
