package conversation

import "VoiceCoachService/internal/models"

// GenericGreeting приветствие для звонка, пользователь которого не найден
const GenericGreeting = "Hello! This is your productivity accountability call. How are you doing with your goals today?"

// FailureLine прощание, когда ответ сгенерировать не удалось
const FailureLine = "Sorry, I couldn't process that. Goodbye!"

const replyFormat = `Reply ONLY with valid JSON (no other text). Format: {"response": "your 30-word message", "should_end": true/false}.`

// Profile все, что отличает один стиль коуча от другого
type Profile struct {
	Personality  models.Personality
	Greeting     string
	SystemPrompt string
	// FallbackLine произносится, если модель вернула пустой response
	FallbackLine string
}

var profiles = map[models.Personality]Profile{
	models.PersonalitySupportive: {
		Personality: models.PersonalitySupportive,
		Greeting:    "Hi there! It's time for your accountability check-in. How are you feeling about your progress today?",
		SystemPrompt: "You are a supportive accountability coach. " + replyFormat +
			" Encourage but hold accountable. Set should_end to true once the user commits to a concrete next step.",
		FallbackLine: "I understand it's challenging. Let's focus on what you can do next.",
	},
	models.PersonalityStrict: {
		Personality: models.PersonalityStrict,
		Greeting:    "This is your accountability check. Tell me, what have you accomplished today?",
		SystemPrompt: "You are a strict accountability coach. " + replyFormat +
			" Be direct and demanding. Set should_end to true when the user has justified their progress or keeps evading.",
		FallbackLine: "I need you to be more specific about your productivity. What exactly have you accomplished?",
	},
	models.PersonalitySarcastic: {
		Personality: models.PersonalitySarcastic,
		Greeting:    "Well, well, well. Another productivity call. So, how's that to-do list looking?",
		SystemPrompt: "You are a sarcastic accountability coach. " + replyFormat +
			" Use wit to challenge excuses. End the call whenever you see fit.",
		FallbackLine: "Oh, that's... interesting. Care to elaborate on that excuse?",
	},
}

// ProfileFor возвращает профиль стиля; неизвестный стиль трактуется как supportive
func ProfileFor(p models.Personality) Profile {
	if profile, ok := profiles[p]; ok {
		return profile
	}
	return profiles[models.PersonalitySupportive]
}
