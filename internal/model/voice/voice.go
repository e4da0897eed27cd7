package voice

// DefaultCode is the voice used when a session does not ask for one.
const DefaultCode = "en-US"

// Voice pairs a supported locale with the provider speaker that reads it.
type Voice struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	VoiceID     string `json:"voiceId"`
}

// Seed provides the voices the widget offers in its language picker.
func Seed() []Voice {
	return []Voice{
		{
			Code:        "en-US",
			DisplayName: "English (US)",
			VoiceID:     "en_female_amy_jupiter_bigtts",
		},
		{
			Code:        "en-GB",
			DisplayName: "English (UK)",
			VoiceID:     "en_male_glen_emo_v2_mars_bigtts",
		},
		{
			Code:        "fr-FR",
			DisplayName: "Français",
			VoiceID:     "multi_female_sophie_conversation_wvae_bigtts",
		},
		{
			Code:        "es-ES",
			DisplayName: "Español",
			VoiceID:     "multi_male_javier_conversation_wvae_bigtts",
		},
		{
			Code:        "zh-CN",
			DisplayName: "中文（普通话）",
			VoiceID:     "zh_female_vv_uranus_bigtts",
		},
	}
}
