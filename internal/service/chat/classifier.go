package chat

import "strings"

// Canned replies of the heritage guide.
const (
	HeritageReply = "Cultural heritage sites are important historical locations that preserve our past. They include ancient monuments, archaeological sites, historic buildings, and landscapes that hold cultural significance. Is there a specific heritage site you'd like to know more about?"
	VisitReply    = "Many cultural heritage sites offer guided tours and visitor programs. These typically include educational materials, interactive exhibits, and expert guides who can share the history and significance of the location. Would you like information about visiting hours or tour bookings?"
	HistoryReply  = "Historical sites often span thousands of years, representing different civilizations and cultures. Each site has unique stories, architectural styles, and cultural practices that provide insights into how people lived in the past. What particular historical period interests you?"
	GreetingReply = "Hello there! I'm here to help you learn about cultural heritage sites and their significance. Feel free to ask about historical monuments, archaeological discoveries, or planning visits to heritage locations."
	FallbackReply = "That's an interesting question about cultural heritage! While I specialize in heritage sites and historical information, I'd be happy to help you explore topics related to cultural preservation, historical significance, or visiting heritage locations. Could you tell me more about what you'd like to know?"
)

type replyRule struct {
	keywords []string
	reply    string
}

// replyRules is evaluated in order; the first rule with a matching keyword wins.
// Matching is on substrings, so "this" triggers the greeting rule.
var replyRules = []replyRule{
	{keywords: []string{"heritage", "cultural"}, reply: HeritageReply},
	{keywords: []string{"visit", "tour"}, reply: VisitReply},
	{keywords: []string{"history", "historical"}, reply: HistoryReply},
	{keywords: []string{"hello", "hi"}, reply: GreetingReply},
}

// Classify maps user text to the bot reply.
func Classify(text string) string {
	lowered := strings.ToLower(text)
	for _, rule := range replyRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.reply
			}
		}
	}
	return FallbackReply
}
