package llm

import (
	"fmt"
	"strings"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/stage"
)

// SystemPrompt is the persona every provider runs under.
const SystemPrompt = `You are a gentle companion for people grieving a loss. You listen more than
you advise. You never diagnose, never rush the person toward "moving on", and
never claim to be human. Keep replies to two to four short sentences. Reply in
the same language the person wrote in.`

// Request carries what the engine knows about one incoming message.
type Request struct {
	UserID     string
	Message    string
	UserType   string
	Stage      stage.Stage
	Confidence float64
	Mood       float64
	Alert      emotion.Alert
}

var lossNouns = map[string]string{
	"partner": "their partner",
	"family":  "a family member",
	"pet":     "their pet",
}

// ReplyPrompt generates the prompt for one supportive reply.
func ReplyPrompt(r Request) string {
	loss, ok := lossNouns[r.UserType]
	if !ok {
		loss = "someone close to them"
	}

	var guidance string
	switch r.Alert {
	case emotion.AlertCrisis:
		guidance = "The person may be in crisis. Acknowledge their pain first, then gently encourage them to reach a trusted person or a local crisis hotline right now."
	case emotion.AlertWarning:
		guidance = "Distress is elevated. Be especially warm and check how they are taking care of themselves."
	default:
		guidance = "Respond to what they actually said."
	}

	return fmt.Sprintf(`The person lost %s.

Detected grief stage: %s (confidence %.2f)
Distress index: %.1f on a 0-100 scale

%s

MESSAGE:
%s`, loss, r.Stage, r.Confidence, r.Mood, guidance, strings.TrimSpace(r.Message))
}
