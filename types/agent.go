package types

import "time"

// AgentTemplate is the stored persona configuration for one automated
// assistant. The Template key doubles as a room's AssignedTo value.
type AgentTemplate struct {
	Template     string    `json:"template" gorm:"primaryKey"`
	Product      string    `json:"product"`
	KPIs         string    `json:"kpis" gorm:"column:kpis"`
	Instructions string    `json:"instructions"`
	WebsiteText  string    `json:"websiteText"`
	DocumentText string    `json:"documentText"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var agentDisplayNames = map[string]string{
	"sales-engineer":     "Sales Engineer",
	"marketing-engineer": "Marketing Engineer",
	"receptionist":       "Receptionist",
	"chat-widget":        "Assistant",
}

// AgentTemplateKeys lists the known persona template keys.
func AgentTemplateKeys() []string {
	keys := make([]string, 0, len(agentDisplayNames))
	for k := range agentDisplayNames {
		keys = append(keys, k)
	}
	return keys
}

// IsAgentTemplate reports whether key names a known persona template.
func IsAgentTemplate(key string) bool {
	_, ok := agentDisplayNames[key]
	return ok
}

// AgentDisplayName returns the sender name an agent posts under.
func AgentDisplayName(template string) string {
	if name, ok := agentDisplayNames[template]; ok {
		return name
	}
	return "Assistant"
}

// IsAgentName reports whether a display name belongs to an agent persona.
// The auto-reply trigger uses this to break the reply loop.
func IsAgentName(name string) bool {
	for _, display := range agentDisplayNames {
		if display == name {
			return true
		}
	}
	return false
}
