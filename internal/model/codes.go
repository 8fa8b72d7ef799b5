package model

import (
	"strings"
)

// LocationScope classifies where a trial recruits.
type LocationScope string

const (
	LocationUS    LocationScope = "1"
	LocationNonUS LocationScope = "2"
	LocationBoth  LocationScope = "3"
)

// Label returns the display label for the scope.
func (l LocationScope) Label() string {
	switch l {
	case LocationUS:
		return "US ONLY"
	case LocationNonUS:
		return "NON-US ONLY"
	case LocationBoth:
		return "BOTH US & NON-US"
	default:
		return ""
	}
}

// StatusLabels maps one-letter status codes to registry display text.
var StatusLabels = map[string]string{
	"A": "Active, not recruiting",
	"C": "Completed",
	"E": "Enrolling by invitation",
	"N": "Not yet recruiting",
	"R": "Recruiting",
	"S": "Suspended",
	"T": "Terminated",
	"U": "Unknown status",
	"W": "Withdrawn",
}

// StatusCode reduces a registry status to its one-letter code.
// "Active, not recruiting" and "ACTIVE_NOT_RECRUITING" both become "A".
func StatusCode(status string) string {
	s := strings.TrimSpace(status)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1])
}

// PhaseLabels maps normalized phase codes to display text.
var PhaseLabels = map[string]string{
	"N":  "No Phase",
	"E":  "Early 1",
	"1":  "Phase 1",
	"2":  "Phase 2",
	"3":  "Phase 3",
	"12": "Phase 1 | Phase 2",
	"23": "Phase 2 | Phase 3",
	"4":  "Phase 4",
}

var purposeCodes = map[string]string{
	"treatment":                "T",
	"prevention":               "P",
	"diagnostic":               "D",
	"supportive care":          "U",
	"screening":                "C",
	"health services research": "H",
	"basic science":            "B",
	"other":                    "O",
}

// PurposeCode maps a primary-purpose display name to its code, or nil when
// the name is absent or unknown.
func PurposeCode(purpose *string) *string {
	if purpose == nil {
		return nil
	}
	code, ok := purposeCodes[choiceKey(*purpose)]
	if !ok {
		return nil
	}
	return &code
}

var funderCodes = map[string]string{
	"NIH":       "N",
	"FED":       "F",
	"U.S. FED":  "F",
	"INDUSTRY":  "I",
	"OTHER_GOV": "G",
	"OTHER":     "O",
	"NETWORK":   "O",
	"INDIV":     "O",
	"UNKNOWN":   "O",
}

// FunderCode maps a lead sponsor agency class to the funder code
// (N, F, I, G or O). Unknown classes fall back to the first letter of the
// last underscore-separated segment when that letter is a valid code.
func FunderCode(class *string) *string {
	if class == nil {
		return nil
	}
	key := strings.ToUpper(strings.TrimSpace(*class))
	if key == "" {
		return nil
	}
	if code, ok := funderCodes[key]; ok {
		return &code
	}
	parts := strings.Split(key, "_")
	last := parts[len(parts)-1]
	if last == "" {
		return nil
	}
	code := last[:1]
	switch code {
	case "N", "F", "I", "G", "O":
		return &code
	}
	return nil
}

// AgentType is the intervention type code.
type AgentType int

const (
	AgentCombination AgentType = iota
	AgentDevice
	AgentBiological
	AgentRadiation
	AgentOther
	AgentGenetic
	AgentDrug
	AgentProcedure
	AgentDietary
	AgentDiagnostic
	AgentBehavioral
)

var agentTypeNames = []string{
	"Combination Product",
	"Device",
	"Biological",
	"Radiation",
	"Other",
	"Genetic",
	"Drug",
	"Procedure",
	"Dietary Supplement",
	"Diagnostic Test",
	"Behavioral",
}

// String returns the display name of the agent type.
func (a AgentType) String() string {
	if a < 0 || int(a) >= len(agentTypeNames) {
		return "Other"
	}
	return agentTypeNames[a]
}

// ParseAgentType resolves a display name ("Dietary Supplement") or enum
// spelling ("DIETARY_SUPPLEMENT") to an AgentType. Unknown names map to
// AgentOther.
func ParseAgentType(name string) AgentType {
	key := choiceKey(name)
	for i, n := range agentTypeNames {
		if strings.ToLower(n) == key {
			return AgentType(i)
		}
	}
	switch key {
	case "combination", "combination product":
		return AgentCombination
	case "biologic":
		return AgentBiological
	case "dietary", "dietary supplement":
		return AgentDietary
	case "diagnostic", "diagnostic test":
		return AgentDiagnostic
	}
	return AgentOther
}

// Notifiable reports whether trials studying this agent type are announced.
func (a AgentType) Notifiable() bool {
	return a == AgentDrug || a == AgentBiological
}

func choiceKey(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
