package taxonomy

import "github.com/SafeHarbor-Care/SafeHarbor/internal/models"

// defaultFactors returns the built-in risk-factor catalog.
//
// Trigger terms are matched on normalized text; critical phrases are exact
// statements that saturate the factor regardless of how many other terms
// matched. StrongMatchCount is the number of distinct term matches that
// drives the factor's match strength to 1.0.
func defaultFactors() []models.RiskFactor {
	return []models.RiskFactor{
		{
			Name:        "suicidal_ideation",
			DisplayName: "Suicidal Ideation",
			Description: "Statements expressing a desire to die or end one's life.",
			Severity:    models.SeverityHigh,
			TriggerTerms: []string{
				"suicide", "suicidal", "kill myself", "end my life", "want to die",
				"better off dead", "not worth living", "take my own life",
				"end it all", "don't want to be here", "world without me",
			},
			CriticalPhrases: []string{
				"kill myself", "end my life", "want to die", "take my own life",
				"better off dead", "end it all",
			},
			ContextModifiers: []string{"plan", "method", "when", "how", "tonight", "today"},
			WarningSigns: []string{
				"Talking about wanting to die",
				"Researching methods of self-harm",
				"Saying goodbye or giving away possessions",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "self_harm",
			DisplayName: "Self-Harm",
			Description: "Statements about harming or intending to harm oneself.",
			Severity:    models.SeverityHigh,
			TriggerTerms: []string{
				"hurt myself", "cut myself", "self harm", "cutting", "burning myself",
				"hitting myself", "punish myself", "deserve pain", "make it stop",
			},
			CriticalPhrases: []string{
				"hurt myself", "cut myself", "going to cut", "harm myself",
			},
			WarningSigns: []string{
				"Unexplained injuries",
				"Talk of deserving punishment or pain",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "hopelessness",
			DisplayName: "Hopelessness",
			Description: "Expressions that the future holds nothing and effort is pointless.",
			Severity:    models.SeverityMedium,
			TriggerTerms: []string{
				"hopeless", "no point", "pointless", "give up", "can't go on",
				"no future", "nothing matters", "why bother", "no way out",
				"trapped", "stuck forever",
			},
			ContextModifiers: []string{"always", "never", "forever", "everyone", "nothing"},
			WarningSigns: []string{
				"Absolutist language about the future",
				"Withdrawal from previously valued goals",
			},
			StrongMatchCount: 1,
		},
		{
			Name:        "depression",
			DisplayName: "Severe Depression",
			Description: "Marked worthlessness, self-blame, or wishes to disappear.",
			Severity:    models.SeverityMedium,
			TriggerTerms: []string{
				"want to disappear", "invisible", "burden to everyone",
				"everyone hates me", "worthless", "useless", "failure",
				"can't do anything right", "ruined everything",
			},
			WarningSigns: []string{
				"Persistent self-deprecation",
				"Loss of interest in daily activities",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "substance_abuse",
			DisplayName: "Substance Abuse",
			Description: "Loss of control over alcohol, drugs, or medication.",
			Severity:    models.SeverityMedium,
			TriggerTerms: []string{
				"drinking too much", "can't stop drinking", "need drugs",
				"overdose", "too many pills", "using again", "relapsed",
				"out of control", "addiction",
			},
			WarningSigns: []string{
				"Escalating use described as uncontrollable",
				"References to relapse after abstinence",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "trauma",
			DisplayName: "Trauma / PTSD",
			Description: "Intrusive memories, flashbacks, or re-experiencing of trauma.",
			Severity:    models.SeverityMedium,
			TriggerTerms: []string{
				"flashbacks", "nightmares", "can't forget", "reliving",
				"traumatized", "ptsd", "triggered", "memories won't stop",
			},
			WarningSigns: []string{
				"Sleep disruption from nightmares",
				"Avoidance of reminders",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "isolation",
			DisplayName: "Social Isolation",
			Description: "Perceived or actual disconnection from all support.",
			Severity:    models.SeverityLow,
			TriggerTerms: []string{
				"nobody cares", "all alone", "no friends", "isolated",
				"pushing everyone away", "can't talk to anyone",
				"no one understands", "abandoned",
			},
			WarningSigns: []string{
				"Cutting off contact with friends and family",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "anxiety",
			DisplayName: "Acute Anxiety",
			Description: "Overwhelming worry, panic, or inability to cope.",
			Severity:    models.SeverityLow,
			TriggerTerms: []string{
				"panic attack", "can't breathe", "overwhelmed", "stressed",
				"anxious", "terrified", "can't cope", "spiraling",
			},
			WarningSigns: []string{
				"Physical panic symptoms",
				"Catastrophic thinking",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "relationship_issues",
			DisplayName: "Relationship Distress",
			Description: "Breakups, conflict, or loss of key relationships.",
			Severity:    models.SeverityLow,
			TriggerTerms: []string{
				"broke up", "divorce", "left me", "nobody loves me",
				"lost everyone", "fighting all the time",
			},
			WarningSigns: []string{
				"Recent loss of a central relationship",
			},
			StrongMatchCount: 2,
		},
		{
			Name:        "financial_stress",
			DisplayName: "Financial Stress",
			Description: "Debt, job loss, or money problems described as crushing.",
			Severity:    models.SeverityLow,
			TriggerTerms: []string{
				"lost my job", "drowning in debt", "can't pay", "broke",
				"evicted", "bankrupt",
			},
			WarningSigns: []string{
				"Describing finances as inescapable",
			},
			StrongMatchCount: 2,
		},
	}
}

// defaultResources returns the built-in safety resource directory. Emergency
// resources are listed first so the selection rules pick them in order.
func defaultResources() []models.SafetyResource {
	return []models.SafetyResource{
		{
			Name:         "988 Suicide & Crisis Lifeline",
			Type:         "hotline",
			Contact:      "988",
			Availability: "24/7",
			Description:  "Free, confidential crisis counseling",
			CountryCode:  "US",
			Emergency:    true,
		},
		{
			Name:         "Crisis Text Line",
			Type:         "text",
			Contact:      "Text HOME to 741741",
			Availability: "24/7",
			Description:  "Crisis counseling via text",
			CountryCode:  "US",
			Emergency:    true,
		},
		{
			Name:         "Samaritans",
			Type:         "hotline",
			Contact:      "116 123",
			Availability: "24/7",
			Description:  "Free support for emotional distress",
			CountryCode:  "UK",
			Emergency:    true,
		},
		{
			Name:         "Psychology Today Therapist Finder",
			Type:         "website",
			Contact:      "https://www.psychologytoday.com/us/therapists",
			Availability: "24/7 online",
			Description:  "Find mental health professionals near you",
			CountryCode:  "US",
		},
		{
			Name:         "BetterHelp Online Therapy",
			Type:         "website",
			Contact:      "https://www.betterhelp.com",
			Availability: "24/7 online",
			Description:  "Professional online counseling",
			CountryCode:  "US",
		},
		{
			Name:         "National Suicide Prevention Lifeline",
			Type:         "website",
			Contact:      "https://suicidepreventionlifeline.org",
			Availability: "24/7 online",
			Description:  "Resources and support information",
			CountryCode:  "US",
		},
		{
			Name:         "Mind (UK)",
			Type:         "website",
			Contact:      "https://www.mind.org.uk",
			Availability: "24/7 online",
			Description:  "Mental health information and support",
			CountryCode:  "UK",
		},
		{
			Name:         "MY3 Support Network App",
			Type:         "app",
			Contact:      "Download from app store",
			Availability: "Always available",
			Description:  "Create personal safety plan",
			CountryCode:  "US",
		},
	}
}
