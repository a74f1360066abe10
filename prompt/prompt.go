// Package prompt renders mailbox metadata into the instruction text sent to
// the local model. Rendering is pure: the same records and persona always
// produce byte-identical output.
package prompt

import (
	"strconv"
	"strings"

	"github.com/dhcgn/mail-digest/model"
)

const (
	unknownSender  = "Unknown"
	noSubject      = "(no subject)"
	unknownDate    = "Unknown date"
	defaultPersona = "Alex"
)

// Persona is the person the report is written for. FormalName is used by the
// model for security, money or otherwise critical emails.
type Persona struct {
	Name       string
	FormalName string
}

func (p Persona) normalized() Persona {
	p.Name = singleLine(p.Name)
	p.FormalName = singleLine(p.FormalName)
	if p.Name == "" {
		p.Name = defaultPersona
	}
	if p.FormalName == "" {
		p.FormalName = p.Name
	}
	return p
}

// Empty returns the prompt used when there is nothing to analyze.
func Empty(persona Persona) string {
	p := persona.normalized()
	return "You are " + p.Name + "'s executive assistant. " +
		"No emails have been provided. " +
		"Simply reply: No emails to analyze."
}

// Build renders the analysis prompt for records, numbered 1..N in the order
// given. With no records it returns Empty.
func Build(records []model.EmailRecord, persona Persona) string {
	if len(records) == 0 {
		return Empty(persona)
	}
	p := persona.normalized()

	var sb strings.Builder
	writePreamble(&sb, p)
	writeFormat(&sb, p)
	writeConstraints(&sb)

	sb.WriteString("Here is the list of emails to analyze:\n")
	for i, record := range records {
		writeRecord(&sb, i+1, record)
	}

	sb.WriteString("\nAnswer directly and follow the format described above STRICTLY.\n")
	return sb.String()
}

func writePreamble(sb *strings.Builder, p Persona) {
	sb.WriteString("You are a professional executive assistant.\n")
	sb.WriteString("You speak directly to the user, whose name is " + p.Name + ".\n\n")

	sb.WriteString("Communication rules:\n")
	sb.WriteString("- In a normal context, call them \"" + p.Name + "\".\n")
	sb.WriteString("- If an email concerns security, money, or anything critical, call them \"" + p.FormalName + "\".\n")
	sb.WriteString("- Your tone must be calm, clear and structured, like an intelligent assistant.\n\n")

	sb.WriteString("Important information:\n")
	sb.WriteString("- The emails provided do NOT include their content (no body).\n")
	sb.WriteString("- You must analyze ONLY the sender, the subject and the date.\n")
	sb.WriteString("- NEVER invent the content of an email.\n")
	sb.WriteString("- Do not reconstruct sentences or add fictional details.\n\n")
}

func writeFormat(sb *strings.Builder, p Persona) {
	sb.WriteString("MANDATORY RESPONSE FORMAT\n")
	sb.WriteString("You MUST follow exactly the following sections, in this order:\n\n")

	sb.WriteString("1) SECTION: EMAIL RECAP\n")
	sb.WriteString("   - List each email on ONE line:\n")
	sb.WriteString("     - EXACT format:\n")
	sb.WriteString("       Email X — Subject: « ... » — Sender: ...\n")
	sb.WriteString("   - Example:\n")
	sb.WriteString("     Email 1 — Subject: « Security alert » — Sender: Google <no-reply@accounts.google.com>\n\n")

	sb.WriteString("2) SECTION: ANALYSIS PER EMAIL\n")
	sb.WriteString("   For EACH email, write using this EXACT format:\n\n")
	sb.WriteString("   Email X — Subject: « ... » — Sender: ...\n")
	sb.WriteString("   Type: URGENT / IMPORTANT / NORMAL / SPAM\n")
	sb.WriteString("   Reply needed: YES or NO\n")
	sb.WriteString("   Urgency: [number from 0 to 10]\n")
	sb.WriteString("   Reason: short factual sentence, without inventing content\n")
	sb.WriteString("   Risk: Low / Medium / High\n\n")
	sb.WriteString("   (Blank line between each email for readability.)\n\n")

	sb.WriteString("3) SECTION: EMAILS TO ANSWER FIRST\n")
	sb.WriteString("   - NUMBERED list of the emails where \"Reply needed = YES\"\n")
	sb.WriteString("   - EXACT format:\n")
	sb.WriteString("     1. Email X — Subject: « ... » — Sender: ...\n")
	sb.WriteString("     2. Email Y — Subject: « ... » — Sender: ...\n\n")

	sb.WriteString("4) SECTION: SPAM / UNWANTED\n")
	sb.WriteString("   - List the emails you consider spam or unwanted:\n")
	sb.WriteString("     - Format:\n")
	sb.WriteString("       - Email X — Subject: « ... » — Sender: ...\n\n")

	sb.WriteString("5) SECTION: TOP 3 PRIORITIES FOR " + strings.ToUpper(p.Name) + "\n")
	sb.WriteString("   - Give the 3 most important emails to handle\n")
	sb.WriteString("   - Format:\n")
	sb.WriteString("     1. Email X — Subject: « ... » — Why it is a priority: ...\n")
	sb.WriteString("     2. Email Y — Subject: « ... » — Why it is a priority: ...\n")
	sb.WriteString("     3. Etc.\n\n")

	sb.WriteString("6) SECTION: CONCLUSION FOR " + strings.ToUpper(p.Name) + "\n")
	sb.WriteString("   - Speak directly to " + p.Name + " (or \"" + p.FormalName + "\" if critical)\n")
	sb.WriteString("   - Explain in 2-4 sentences what to do now.\n")
	sb.WriteString("   - Give a short simple plan:\n")
	sb.WriteString("     - Step 1: ...\n")
	sb.WriteString("     - Step 2: ...\n")
	sb.WriteString("     - Step 3: ...\n\n")
}

func writeConstraints(sb *strings.Builder) {
	sb.WriteString("Constraints:\n")
	sb.WriteString("- NEVER refer to an email only by its number without recalling the subject and the sender.\n")
	sb.WriteString("- Always pair Email X with: Subject + Sender.\n")
	sb.WriteString("- Do not write a novel: be efficient, structured and readable.\n\n")
}

func writeRecord(sb *strings.Builder, index int, record model.EmailRecord) {
	sb.WriteString("\nEMAIL ")
	sb.WriteString(strconv.Itoa(index))
	sb.WriteString("\nSender  : ")
	sb.WriteString(orDefault(record.Sender, unknownSender))
	sb.WriteString("\nSubject : ")
	sb.WriteString(orDefault(record.Subject, noSubject))
	sb.WriteString("\nDate    : ")
	sb.WriteString(orDefault(record.Date, unknownDate))
	sb.WriteString("\n")
}

func orDefault(value, fallback string) string {
	if v := singleLine(value); v != "" {
		return v
	}
	return fallback
}

// singleLine keeps a field on one line so a record always renders as exactly
// one block.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
