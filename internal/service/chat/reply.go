package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/service/ai"
)

const technicianPrompt = `You are an expert refrigerator technician and appliance repair specialist AI assistant. You help users with refrigerator-related questions based on a specific diagnosis that was performed on their refrigerator.

GUIDELINES FOR RESPONSES:
1. **Primary Focus**: Answer questions about the specific refrigerator diagnosis and solutions provided
2. **Additional Help**: Provide general refrigerator maintenance, troubleshooting, and repair advice
3. **Expertise Areas**: All refrigerator brands, models, common problems, repair techniques, safety procedures
4. **Safety First**: Always emphasize safety warnings for electrical work, refrigerant handling, or complex repairs
5. **Cost Awareness**: Provide realistic cost estimates for repairs vs replacement decisions
6. **When to Call Professionals**: Clearly advise when professional service is needed

CAPABILITIES:
- Explain diagnosis results in simple terms
- Clarify step-by-step repair instructions
- Suggest alternative solutions or temporary fixes
- Recommend maintenance schedules and best practices
- Help identify refrigerator parts and tools needed
- Provide troubleshooting for related issues
- Explain warranty considerations
- Compare repair costs vs replacement value

RESPONSE STYLE:
- Be conversational, helpful, and encouraging
- Use clear, jargon-free explanations
- Provide specific, actionable advice
- Include safety reminders when relevant
- Ask clarifying questions if needed`

const answerInstruction = "Based on the refrigerator diagnosis above and your expertise, please provide a helpful, detailed response to the user's question. " +
	"If the question goes beyond the specific diagnosis, feel free to provide general refrigerator advice while relating it back to their specific situation when possible."

// SendMessage stores the user's message, asks the assistant with the full
// diagnosis as context, and stores and returns the reply. Messages for the
// same conversation are answered one at a time.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", faults.ErrInvalidInput)
	}
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	diag, err := s.diagnoses.Get(ctx, conv.DiagnosisID)
	if err != nil {
		return nil, err
	}

	var reply *models.Message
	err = s.workers.Run(ctx, conversationID, s.loadMessages, func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		userMsg, err := s.addMessage(ctx, conversationID, models.RoleUser, text)
		if err != nil {
			return nil, err
		}
		stored := []models.Message{*userMsg}

		replyCtx, cancel := context.WithTimeout(ai.WithAppliance(ctx, ai.ApplianceFromDiagnosis(conversationID, diag)), s.replyTimeout)
		defer cancel()
		answer, err := s.replier.Reply(replyCtx, conversationID, buildPrompt(diag, history, text), nil)
		if err != nil {
			slog.Error("chat reply failed", "conversation_id", conversationID, "kind", faults.Kind(err), "error", err)
			return stored, err
		}
		aiMsg, err := s.addMessage(ctx, conversationID, models.RoleAssistant, answer)
		if err != nil {
			return stored, err
		}
		reply = aiMsg
		return append(stored, *aiMsg), nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// buildPrompt lays out the diagnosis, the earlier turns and the new question.
func buildPrompt(d *models.Diagnosis, history []models.Message, question string) []models.Message {
	var b strings.Builder
	b.WriteString("REFRIGERATOR DIAGNOSIS CONTEXT:\n")
	fmt.Fprintf(&b, "File Name: %s\n", orUnknown(d.FileName))
	fmt.Fprintf(&b, "Brand: %s\n", orUnknown(d.Brand))
	fmt.Fprintf(&b, "Model: %s\n", orUnknown(d.Model))
	fmt.Fprintf(&b, "Refrigerator Type: %s\n", orUnknown(d.RefrigeratorType))
	fmt.Fprintf(&b, "Issue Category: %s\n", orUnknown(d.IssueCategory))
	fmt.Fprintf(&b, "Severity Level: %s\n\n", orUnknown(d.SeverityLevel))

	b.WriteString("AUDIO SUMMARY:\n")
	b.WriteString(orDefault(d.AudioSummary, "No audio summary available"))
	b.WriteString("\n\nDETAILED DIAGNOSIS:\n")
	b.WriteString(orDefault(d.DiagnosisResult, "No diagnosis available"))
	b.WriteString("\n\nSOLUTIONS PROVIDED:\n")
	b.WriteString(orDefault(d.Solutions, "No solutions available"))
	b.WriteString("\n\nPREVIOUS CONVERSATION:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", roleLabel(m.Role), m.Content)
	}
	fmt.Fprintf(&b, "User: %s\n\n", question)
	b.WriteString(answerInstruction)

	return []models.Message{
		{Role: models.RoleSystem, Content: technicianPrompt},
		{Role: models.RoleUser, Content: b.String()},
	}
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleAssistant:
		return "Assistant"
	case models.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

func orUnknown(v string) string {
	return orDefault(v, "Unknown")
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
