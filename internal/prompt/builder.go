// Package prompt builds the exact text sent to the LLM for every operation.
//
// Builders are pure string construction: no I/O, no side effects. Sections
// with no data are omitted rather than rendered empty.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/zapatende/zapatende/internal/models"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "Você é um assistente virtual de atendimento ao cidadão. " +
	"Responda de forma clara, educada e objetiva, em português, usando apenas as informações disponíveis. " +
	"Se não souber a resposta, diga que vai encaminhar a dúvida para um atendente."

// interventionNotice is appended to the system instructions when the
// conversation context already flags likely human handoff.
const interventionNotice = " Esta conversa provavelmente será transferida para um atendente humano; " +
	"mantenha a resposta breve e não prometa resoluções."

// lastInteractionLayout renders context timestamps as dd/MM/yyyy HH:mm.
const lastInteractionLayout = "02/01/2006 15:04"

// Config carries process-wide prompt settings, passed explicitly at
// construction instead of read from globals.
type Config struct {
	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string
}

// Builder constructs prompts for reply generation and the auxiliary analyses.
type Builder struct {
	systemPrompt string
}

// NewBuilder creates a Builder from the given configuration.
func NewBuilder(cfg Config) *Builder {
	systemPrompt := strings.TrimSpace(cfg.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Builder{systemPrompt: systemPrompt}
}

// SystemPrompt returns the effective system instructions for a conversation,
// extended with the handoff notice when the context flags intervention.
func (b *Builder) SystemPrompt(conversation *models.Conversation) string {
	if conversation != nil && conversation.Context.NeedsHumanIntervention {
		return b.systemPrompt + interventionNotice
	}
	return b.systemPrompt
}

// Build assembles the user-side prompt: optional context block, optional
// history block, and the current message. Context fields are emitted in fixed
// order and omitted independently when absent.
func (b *Builder) Build(userMessage, history string, conversation *models.Conversation) string {
	var sb strings.Builder

	if contextBlock := b.buildContextBlock(conversation); contextBlock != "" {
		sb.WriteString("### Informações de contexto\n")
		sb.WriteString(contextBlock)
		sb.WriteString("\n")
	}

	if history != "" {
		sb.WriteString("### Histórico da conversa\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}

	sb.WriteString("### Mensagem atual\n")
	sb.WriteString(userMessage)
	return sb.String()
}

// buildContextBlock renders the non-empty context fields, one per line.
func (b *Builder) buildContextBlock(conversation *models.Conversation) string {
	if conversation == nil {
		return ""
	}
	ctx := conversation.Context

	var lines []string
	if ctx.CustomerIntent != "" {
		lines = append(lines, fmt.Sprintf("Intenção do cliente: %s", ctx.CustomerIntent))
	}
	if ctx.LastTopic != "" {
		lines = append(lines, fmt.Sprintf("Último tópico: %s", ctx.LastTopic))
	}
	if len(ctx.IdentifiedEntities) > 0 {
		lines = append(lines, fmt.Sprintf("Entidades identificadas: %s", strings.Join(ctx.IdentifiedEntities, ", ")))
	}
	if conversation.Status != "" {
		lines = append(lines, fmt.Sprintf("Estado da conversa: %s", conversation.Status))
	}
	if ts := FormatLastInteraction(ctx.LastInteractionAt); ts != "" {
		lines = append(lines, fmt.Sprintf("Última interação: %s", ts))
	}
	if ctx.ConversationSummary != "" {
		lines = append(lines, fmt.Sprintf("Resumo da conversa: %s", ctx.ConversationSummary))
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// BuildIntentAnalysis wraps a message in the intent classification template
// with its closed set of output categories.
func (b *Builder) BuildIntentAnalysis(message string) string {
	var sb strings.Builder
	sb.WriteString("Classifique a intenção da mensagem do cliente em exatamente uma das categorias: ")
	sb.WriteString("INFORMACAO, SOLICITACAO, RECLAMACAO, AGENDAMENTO, ELOGIO, OUTRO.\n")
	sb.WriteString("Responda apenas com o nome da categoria.\n\n")
	sb.WriteString("Mensagem: ")
	sb.WriteString(message)
	return sb.String()
}

// BuildHumanIntervention wraps a message and its context in the binary
// handoff-classifier template. The expected answer is strictly SIM or NÃO.
func (b *Builder) BuildHumanIntervention(message, contextInfo string) string {
	var sb strings.Builder
	sb.WriteString("Analise se a mensagem do cliente exige atendimento humano ")
	sb.WriteString("(casos complexos, insatisfação explícita, pedido direto por atendente, assuntos fora do escopo do assistente).\n")
	sb.WriteString("Responda estritamente SIM ou NÃO.\n\n")
	if contextInfo != "" {
		sb.WriteString("Contexto:\n")
		sb.WriteString(contextInfo)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Mensagem: ")
	sb.WriteString(message)
	return sb.String()
}

// BuildEntityExtraction wraps a message in the entity extraction template.
func (b *Builder) BuildEntityExtraction(message string) string {
	var sb strings.Builder
	sb.WriteString("Liste as entidades relevantes mencionadas na mensagem (serviços, locais, datas, protocolos), ")
	sb.WriteString("separadas por vírgula. Se não houver nenhuma, responda apenas: nenhuma.\n\n")
	sb.WriteString("Mensagem: ")
	sb.WriteString(message)
	return sb.String()
}

// BuildSummary wraps a formatted conversation history in the summarization template.
func (b *Builder) BuildSummary(history string) string {
	var sb strings.Builder
	sb.WriteString("Resuma a conversa abaixo em até três frases, destacando o que o cliente precisa ")
	sb.WriteString("e o que já foi resolvido.\n\n")
	sb.WriteString(history)
	return sb.String()
}

// FormatLastInteraction formats a context timestamp the way the context block
// renders it. Exposed for reuse in context-info construction.
func FormatLastInteraction(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(lastInteractionLayout)
}
