package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/zapatende/zapatende/internal/models"
)

func TestNewBuilderDefaultSystemPrompt(t *testing.T) {
	b := NewBuilder(Config{})
	if got := b.SystemPrompt(nil); got != DefaultSystemPrompt {
		t.Errorf("expected default system prompt, got %q", got)
	}
}

func TestNewBuilderCustomSystemPrompt(t *testing.T) {
	b := NewBuilder(Config{SystemPrompt: "Você é o atendente da prefeitura."})
	if got := b.SystemPrompt(nil); got != "Você é o atendente da prefeitura." {
		t.Errorf("expected custom system prompt, got %q", got)
	}
}

func TestSystemPromptInterventionNotice(t *testing.T) {
	b := NewBuilder(Config{})
	conv := &models.Conversation{
		Context: models.ConversationContext{NeedsHumanIntervention: true},
	}
	got := b.SystemPrompt(conv)
	if !strings.HasPrefix(got, DefaultSystemPrompt) {
		t.Errorf("expected base instructions preserved, got %q", got)
	}
	if !strings.Contains(got, "atendente humano") {
		t.Errorf("expected handoff notice appended, got %q", got)
	}
}

func TestBuildMinimal(t *testing.T) {
	b := NewBuilder(Config{})
	got := b.Build("Olá", "", nil)

	if strings.Contains(got, "### Informações de contexto") {
		t.Error("empty context should not render a context block")
	}
	if strings.Contains(got, "### Histórico da conversa") {
		t.Error("empty history should not render a history block")
	}
	if !strings.Contains(got, "### Mensagem atual\nOlá") {
		t.Errorf("expected current message section, got %q", got)
	}
}

func TestBuildFullContext(t *testing.T) {
	b := NewBuilder(Config{})
	conv := &models.Conversation{
		Status: models.ConversationStatusActive,
		Context: models.ConversationContext{
			CustomerIntent:      "INFORMACAO",
			LastTopic:           "coleta de lixo",
			IdentifiedEntities:  []string{"coleta de lixo", "Zona Norte"},
			ConversationSummary: "Cliente pergunta sobre horários de coleta.",
			LastInteractionAt:   time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC),
		},
	}
	history := "[USUARIO]: Olá\n[ASSISTENTE]: Olá! Como posso ajudar?"
	got := b.Build("Qual o horário da coleta?", history, conv)

	for _, want := range []string{
		"### Informações de contexto",
		"Intenção do cliente: INFORMACAO",
		"Último tópico: coleta de lixo",
		"Entidades identificadas: coleta de lixo, Zona Norte",
		"Estado da conversa: ACTIVE",
		"Última interação: 07/03/2025 14:30",
		"Resumo da conversa: Cliente pergunta sobre horários de coleta.",
		"### Histórico da conversa",
		"[USUARIO]: Olá",
		"### Mensagem atual\nQual o horário da coleta?",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected prompt to contain %q, got:\n%s", want, got)
		}
	}
}

func TestBuildContextFieldOrder(t *testing.T) {
	b := NewBuilder(Config{})
	conv := &models.Conversation{
		Status: models.ConversationStatusActive,
		Context: models.ConversationContext{
			CustomerIntent: "RECLAMACAO",
			LastTopic:      "iluminação pública",
		},
	}
	got := b.Build("A rua continua escura", "", conv)

	intentIdx := strings.Index(got, "Intenção do cliente")
	topicIdx := strings.Index(got, "Último tópico")
	stateIdx := strings.Index(got, "Estado da conversa")
	if intentIdx == -1 || topicIdx == -1 || stateIdx == -1 {
		t.Fatalf("missing context fields in:\n%s", got)
	}
	if !(intentIdx < topicIdx && topicIdx < stateIdx) {
		t.Errorf("context fields out of order in:\n%s", got)
	}
}

func TestBuildOmitsEmptyContextFields(t *testing.T) {
	b := NewBuilder(Config{})
	conv := &models.Conversation{
		Status:  models.ConversationStatusActive,
		Context: models.ConversationContext{LastTopic: "IPTU"},
	}
	got := b.Build("Como emito a segunda via?", "", conv)

	if strings.Contains(got, "Intenção do cliente") {
		t.Error("empty intent should be omitted")
	}
	if strings.Contains(got, "Entidades identificadas") {
		t.Error("empty entities should be omitted")
	}
	if strings.Contains(got, "Resumo da conversa") {
		t.Error("empty summary should be omitted")
	}
	if !strings.Contains(got, "Último tópico: IPTU") {
		t.Errorf("expected topic line, got:\n%s", got)
	}
}

func TestBuildHumanIntervention(t *testing.T) {
	b := NewBuilder(Config{})
	got := b.BuildHumanIntervention("Quero falar com uma pessoa", "Último tópico: IPTU")

	if !strings.Contains(got, "SIM ou NÃO") {
		t.Errorf("expected binary answer instruction, got %q", got)
	}
	if !strings.Contains(got, "Contexto:\nÚltimo tópico: IPTU") {
		t.Errorf("expected context section, got %q", got)
	}
	if !strings.Contains(got, "Mensagem: Quero falar com uma pessoa") {
		t.Errorf("expected message section, got %q", got)
	}
}

func TestBuildHumanInterventionNoContext(t *testing.T) {
	b := NewBuilder(Config{})
	got := b.BuildHumanIntervention("Oi", "")
	if strings.Contains(got, "Contexto:") {
		t.Errorf("empty context should be omitted, got %q", got)
	}
}

func TestBuildIntentAnalysisCategories(t *testing.T) {
	b := NewBuilder(Config{})
	got := b.BuildIntentAnalysis("Quando passa o caminhão de lixo?")
	for _, cat := range []string{"INFORMACAO", "SOLICITACAO", "RECLAMACAO", "AGENDAMENTO", "ELOGIO", "OUTRO"} {
		if !strings.Contains(got, cat) {
			t.Errorf("expected category %s in prompt", cat)
		}
	}
}

func TestBuildEntityExtraction(t *testing.T) {
	b := NewBuilder(Config{})
	got := b.BuildEntityExtraction("Preciso da segunda via do IPTU")
	if !strings.Contains(got, "nenhuma") {
		t.Errorf("expected empty-answer instruction, got %q", got)
	}
	if !strings.Contains(got, "Mensagem: Preciso da segunda via do IPTU") {
		t.Errorf("expected message section, got %q", got)
	}
}

func TestFormatLastInteraction(t *testing.T) {
	if got := FormatLastInteraction(time.Time{}); got != "" {
		t.Errorf("expected empty string for zero time, got %q", got)
	}
	ts := time.Date(2025, 12, 1, 9, 5, 0, 0, time.UTC)
	if got := FormatLastInteraction(ts); got != "01/12/2025 09:05" {
		t.Errorf("expected dd/MM/yyyy HH:mm format, got %q", got)
	}
}
