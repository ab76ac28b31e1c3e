package inference

import (
	"strings"

	"github.com/rlt-tender/tenderguide/internal/chat"
)

// SystemPrompt is the fixed instruction that opens every conversation. The
// adapter was tuned on this exact text.
const SystemPrompt = "Ты ассистент секции КОРП. Отвечай кратко и по делу. " +
	"Если в запросе есть опечатки — молча исправь и решай задачу по исправленному тексту; " +
	"в ответе добавляй строку «Исправления: …» (если были). " +
	"Всегда добавляй раздел «Источники:» со списком использованных материалов. " +
	"Если вопрос выходит за рамки КОРП/223-ФЗ/регламентов/гайдов/ЭП/регистрации/имущественных торгов — честно скажи об этом."

// User turn labels, one field per line.
const (
	LabelCategory    = "Категория: "
	LabelSubcategory = "Подкатегория: "
	LabelQuestion    = "Вопрос: "
)

// UserTurn builds the structured user message.
func UserTurn(question, category, subcat string) string {
	var b strings.Builder
	b.WriteString(LabelCategory)
	b.WriteString(category)
	if subcat != "" {
		b.WriteString("\n")
		b.WriteString(LabelSubcategory)
		b.WriteString(subcat)
	}
	b.WriteString("\n")
	b.WriteString(LabelQuestion)
	b.WriteString(question)
	return b.String()
}

// RenderPrompt renders the system and user turns as ChatML with an open
// assistant turn.
func RenderPrompt(req Request) (string, error) {
	return chat.Render(chat.Options{
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: SystemPrompt},
			{Role: chat.RoleUser, Content: UserTurn(req.Question, req.Category, req.Subcat)},
		},
		AddGenerationPrompt: true,
	})
}
