package chat

import (
	"errors"
	"testing"
)

func TestRenderChatML(t *testing.T) {
	t.Parallel()
	out, err := Render(Options{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "Category: regs\nQuestion: q"},
		},
		AddGenerationPrompt: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "<|im_start|>system\nsys<|im_end|>\n" +
		"<|im_start|>user\nCategory: regs\nQuestion: q<|im_end|>\n" +
		"<|im_start|>assistant\n"
	if out != want {
		t.Fatalf("Render =\n%q\nwant\n%q", out, want)
	}
}

func TestRenderDefaultSystem(t *testing.T) {
	t.Parallel()
	out, err := Render(Options{
		Messages:      []Message{{Role: RoleUser, Content: "hi"}},
		DefaultSystem: QwenDefaultSystem,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "<|im_start|>system\n" + QwenDefaultSystem + "<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n"
	if out != want {
		t.Fatalf("Render = %q", out)
	}
}

func TestRenderRejects(t *testing.T) {
	t.Parallel()
	if _, err := Render(Options{}); !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := Render(Options{Messages: []Message{{Role: "tool", Content: "x"}}}); err == nil {
		t.Fatal("expected unknown role error")
	}
	if _, err := Render(Options{Messages: []Message{{Role: RoleUser}, {Role: RoleSystem}}}); err == nil {
		t.Fatal("expected misplaced system error")
	}
}

func TestIsChatML(t *testing.T) {
	t.Parallel()
	if !IsChatML("") || !IsChatML("{% for m in messages %}<|im_start|>{{ m.role }}<|im_end|>{% endfor %}") {
		t.Fatal("ChatML template not recognised")
	}
	if IsChatML("[INST] {{ messages }} [/INST]") {
		t.Fatal("non-ChatML template accepted")
	}
}
