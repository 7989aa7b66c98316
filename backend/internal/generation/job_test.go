package generation

import (
	"strings"
	"testing"
)

func TestJob_BuildPrompt(t *testing.T) {
	job := Job{
		Description: "Uma música animada para festa",
		VoiceType:   "female",
		Genre:       "forró",
		Rhythm:      "fast",
		Instruments: "sanfona, zabumba",
		StudioType:  "live",
	}

	prompt := job.BuildPrompt()

	for _, want := range []string{
		"Uma música animada para festa",
		"Gênero: forró",
		"Ritmo: rápido",
		"Instrumentos: sanfona, zabumba",
		"Ambiente: gravação ao vivo",
		"Tipo de voz: voz feminina",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt %q missing %q", prompt, want)
		}
	}
}

func TestJob_BuildPromptInstrumental(t *testing.T) {
	job := Job{Description: "trilha calma", VoiceType: "instrumental"}
	prompt := job.BuildPrompt()

	if strings.Contains(prompt, "Tipo de voz") {
		t.Fatalf("instrumental prompt should not mention voice: %q", prompt)
	}
	// 默认环境是棚录
	if !strings.Contains(prompt, "Ambiente: estúdio profissional") {
		t.Fatalf("prompt missing default studio ambience: %q", prompt)
	}
}

// 未知的 rhythm/voice 值原样透传，不吞掉。
func TestJob_BuildPromptUnknownValuesPassThrough(t *testing.T) {
	job := Job{Description: "d", VoiceType: "coral", Rhythm: "sincopado"}
	prompt := job.BuildPrompt()

	if !strings.Contains(prompt, "Ritmo: sincopado") {
		t.Fatalf("prompt %q should pass through unknown rhythm", prompt)
	}
	if !strings.Contains(prompt, "Tipo de voz: coral") {
		t.Fatalf("prompt %q should pass through unknown voice type", prompt)
	}
}

func TestNewProcessID(t *testing.T) {
	id := NewProcessID(42)
	if !strings.HasPrefix(id, "music_42_") {
		t.Fatalf("NewProcessID(42) = %q, want music_42_ prefix", id)
	}
}
