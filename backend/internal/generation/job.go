package generation

import (
	"fmt"
	"strings"
	"time"
)

// Job 是一份生成订单：POST /generate 校验通过后产出它，经 Kafka
// 送到消费进程执行。字段就是点单时收集的全部信息。
type Job struct {
	ProcessID   string `json:"processId"`
	UserID      uint64 `json:"userId"`
	MusicID     uint64 `json:"musicId"` // 接单时就插好的 processing 行
	MusicName   string `json:"musicName"`
	Description string `json:"description"`
	VoiceType   string `json:"voiceType"` // instrumental / male / female / both
	Lyrics      string `json:"lyrics,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Rhythm      string `json:"rhythm,omitempty"` // slow / fast / mixed
	Instruments string `json:"instruments,omitempty"`
	StudioType  string `json:"studioType,omitempty"` // studio / live
	// 声音样本上传后的 URL。样本本体最大 50MB，不走 Kafka，
	// 接单时先传到存储，消费侧按 URL 取用。
	VoiceSampleURL string    `json:"voiceSampleUrl,omitempty"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// NewProcessID 生成一次生成过程的追踪 id，格式沿用 music_{userID}_{unix}。
func NewProcessID(userID uint64) string {
	return fmt.Sprintf("music_%d_%d", userID, time.Now().Unix())
}

// BuildPrompt 把订单拼成交给生成模型的完整提示词。
// 映射表面向模型的目标语言（葡语），和前端的枚举值解耦。
func (j Job) BuildPrompt() string {
	parts := []string{j.Description}

	if j.Genre != "" {
		parts = append(parts, "Gênero: "+j.Genre)
	}

	if j.Rhythm != "" {
		rhythmMap := map[string]string{"slow": "lento", "fast": "rápido", "mixed": "ritmo variado"}
		r, ok := rhythmMap[j.Rhythm]
		if !ok {
			r = j.Rhythm
		}
		parts = append(parts, "Ritmo: "+r)
	}

	if j.Instruments != "" {
		parts = append(parts, "Instrumentos: "+j.Instruments)
	}

	if j.StudioType == "live" {
		parts = append(parts, "Ambiente: gravação ao vivo")
	} else {
		parts = append(parts, "Ambiente: estúdio profissional")
	}

	if j.VoiceType != "instrumental" {
		voiceMap := map[string]string{
			"male":   "voz masculina",
			"female": "voz feminina",
			"both":   "dueto (vozes masculina e feminina)",
		}
		v, ok := voiceMap[j.VoiceType]
		if !ok {
			v = j.VoiceType
		}
		parts = append(parts, "Tipo de voz: "+v)
	}

	return strings.Join(parts, ". ")
}
