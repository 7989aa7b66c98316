package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
	"github.com/lucasmd12/Criaii/backend/internal/relay"
	"github.com/lucasmd12/Criaii/backend/internal/store"
)

// MusicWriter 是推进作品状态所需的最小面（*store.MusicStore 满足它）。
// processing 行在接单时已插好，消费侧只负责把它推到 ready 或 failed。
type MusicWriter interface {
	UpdateStatus(ctx context.Context, musicID uint64, status, url string) error
}

// NotificationLog 是通知/历史留痕所需的最小面（*store.NotificationStore 满足它）。
type NotificationLog interface {
	Insert(ctx context.Context, n *store.Notification) error
	InsertHistory(ctx context.Context, h *store.ProcessHistory) error
}

// Pipeline 执行一份生成订单的全过程：检查点逐级推进，每个检查点
// 同时发 music_progress 事件和落一条 ProcessHistory。实时事件丢了
// 不补（兜底是历史记录和通知），但落库失败的错误会终止本次订单。
//
// 检查点的 progress 数值是和前端约定的固定刻度，不要改。
type Pipeline struct {
	relay         *relay.Relay
	musics        MusicWriter
	notifications NotificationLog
	cache         *cache.ReadThroughCache
	generator     Generator
	uploader      AudioUploader
}

func NewPipeline(r *relay.Relay, musics MusicWriter, notifications NotificationLog,
	rc *cache.ReadThroughCache, g Generator, u AudioUploader) *Pipeline {
	return &Pipeline{relay: r, musics: musics, notifications: notifications, cache: rc, generator: g, uploader: u}
}

func (p *Pipeline) Run(ctx context.Context, job Job) error {
	userStr := strconv.FormatUint(job.UserID, 10)

	p.progress(ctx, job, 5, "received", "Pedido recebido na cozinha", 180)
	p.progress(ctx, job, 10, "connecting", "Conectando com a cozinha IA", 170)
	p.progress(ctx, job, 30, "preparing", "Chef IA analisando seu pedido", 130)

	// 带声音样本的人声订单多一道工序
	if job.VoiceSampleURL != "" && job.VoiceType != "instrumental" {
		p.progress(ctx, job, 40, "processing_voice", "Processando sua amostra de voz", 120)
	}

	p.progress(ctx, job, 50, "cooking", "Música no forno da IA", 90)

	prompt := job.BuildPrompt()

	p.progress(ctx, job, 70, "waiting_result", "Aguardando resultado da cozinha", 60)
	audio, err := p.generator.Generate(ctx, prompt, job.VoiceSampleURL)
	if err != nil {
		p.fail(ctx, job, fmt.Sprintf("Falha na geração da música: %v", err))
		return err
	}

	p.progress(ctx, job, 85, "finalizing", "Finalizando detalhes da música", 30)

	p.progress(ctx, job, 95, "uploading", "Garçom levando à sua mesa", 15)
	musicURL, err := p.uploader.UploadAudio(ctx, fmt.Sprintf("%s_%d", job.MusicName, job.UserID), audio)
	if err != nil {
		p.fail(ctx, job, fmt.Sprintf("Falha no upload da música: %v", err))
		return err
	}

	p.progress(ctx, job, 98, "saving", "Registrando no cardápio", 5)
	if err := p.musics.UpdateStatus(ctx, job.MusicID, "ready", musicURL); err != nil {
		p.fail(ctx, job, "Falha ao registrar a música")
		return err
	}

	// 写成功之后、宣布成功之前，先把过期的列表缓存清掉
	if err := p.cache.Invalidate(ctx, "list", userStr); err != nil {
		log.Printf("pipeline: invalidate list cache failed (user=%s): %v", userStr, err)
	}

	p.history(ctx, job, "completed", "success", fmt.Sprintf("Música '%s' criada com sucesso", job.MusicName))
	p.notify(ctx, job, "Música Pronta!",
		fmt.Sprintf("Sua música '%s' foi criada com sucesso e está pronta para download.", job.MusicName),
		"success",
		map[string]string{"music_url": musicURL, "music_name": job.MusicName})

	p.relay.Publish(ctx, relay.EventMusicCompleted, userStr, relay.CompletionPayload{
		ProcessID: job.ProcessID,
		MusicName: job.MusicName,
		MusicURL:  musicURL,
	})
	return nil
}

func (p *Pipeline) progress(ctx context.Context, job Job, pct int, step, message string, estimated int) {
	p.relay.Publish(ctx, relay.EventMusicProgress, strconv.FormatUint(job.UserID, 10), relay.ProgressPayload{
		ProcessID:     job.ProcessID,
		Step:          step,
		Progress:      pct,
		Message:       message,
		EstimatedTime: estimated,
	})
	p.history(ctx, job, step, "in_progress", message)
}

func (p *Pipeline) fail(ctx context.Context, job Job, errMessage string) {
	userStr := strconv.FormatUint(job.UserID, 10)

	if job.MusicID != 0 {
		if err := p.musics.UpdateStatus(ctx, job.MusicID, "failed", ""); err != nil {
			log.Printf("pipeline: mark music failed (music=%d): %v", job.MusicID, err)
		}
		if err := p.cache.Invalidate(ctx, "list", userStr); err != nil {
			log.Printf("pipeline: invalidate list cache failed (user=%s): %v", userStr, err)
		}
	}

	p.history(ctx, job, "error", "failed", errMessage)
	p.notify(ctx, job, "Erro na Geração",
		fmt.Sprintf("Ocorreu um erro ao gerar sua música: %s", errMessage),
		"error",
		map[string]string{"error": errMessage})

	p.relay.Publish(ctx, relay.EventMusicError, userStr, relay.ErrorPayload{
		ProcessID: job.ProcessID,
		Error:     errMessage,
	})
}

func (p *Pipeline) history(ctx context.Context, job Job, step, status, message string) {
	err := p.notifications.InsertHistory(ctx, &store.ProcessHistory{
		UserID:    job.UserID,
		ProcessID: job.ProcessID,
		Step:      step,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		log.Printf("pipeline: save process history failed (process=%s step=%s): %v", job.ProcessID, step, err)
	}
}

// notify 落一条持久化通知并广播 new_notification。通知是事件的兜底：
// 用户不在线时错过的实时事件，下次拉通知列表还能看到。
func (p *Pipeline) notify(ctx context.Context, job Job, title, message, typ string, metadata map[string]string) {
	meta, _ := json.Marshal(metadata)
	n := &store.Notification{
		UserID:   job.UserID,
		Title:    title,
		Message:  message,
		Type:     typ,
		Metadata: string(meta),
	}
	if err := p.notifications.Insert(ctx, n); err != nil {
		log.Printf("pipeline: save notification failed (user=%d): %v", job.UserID, err)
		return
	}
	p.relay.Publish(ctx, relay.EventNewNotification, strconv.FormatUint(job.UserID, 10), relay.NotificationPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.Unix(),
	})
}
