package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
	"github.com/lucasmd12/Criaii/backend/internal/generation"
	"github.com/lucasmd12/Criaii/backend/internal/relay"
	"github.com/lucasmd12/Criaii/backend/internal/store"
)

// 点单走 multipart：字段是普通表单项，voiceSample 是可选的音频文件。
type generateReq struct {
	MusicName   string `form:"musicName" binding:"required"`
	Description string `form:"description" binding:"required"`
	VoiceType   string `form:"voiceType" binding:"required"`
	Lyrics      string `form:"lyrics"`
	Genre       string `form:"genre"`
	Rhythm      string `form:"rhythm"`
	Instruments string `form:"instruments"`
	StudioType  string `form:"studioType"`
}

// 声音样本上限 50MB，只收常见音频容器。
const maxVoiceSampleSize = 50 << 20

var validSampleTypes = map[string]bool{
	"audio/mp3":  true,
	"audio/mpeg": true,
	"audio/wav":  true,
	"audio/wave": true,
	"audio/m4a":  true,
	"audio/mp4":  true,
	"audio/ogg":  true,
	"audio/flac": true,
}

var (
	validVoiceTypes  = map[string]bool{"instrumental": true, "male": true, "female": true, "both": true}
	validRhythms     = map[string]bool{"": true, "slow": true, "fast": true, "mixed": true}
	validStudioTypes = map[string]bool{"": true, "studio": true, "live": true}
)

// musicView 是 list:{id} 缓存条目里单首作品的投影。
type musicView struct {
	ID          uint64 `json:"id"`
	Name        string `json:"musicName"`
	Description string `json:"description"`
	VoiceType   string `json:"voiceType"`
	Genre       string `json:"genre,omitempty"`
	URL         string `json:"musicUrl"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
}

// MusicStore 是处理器依赖的作品存储面（*store.MusicStore 满足它）。
type MusicStore interface {
	Insert(ctx context.Context, m *store.Music) error
	ListByUser(ctx context.Context, userID uint64) ([]store.Music, error)
	Delete(ctx context.Context, userID, musicID uint64) error
	UpdateStatus(ctx context.Context, musicID uint64, status, url string) error
}

// JobQueue 把订单送进生成管线（*generation.Dispatcher 满足它）。
type JobQueue interface {
	Enqueue(ctx context.Context, job generation.Job) error
}

type MusicHandler struct {
	musics   MusicStore
	cache    *cache.ReadThroughCache
	relay    *relay.Relay
	queue    JobQueue
	uploader generation.AudioUploader

	// 缓存未命中时抑制对同一用户列表的并发回源
	sf singleflight.Group
}

func NewMusicHandler(musics MusicStore, rc *cache.ReadThroughCache, r *relay.Relay, q JobQueue, u generation.AudioUploader) *MusicHandler {
	return &MusicHandler{musics: musics, cache: rc, relay: r, queue: q, uploader: u}
}

// Generate 接单：校验、入队、马上 202。真正的生成在消费进程里跑，
// 进度走 WebSocket。
func (h *MusicHandler) Generate(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}

	var req generateReq
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "表单格式错误", "details": err.Error()})
		return
	}
	if !validVoiceTypes[req.VoiceType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "voiceType 必须是 instrumental/male/female/both"})
		return
	}
	if !validRhythms[req.Rhythm] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rhythm 必须是 slow/fast/mixed"})
		return
	}
	if !validStudioTypes[req.StudioType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "studioType 必须是 studio/live"})
		return
	}

	processID := generation.NewProcessID(userID)

	// 可选的声音样本：先验大小和类型，再传到存储，订单里只带 URL
	sampleURL, err := h.uploadVoiceSample(c, processID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 接单即落一条 processing 行，列表立刻能看到排队中的作品；
	// 消费侧完成后把它推到 ready / failed。
	music := &store.Music{
		UserID:      userID,
		Name:        req.MusicName,
		Description: req.Description,
		VoiceType:   req.VoiceType,
		Genre:       req.Genre,
		Lyrics:      req.Lyrics,
		Status:      "processing",
	}
	if err := h.musics.Insert(c.Request.Context(), music); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建作品记录失败"})
		return
	}

	job := generation.Job{
		ProcessID:      processID,
		UserID:         userID,
		MusicID:        music.ID,
		MusicName:      req.MusicName,
		Description:    req.Description,
		VoiceType:      req.VoiceType,
		Lyrics:         req.Lyrics,
		Genre:          req.Genre,
		Rhythm:         req.Rhythm,
		Instruments:    req.Instruments,
		StudioType:     req.StudioType,
		VoiceSampleURL: sampleURL,
		RequestedAt:    time.Now(),
	}

	if err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		if uerr := h.musics.UpdateStatus(c.Request.Context(), music.ID, "failed", ""); uerr != nil {
			log.Printf("music: mark music failed after enqueue error (music=%d): %v", music.ID, uerr)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "系统繁忙，请稍后再试"})
		return
	}

	// 列表已经多了一条 processing 行，旧缓存必须作废
	if err := h.cache.Invalidate(c.Request.Context(), "list", strconv.FormatUint(userID, 10)); err != nil {
		log.Printf("music: invalidate list cache failed (user=%d): %v", userID, err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "processing",
		"processId": job.ProcessID,
		"musicName": job.MusicName,
		"message":   "Seu pedido foi enviado para nossa cozinha de IA! Acompanhe o progresso pelo WebSocket.",
	})
}

// uploadVoiceSample 取表单里可选的 voiceSample 文件，校验后传到音频存储。
// 没带样本时返回 ("", nil)。样本不进 Kafka，消费侧拿 URL 取用。
func (h *MusicHandler) uploadVoiceSample(c *gin.Context, processID string) (string, error) {
	header, err := c.FormFile("voiceSample")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", fmt.Errorf("voiceSample 读取失败: %v", err)
	}

	if header.Size > maxVoiceSampleSize {
		return "", errors.New("voiceSample 超过 50MB 上限")
	}
	if ct := header.Header.Get("Content-Type"); !validSampleTypes[ct] {
		return "", fmt.Errorf("voiceSample 类型 %s 不支持，请上传音频文件", ct)
	}

	f, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("voiceSample 读取失败: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxVoiceSampleSize))
	if err != nil {
		return "", fmt.Errorf("voiceSample 读取失败: %v", err)
	}

	url, err := h.uploader.UploadAudio(c.Request.Context(), "sample_"+processID, data)
	if err != nil {
		return "", errors.New("voiceSample 上传失败，请稍后再试")
	}
	return url, nil
}

// List 走读穿缓存；未命中时 singleflight 保证同一用户只有一次回源。
func (h *MusicHandler) List(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}
	id := strconv.FormatUint(userID, 10)

	if data, ok := h.cache.Get(c.Request.Context(), "list", id); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
		return
	}

	v, err, _ := h.sf.Do(id, func() (interface{}, error) {
		musics, err := h.musics.ListByUser(c.Request.Context(), userID)
		if err != nil {
			return nil, err
		}
		views := make([]musicView, 0, len(musics))
		for _, m := range musics {
			views = append(views, musicView{
				ID:          m.ID,
				Name:        m.Name,
				Description: m.Description,
				VoiceType:   m.VoiceType,
				Genre:       m.Genre,
				URL:         m.URL,
				Status:      m.Status,
				CreatedAt:   m.CreatedAt.Format(time.RFC3339),
			})
		}
		data, err := json.Marshal(gin.H{"musics": views, "total": len(views)})
		if err != nil {
			return nil, err
		}
		_ = h.cache.Set(c.Request.Context(), "list", id, data)
		return data, nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取作品列表失败"})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", v.([]byte))
}

// Delete 删除自己的作品。缓存失效必须发生在返回成功之前。
func (h *MusicHandler) Delete(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return
	}

	musicID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的作品 id"})
		return
	}

	if err := h.musics.Delete(c.Request.Context(), userID, musicID); err != nil {
		if errors.Is(err, store.ErrMusicNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "作品不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除作品失败"})
		return
	}

	id := strconv.FormatUint(userID, 10)
	if err := h.cache.Invalidate(c.Request.Context(), "list", id); err != nil {
		log.Printf("music: invalidate list cache failed (user=%s): %v", id, err)
	}

	// 提示这个用户的其他设备刷新列表
	h.relay.Publish(c.Request.Context(), relay.EventDataChanged, id, relay.DataChangedPayload{Resource: "musics"})

	c.JSON(http.StatusOK, gin.H{"deleted": musicID})
}
