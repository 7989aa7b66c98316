package generation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
	"github.com/lucasmd12/Criaii/backend/internal/relay"
	"github.com/lucasmd12/Criaii/backend/internal/store"
)

type fakeGenerator struct {
	audio []byte
	err   error

	gotPrompt    string
	gotSampleURL string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt, voiceSampleURL string) ([]byte, error) {
	g.gotPrompt = prompt
	g.gotSampleURL = voiceSampleURL
	return g.audio, g.err
}

type fakeUploader struct {
	url string
	err error
}

func (u *fakeUploader) UploadAudio(ctx context.Context, name string, audio []byte) (string, error) {
	return u.url, u.err
}

type statusUpdate struct {
	musicID uint64
	status  string
	url     string
}

type fakeStores struct {
	updates       []statusUpdate
	notifications []*store.Notification
	history       []*store.ProcessHistory
}

func (s *fakeStores) UpdateStatus(ctx context.Context, musicID uint64, status, url string) error {
	s.updates = append(s.updates, statusUpdate{musicID, status, url})
	return nil
}

func (s *fakeStores) InsertNotification(ctx context.Context, n *store.Notification) error {
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *fakeStores) InsertHistory(ctx context.Context, h *store.ProcessHistory) error {
	s.history = append(s.history, h)
	return nil
}

// notificationLogAdapter 把 fakeStores 适配成 NotificationLog。
type notificationLogAdapter struct{ s *fakeStores }

func (a notificationLogAdapter) Insert(ctx context.Context, n *store.Notification) error {
	return a.s.InsertNotification(ctx, n)
}
func (a notificationLogAdapter) InsertHistory(ctx context.Context, h *store.ProcessHistory) error {
	return a.s.InsertHistory(ctx, h)
}

// nopDeliverer：pipeline 测试不关心投递，只关心发布。
type nopDeliverer struct{}

func (nopDeliverer) Deliver(userID, eventType string, payload json.RawMessage) bool { return true }

func collectEvents(t *testing.T, ch *cache.MemoryChannel) func() []relay.Envelope {
	t.Helper()
	sub, err := ch.Subscribe(context.Background(), relay.SyncEventsChannel)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return func() []relay.Envelope {
		_ = sub.Close()
		var out []relay.Envelope
		for msg := range sub.Messages() {
			var env relay.Envelope
			if err := json.Unmarshal([]byte(msg), &env); err != nil {
				t.Fatalf("bad envelope on channel: %v", err)
			}
			out = append(out, env)
		}
		return out
	}
}

func TestPipeline_SuccessfulRun(t *testing.T) {
	ctx := context.Background()
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	rc := cache.NewReadThroughCache(ch)
	r := relay.NewRelay(ch, presence, nopDeliverer{})

	stores := &fakeStores{}
	p := NewPipeline(r, stores, notificationLogAdapter{stores}, rc,
		&fakeGenerator{audio: []byte("RIFF....")},
		&fakeUploader{url: "https://cdn.example/m.wav"})

	// 列表缓存里有旧数据，跑完必须被清掉
	if err := rc.Set(ctx, "list", "7", []byte(`["old"]`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	drain := collectEvents(t, ch)

	job := Job{ProcessID: "music_7_1", UserID: 7, MusicID: 41, MusicName: "Festa", Description: "d", VoiceType: "female"}
	if err := p.Run(ctx, job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(stores.updates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(stores.updates))
	}
	u := stores.updates[0]
	if u.musicID != 41 || u.status != "ready" || u.url != "https://cdn.example/m.wav" {
		t.Fatalf("status update = %+v, want 41/ready/url", u)
	}

	if _, ok := rc.Get(ctx, "list", "7"); ok {
		t.Fatalf("list cache still populated after successful run")
	}

	if len(stores.notifications) != 1 || stores.notifications[0].Type != "success" {
		t.Fatalf("notifications = %+v, want one success", stores.notifications)
	}

	// 检查点刻度：5..98 全部走到，外加 completed 留痕
	wantSteps := []string{"received", "connecting", "preparing", "cooking", "waiting_result", "finalizing", "uploading", "saving", "completed"}
	if len(stores.history) != len(wantSteps) {
		t.Fatalf("history = %d entries, want %d", len(stores.history), len(wantSteps))
	}
	for i, want := range wantSteps {
		if stores.history[i].Step != want {
			t.Fatalf("history[%d].Step = %q, want %q", i, stores.history[i].Step, want)
		}
	}

	events := drain()
	var progresses []relay.ProgressPayload
	completed := false
	for _, env := range events {
		if env.UserID != "7" {
			t.Fatalf("event addressed to %q, want 7", env.UserID)
		}
		switch env.EventType {
		case relay.EventMusicProgress:
			var pp relay.ProgressPayload
			if err := json.Unmarshal(env.Payload, &pp); err != nil {
				t.Fatalf("progress payload: %v", err)
			}
			progresses = append(progresses, pp)
		case relay.EventMusicCompleted:
			completed = true
		}
	}
	if !completed {
		t.Fatalf("no music_completed event published")
	}
	wantProgress := []int{5, 10, 30, 50, 70, 85, 95, 98}
	if len(progresses) != len(wantProgress) {
		t.Fatalf("progress events = %d, want %d", len(progresses), len(wantProgress))
	}
	for i, want := range wantProgress {
		if progresses[i].Progress != want {
			t.Fatalf("progress[%d] = %d, want %d", i, progresses[i].Progress, want)
		}
	}
}

// 带声音样本的人声订单多一个 processing_voice 检查点（刻度 40），
// 样本 URL 原样传给生成端。
func TestPipeline_VoiceSampleCheckpoint(t *testing.T) {
	ctx := context.Background()
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	rc := cache.NewReadThroughCache(ch)
	r := relay.NewRelay(ch, presence, nopDeliverer{})

	stores := &fakeStores{}
	gen := &fakeGenerator{audio: []byte("RIFF....")}
	p := NewPipeline(r, stores, notificationLogAdapter{stores}, rc,
		gen, &fakeUploader{url: "https://cdn.example/m.wav"})

	drain := collectEvents(t, ch)

	job := Job{
		ProcessID:      "music_7_3",
		UserID:         7,
		MusicID:        43,
		MusicName:      "Dueto",
		Description:    "d",
		VoiceType:      "both",
		VoiceSampleURL: "https://cdn.example/sample.wav",
	}
	if err := p.Run(ctx, job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if gen.gotSampleURL != job.VoiceSampleURL {
		t.Fatalf("generator got sample URL %q, want %q", gen.gotSampleURL, job.VoiceSampleURL)
	}

	var progresses []int
	var steps []string
	for _, env := range drain() {
		if env.EventType != relay.EventMusicProgress {
			continue
		}
		var pp relay.ProgressPayload
		if err := json.Unmarshal(env.Payload, &pp); err != nil {
			t.Fatalf("progress payload: %v", err)
		}
		progresses = append(progresses, pp.Progress)
		steps = append(steps, pp.Step)
	}
	wantProgress := []int{5, 10, 30, 40, 50, 70, 85, 95, 98}
	if len(progresses) != len(wantProgress) {
		t.Fatalf("progress events = %v, want %v", progresses, wantProgress)
	}
	for i, want := range wantProgress {
		if progresses[i] != want {
			t.Fatalf("progress[%d] = %d, want %d", i, progresses[i], want)
		}
	}
	if steps[3] != "processing_voice" {
		t.Fatalf("steps[3] = %q, want processing_voice", steps[3])
	}
}

func TestPipeline_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	ch := cache.NewMemoryChannel()
	presence := cache.NewPresenceTracker(ch, cache.AssumeOffline)
	rc := cache.NewReadThroughCache(ch)
	r := relay.NewRelay(ch, presence, nopDeliverer{})

	stores := &fakeStores{}
	p := NewPipeline(r, stores, notificationLogAdapter{stores}, rc,
		&fakeGenerator{err: errors.New("space asleep")},
		&fakeUploader{url: "unused"})

	drain := collectEvents(t, ch)

	job := Job{ProcessID: "music_7_2", UserID: 7, MusicID: 42, MusicName: "Falha", Description: "d", VoiceType: "male"}
	if err := p.Run(ctx, job); err == nil {
		t.Fatalf("Run() expected error")
	}

	if len(stores.updates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(stores.updates))
	}
	if u := stores.updates[0]; u.musicID != 42 || u.status != "failed" || u.url != "" {
		t.Fatalf("status update = %+v, want 42/failed/empty url", u)
	}
	if len(stores.notifications) != 1 || stores.notifications[0].Type != "error" {
		t.Fatalf("notifications = %+v, want one error", stores.notifications)
	}
	last := stores.history[len(stores.history)-1]
	if last.Step != "error" || last.Status != "failed" {
		t.Fatalf("last history = %+v, want error/failed", last)
	}

	foundError := false
	for _, env := range drain() {
		if env.EventType == relay.EventMusicError {
			foundError = true
		}
		if env.EventType == relay.EventMusicCompleted {
			t.Fatalf("music_completed published on failure")
		}
	}
	if !foundError {
		t.Fatalf("no music_error event published")
	}
}
