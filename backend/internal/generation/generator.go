package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator 是“厨房”：拿到完整提示词（可选带一份声音样本的 URL），
// 产出音频字节。具体实现是远端生成空间的 HTTP 客户端；测试里用假实现替换。
type Generator interface {
	Generate(ctx context.Context, prompt, voiceSampleURL string) ([]byte, error)
}

// SpaceClient 调远端生成空间（gradio 风格的 /run/predict 接口）。
// 生成一次要几分钟，客户端超时必须放得很宽，上游的 ctx 才是真正的闸门。
type SpaceClient struct {
	baseURL string
	hc      *http.Client
	sem     *SemaphoreControl
}

var _ Generator = (*SpaceClient)(nil)

func NewSpaceClient(baseURL string, sem *SemaphoreControl) *SpaceClient {
	return &SpaceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 5 * time.Minute},
		sem:     sem,
	}
}

type predictReq struct {
	Data []string `json:"data"`
}

type predictResp struct {
	Data []string `json:"data"`
}

func (c *SpaceClient) Generate(ctx context.Context, prompt, voiceSampleURL string) ([]byte, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.sem.Release()
	}

	// 空间接口按位置取参：data[0] 是提示词，data[1]（可选）是声音样本 URL
	data := []string{prompt}
	if voiceSampleURL != "" {
		data = append(data, voiceSampleURL)
	}
	body, err := json.Marshal(predictReq{Data: data})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation space unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation space returned %d", resp.StatusCode)
	}

	var out predictResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0] == "" {
		return nil, errors.New("generation space returned empty result")
	}

	// 结果是 base64 的音频（可能带 data:audio/...;base64, 前缀）
	payload := out.Data[0]
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode generated audio: %w", err)
	}
	return audio, nil
}

// Ping 给 keep-alive 用：空间空闲太久会休眠，定期戳一下首页保活。
func (c *SpaceClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("space ping returned %d", resp.StatusCode)
	}
	return nil
}
