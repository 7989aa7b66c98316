package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// AudioUploader 把生成好的音频放到对外可访问的地方，返回公开 URL。
type AudioUploader interface {
	UploadAudio(ctx context.Context, name string, audio []byte) (string, error)
}

// HTTPUploader 通过 multipart 表单上传到托管服务（Cloudinary 风格的
// unsigned upload 接口），响应里取 secure_url / url。
type HTTPUploader struct {
	uploadURL string
	preset    string
	hc        *http.Client
}

var _ AudioUploader = (*HTTPUploader)(nil)

func NewHTTPUploader(uploadURL, preset string) *HTTPUploader {
	return &HTTPUploader{
		uploadURL: uploadURL,
		preset:    preset,
		hc:        &http.Client{Timeout: 2 * time.Minute},
	}
}

type uploadResp struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

func (u *HTTPUploader) UploadAudio(ctx context.Context, name string, audio []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if u.preset != "" {
		if err := w.WriteField("upload_preset", u.preset); err != nil {
			return "", err
		}
	}
	if err := w.WriteField("public_id", sanitizeName(name)); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", sanitizeName(name)+".wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload service returned %d", resp.StatusCode)
	}

	var out uploadResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.SecureURL != "" {
		return out.SecureURL, nil
	}
	if out.URL != "" {
		return out.URL, nil
	}
	return "", errors.New("upload response missing url")
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
