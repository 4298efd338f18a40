package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whatsapp-voice-backend/internal/whatsapp"
)

const uploadTimeout = 30 * time.Second

// Uploader pushes generated images to a public host so the messaging backend
// can fetch them. Hosts are tried in order: anonymous catbox first, then
// imgbb when an API key is configured.
type Uploader struct {
	imgbbAPIKey string
	catboxURL   string
	imgbbURL    string
	httpClient  *http.Client
}

func NewUploader(imgbbAPIKey string) *Uploader {
	return &Uploader{
		imgbbAPIKey: imgbbAPIKey,
		catboxURL:   "https://catbox.moe/user/api.php",
		imgbbURL:    "https://api.imgbb.com/1/upload",
		httpClient:  &http.Client{Timeout: uploadTimeout},
	}
}

// Upload returns a public URL for the image at path, or an empty string when
// every host fails.
func (u *Uploader) Upload(ctx context.Context, path string) string {
	if url, err := u.uploadCatbox(ctx, path); err == nil {
		return url
	} else {
		log.Printf("catbox upload failed: %v", err)
	}
	if u.imgbbAPIKey != "" {
		if url, err := u.uploadImgbb(ctx, path); err == nil {
			return url
		} else {
			log.Printf("imgbb upload failed: %v", err)
		}
	}
	return ""
}

func (u *Uploader) uploadCatbox(ctx context.Context, path string) (string, error) {
	body, contentType, err := fileForm(path, "fileToUpload", map[string]string{"reqtype": "fileupload"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.catboxURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(string(raw))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, excerpt(url))
	}
	return url, nil
}

func (u *Uploader) uploadImgbb(ctx context.Context, path string) (string, error) {
	body, contentType, err := fileForm(path, "image", nil)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.imgbbURL+"?key="+u.imgbbAPIKey, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, excerpt(string(raw)))
	}
	var out struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if !whatsapp.IsPublicURL(out.Data.URL) {
		return "", fmt.Errorf("imgbb returned unusable URL %q", out.Data.URL)
	}
	return out.Data.URL, nil
}

// fileForm builds a multipart body with one file field plus extra values.
func fileForm(path, fieldName string, extra map[string]string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(fieldName, filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func excerpt(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
