package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

type mediaResponse struct {
	MediaIDString string `json:"media_id_string"`
	MediaID       int64  `json:"media_id"`
}

// UploadThumbnail fetches an image and uploads it to the v1.1 media
// endpoint, returning the media id to attach. Returns ("", nil) when the
// client cannot upload media (OAuth2 bearer auth): the caller posts without
// an attachment instead of failing the slot.
func (c *Client) UploadThumbnail(ctx context.Context, imageURL string) (string, error) {
	if strings.ToLower(c.cfg.Method) != AuthOAuth1 {
		c.log.Warn().Msg("media upload skipped: requires oauth1 user context")
		return "", nil
	}
	if c.dryRun.Load() {
		c.log.Info().Str("image", imageURL).Msg("dry-run: would upload media")
		return "0", nil
	}

	img, err := c.fetchImage(ctx, imageURL)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", "thumb.jpg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBase+"/media/upload.json", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.signed.Do(req)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		c.log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("media upload error")
		return "", fmt.Errorf("media upload: status %d", resp.StatusCode)
	}

	var mr mediaResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return "", fmt.Errorf("media upload: decode response: %w", err)
	}
	if mr.MediaIDString != "" {
		return mr.MediaIDString, nil
	}
	if mr.MediaID != 0 {
		return fmt.Sprint(mr.MediaID), nil
	}
	return "", fmt.Errorf("media upload: response carries no media id")
}

func (c *Client) fetchImage(ctx context.Context, url string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch thumbnail: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch thumbnail: %w", err)
	}
	return b, nil
}
