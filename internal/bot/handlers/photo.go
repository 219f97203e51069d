package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	photoDownloadTimeout = 30 * time.Second
	maxPhotoSize         = 10 * 1024 * 1024
)

// largestPhoto picks the size with the most pixels.
func largestPhoto(sizes []models.PhotoSize) models.PhotoSize {
	var best models.PhotoSize
	for _, p := range sizes {
		if p.Width*p.Height >= best.Width*best.Height {
			best = p
		}
	}
	return best
}

// downloadPhoto fetches a file from Telegram and detects its MIME type.
func downloadPhoto(ctx context.Context, s Sender, fileID string) (data []byte, mimeType string, err error) {
	if fileID == "" {
		return nil, "", fmt.Errorf("empty file id")
	}

	downloadCtx, cancel := context.WithTimeout(ctx, photoDownloadTimeout)
	defer cancel()

	file, err := s.GetFile(downloadCtx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if file == nil || file.FilePath == "" {
		return nil, "", fmt.Errorf("empty file path returned for file %s", fileID)
	}
	if file.FileSize > maxPhotoSize {
		return nil, "", fmt.Errorf("file %s is too large: %d bytes", fileID, file.FileSize)
	}

	// The link embeds the bot token; keep it out of errors.
	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, s.FileDownloadLink(file), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file %s: %w", fileID, redactURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d downloading file %s", resp.StatusCode, fileID)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	switch {
	case len(data) == 0:
		return nil, "", fmt.Errorf("file %s is empty", fileID)
	case len(data) > maxPhotoSize:
		return nil, "", fmt.Errorf("file %s exceeds %d bytes", fileID, maxPhotoSize)
	}

	return data, http.DetectContentType(data), nil
}

// redactURL drops the request URL from transport errors.
func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
