package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// SpeechClient calls an OpenAI-style /v1/audio/speech endpoint and returns
// the raw audio stream.
type SpeechClient struct {
	URL     string
	Voice   string
	Timeout time.Duration

	client *http.Client
}

func NewSpeechClient(url, voice string, timeout time.Duration) *SpeechClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SpeechClient{
		URL:     url,
		Voice:   voice,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"input": text,
		"voice": c.Voice,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech synthesis returned %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// TranscribeClient posts captured audio to a whisper-style
// /v1/audio/transcriptions endpoint.
type TranscribeClient struct {
	URL     string
	Timeout time.Duration

	client *http.Client
}

func NewTranscribeClient(url string, timeout time.Duration) *TranscribeClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &TranscribeClient{
		URL:     url,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *TranscribeClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "capture.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription returned %d: %s", resp.StatusCode, msg)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("malformed transcription response: %w", err)
	}
	return result.Text, nil
}
