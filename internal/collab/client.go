package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lolcoach/coach-relay-go/internal/coach"
	"github.com/lolcoach/coach-relay-go/internal/config"
	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/model"
)

const maxResponseBytes = 1 << 20

type textResponse struct {
	Text string `json:"text"`
}

type tipsResponse struct {
	Tips []string `json:"tips"`
}

// Analyzer calls an analysis service over HTTP. It serves questions,
// live tips and post-game reports from the same base URL.
type Analyzer struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewAnalyzer(baseURL, secret string) *Analyzer {
	return &Analyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client: &http.Client{
			Timeout: config.CollaboratorTimeout,
		},
	}
}

func (a *Analyzer) Answer(ctx context.Context, req coach.AskRequest) (string, error) {
	var resp textResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/answer", a.secret, req, &resp); err != nil {
		return "", apperrors.External("analyzer", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", apperrors.External("analyzer", fmt.Errorf("empty answer"))
	}
	return resp.Text, nil
}

func (a *Analyzer) Tips(ctx context.Context, req coach.TipRequest) ([]string, error) {
	var resp tipsResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/tips", a.secret, req, &resp); err != nil {
		return nil, apperrors.External("tip source", err)
	}
	return resp.Tips, nil
}

func (a *Analyzer) Report(ctx context.Context, req coach.PostgameRequest) (string, error) {
	var resp textResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/postgame", a.secret, req, &resp); err != nil {
		return "", apperrors.External("match reporter", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", apperrors.External("match reporter", fmt.Errorf("empty report"))
	}
	return resp.Text, nil
}

// Renderer hands audio jobs to the bot process that owns the voice and
// text channels. It returns once the job has been played or posted.
type Renderer struct {
	url    string
	secret string
	client *http.Client
}

func NewRenderer(url, secret string) *Renderer {
	return &Renderer{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: config.CollaboratorTimeout,
		},
	}
}

func (r *Renderer) Render(ctx context.Context, job model.AudioJob) error {
	if err := postJSON(ctx, r.client, r.url, r.secret, job, nil); err != nil {
		return apperrors.RenderFailed(err)
	}
	return nil
}

// LogRenderer only logs jobs. Used when no renderer is configured.
type LogRenderer struct{}

func (LogRenderer) Render(ctx context.Context, job model.AudioJob) error {
	log.Info().
		Str("roomId", job.RoomID).
		Str("jobId", job.ID).
		Str("kind", string(job.Kind)).
		Str("text", job.Text).
		Msg("audio job (no renderer configured)")
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url, secret string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("url", url).
			Dur("elapsed", elapsed).
			Msg("collaborator request error")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("url", url).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("collaborator request failed")
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("collaborator request successful")

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
