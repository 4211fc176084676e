package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/aegis-orchestrator/internal/config"
	"github.com/af-corp/aegis-orchestrator/internal/types"
)

// RemoteWorker forwards a turn to a worker service over HTTP JSON.
type RemoteWorker struct {
	workerType string
	cfg        config.WorkerDefinition
	client     *http.Client
}

func NewRemoteWorker(workerType string, cfg config.WorkerDefinition, client *http.Client) *RemoteWorker {
	return &RemoteWorker{workerType: workerType, cfg: cfg, client: client}
}

type invokeRequestBody struct {
	WorkerType  string            `json:"worker_type"`
	Text        string            `json:"text"`
	Language    string            `json:"language"`
	UserContext map[string]string `json:"user_context,omitempty"`
	SessionData map[string]any    `json:"session_data,omitempty"`
	History     []types.Message   `json:"history,omitempty"`
	Tools       []string          `json:"tools,omitempty"`
}

func (w *RemoteWorker) Invoke(ctx context.Context, text string, deps Deps) (Result, error) {
	body := invokeRequestBody{
		WorkerType:  w.workerType,
		Text:        text,
		Language:    deps.Language,
		UserContext: deps.UserContext,
		SessionData: deps.SessionData,
		History:     deps.History,
		Tools:       deps.Tools.Names(),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal worker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint+"/invoke", bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("create http request: %w", err)
	}
	w.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call worker %s: %w", w.workerType, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("worker %s returned status %d: %s", w.workerType, resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Result{}, fmt.Errorf("unmarshal worker response: %w", err)
	}
	if result.Text == "" {
		return Result{}, fmt.Errorf("worker %s returned an empty reply", w.workerType)
	}
	return result, nil
}

// Ping checks the worker service health endpoint.
func (w *RemoteWorker) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	w.setHeaders(req)
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping worker %s: %w", w.workerType, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker %s health returned status %d", w.workerType, resp.StatusCode)
	}
	return nil
}

func (w *RemoteWorker) setHeaders(req *http.Request) {
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}
	for k, v := range w.cfg.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}
