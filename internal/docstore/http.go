package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cwrk-planet/docsync/internal/domain"
)

// HTTPStore talks to the relay's document API.
type HTTPStore struct {
	base   string
	token  string
	client *http.Client
}

func NewHTTPStore(baseURL, token string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success  bool            `json:"success"`
	Response json.RawMessage `json:"response"`
	Err      string          `json:"err"`
	Msg      string          `json:"msg"`
}

type docItem struct {
	ID      string `json:"_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *HTTPStore) Fetch(ctx context.Context, id string) (Document, error) {
	u := s.base + "/doc/getdoc?id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Document{}, err
	}

	var item docItem
	if err := s.do(req, &item); err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	return Document{ID: item.ID, Title: item.Title, Content: item.Content}, nil
}

func (s *HTTPStore) Save(ctx context.Context, id, content string) error {
	body, err := json.Marshal(map[string]string{"_id": id, "content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/doc/updatedoc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", s.token)

	if err := s.do(req, nil); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

func (s *HTTPStore) do(req *http.Request, dst any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrDocumentNotFound
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: status %d", ErrRemote, resp.StatusCode)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s %s", ErrRemote, env.Err, env.Msg)
	}
	if dst != nil && len(env.Response) > 0 && string(env.Response) != "null" {
		return json.Unmarshal(env.Response, dst)
	}
	if dst != nil {
		return domain.ErrDocumentNotFound
	}
	return nil
}
