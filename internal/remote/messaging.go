package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/matheus3301/lensdm/internal/preview"
	intsync "github.com/matheus3301/lensdm/internal/sync"
	"github.com/tidwall/gjson"
)

// Messaging talks to the messaging network. It serves both the ingestion
// pipeline and the authentication gate.
type Messaging struct {
	c *client
}

// NewMessaging creates a messaging client for baseURL.
func NewMessaging(baseURL string, timeout time.Duration) *Messaging {
	return &Messaging{c: newClient(baseURL, timeout)}
}

// Authenticate runs the handshake and returns the issued credential.
func (m *Messaging) Authenticate(ctx context.Context, accountID string) (string, error) {
	body, err := json.Marshal(map[string]string{"account": accountID})
	if err != nil {
		return "", err
	}
	res, err := m.c.do(ctx, http.MethodPost, "/v1/auth", nil, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	cred := res.Get("credential").String()
	if cred == "" {
		return "", errors.New("auth response carries no credential")
	}
	return cred, nil
}

// UseCredential authorizes later requests with cred.
func (m *Messaging) UseCredential(cred string) {
	m.c.setToken(cred)
}

// NextBatch fetches the page of thread summaries after cursor.
func (m *Messaging) NextBatch(ctx context.Context, accountID, cursor string) (intsync.Batch, error) {
	q := url.Values{"account": {accountID}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	res, err := m.c.get(ctx, "/v1/threads", q)
	if err != nil {
		return intsync.Batch{}, err
	}
	return parseBatch(res)
}

func parseBatch(res gjson.Result) (intsync.Batch, error) {
	threads := res.Get("threads")
	if threads.Exists() && !threads.IsArray() {
		return intsync.Batch{}, fmt.Errorf("threads: want array, got %s", threads.Type)
	}
	b := intsync.Batch{
		NextCursor:   res.Get("next_cursor").String(),
		Done:         res.Get("done").Bool(),
		TotalBatches: int(res.Get("total_batches").Int()),
	}
	for _, t := range threads.Array() {
		tuple := preview.Tuple{
			Key:     t.Get("conversation_key").String(),
			Snippet: t.Get("snippet").String(),
		}
		if ms := t.Get("sent_at_ms").Int(); ms > 0 {
			tuple.SentAt = time.UnixMilli(ms)
		}
		b.Tuples = append(b.Tuples, tuple)
	}
	if !b.Done && b.NextCursor == "" {
		return intsync.Batch{}, errors.New("batch is not done but carries no cursor")
	}
	return b, nil
}
