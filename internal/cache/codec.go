package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// entryMeta 是持久化后端保存的响应元数据，正文单独存放或内联为 base64。
type entryMeta struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
}

// storedEntry 是 Redis 等 KV 后端使用的完整编码。
type storedEntry struct {
	entryMeta
	Body []byte `json:"body"`
}

func encodeMeta(resp *Response, now time.Time) ([]byte, error) {
	return json.Marshal(entryMeta{Status: resp.Status, Header: resp.Header, StoredAt: now})
}

func decodeMeta(data []byte, body []byte) (*Response, error) {
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return meta.response(body), nil
}

func encodeEntry(resp *Response, now time.Time) ([]byte, error) {
	return json.Marshal(storedEntry{
		entryMeta: entryMeta{Status: resp.Status, Header: resp.Header, StoredAt: now},
		Body:      resp.Body,
	})
}

func decodeEntry(data []byte) (*Response, error) {
	var entry storedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry.response(entry.Body), nil
}

func (m entryMeta) response(body []byte) *Response {
	header := m.Header
	if header == nil {
		header = http.Header{}
	}
	if body == nil {
		body = []byte{}
	}
	return &Response{
		Status:   m.Status,
		Header:   header,
		Body:     body,
		Kind:     KindBasic,
		StoredAt: m.StoredAt,
	}
}
