// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"toad-architect-go/internal/config"
	"toad-architect-go/internal/model"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

const messageMapping = `{
	"mappings": {
		"properties": {
			"message_id": { "type": "keyword" },
			"session_id": { "type": "keyword" },
			"role": { "type": "keyword" },
			"content": { "type": "text" },
			"timestamp": { "type": "date" }
		}
	}
}`

// MessageIndex 负责消息的索引、检索与删除。
type MessageIndex struct {
	client    *elasticsearch.Client
	indexName string
	logger    *zap.Logger
}

// NewMessageIndex 初始化 Elasticsearch 客户端。
func NewMessageIndex(esCfg config.ElasticsearchConfig, logger *zap.Logger) (*MessageIndex, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &MessageIndex{client: client, indexName: esCfg.IndexName, logger: logger}, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (m *MessageIndex) EnsureIndex(ctx context.Context) error {
	res, err := m.client.Indices.Exists([]string{m.indexName}, m.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		m.logger.Info("索引已存在", zap.String("index", m.indexName))
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status %d checking index %s", res.StatusCode, m.indexName)
	}

	res, err = m.client.Indices.Create(
		m.indexName,
		m.client.Indices.Create.WithBody(strings.NewReader(messageMapping)),
		m.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", m.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch rejected index creation: %s", res.String())
	}

	m.logger.Info("索引创建成功", zap.String("index", m.indexName))
	return nil
}

// IndexMessage 将单条消息写入索引，消息 ID 作为文档 ID。
func (m *MessageIndex) IndexMessage(ctx context.Context, sessionID string, msg model.Message) error {
	doc := model.MessageDocument{
		MessageID: msg.ID,
		SessionID: sessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      m.indexName,
		DocumentID: msg.ID,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("failed to index message: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch rejected message: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64               `json:"_score"`
			Source model.MessageDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// buildSearchQuery 构建限定在单个会话内的全文检索请求。
func buildSearchQuery(sessionID, query string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{"match": map[string]interface{}{"content": query}},
				},
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"session_id": sessionID}},
				},
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"timestamp": "asc"}},
	}
}

// SearchMessages 在指定会话内按内容检索消息。
func (m *MessageIndex) SearchMessages(ctx context.Context, sessionID, query string, size int) ([]model.MessageSearchHit, error) {
	body, err := json.Marshal(buildSearchQuery(sessionID, query, size))
	if err != nil {
		return nil, err
	}

	res, err := m.client.Search(
		m.client.Search.WithContext(ctx),
		m.client.Search.WithIndex(m.indexName),
		m.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]model.MessageSearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.MessageSearchHit{
			MessageID: h.Source.MessageID,
			Role:      h.Source.Role,
			Content:   h.Source.Content,
			Timestamp: h.Source.Timestamp,
			Score:     h.Score,
		})
	}
	return hits, nil
}

// DeleteSession 删除某个会话的所有消息文档。
func (m *MessageIndex) DeleteSession(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"session_id": sessionID},
		},
	})
	if err != nil {
		return err
	}
	res, err := m.client.DeleteByQuery(
		[]string{m.indexName},
		bytes.NewReader(body),
		m.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch delete_by_query failed: %s", res.String())
	}
	return nil
}
