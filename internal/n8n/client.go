// Package n8n is a client for the n8n automation tool. It covers the two
// ways botforge talks to n8n: triggering a chatbot's webhook workflow to
// produce a reply, and managing the workflow itself over the n8n REST API.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

const apiKeyHeader = "X-N8N-API-KEY"

type Client struct {
	baseUrl    string
	apiKey     string
	httpClient *http.Client
	log        *log.Logger
}

func NewClient(baseUrl, apiKey string, logger *log.Logger) *Client {
	return &Client{
		baseUrl:    strings.TrimSuffix(baseUrl, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		log:        logger,
	}
}

type triggerRequest struct {
	Message string `json:"message"`
}

type triggerResponse struct {
	Message string `json:"message"`
}

// TriggerWorkflow posts the message to a chatbot's webhook and returns the
// reply text, which may be empty if the workflow responded without one.
// Any transport error, non-2xx status or context deadline is returned as an
// error. The caller bounds the wait through ctx.
func (c *Client) TriggerWorkflow(ctx context.Context, webhookUrl, message string) (string, error) {
	body, err := json.Marshal(triggerRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("marshal trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookUrl, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook trigger failed: %s", resp.Status)
	}

	var tr triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode trigger response: %w", err)
	}

	return tr.Message, nil
}

// CreateChatbotWorkflow provisions a webhook-echo workflow for a new chatbot
// and returns its workflow id and webhook URL.
func (c *Client) CreateChatbotWorkflow(ctx context.Context, chatbotName, chatbotId string) (workflowId, webhookUrl string, err error) {
	workflow := map[string]any{
		"name":   "Chatbot: " + chatbotName,
		"active": true,
		"nodes": []map[string]any{
			{
				"parameters": map[string]any{
					"httpMethod":   "POST",
					"path":         "chatbot/" + chatbotId,
					"responseMode": "responseNode",
					"options":      map[string]any{},
				},
				"id":          "webhook-node",
				"name":        "Webhook",
				"type":        "n8n-nodes-base.webhook",
				"typeVersion": 1,
				"position":    []int{250, 300},
				"webhookId":   chatbotId,
			},
			{
				"parameters": map[string]any{
					"values": map[string]any{
						"string": []map[string]any{
							{
								"name":  "response",
								"value": "={{ $json.body.message }}",
							},
						},
					},
					"options": map[string]any{},
				},
				"id":          "set-node",
				"name":        "Process Message",
				"type":        "n8n-nodes-base.set",
				"typeVersion": 1,
				"position":    []int{450, 300},
			},
			{
				"parameters": map[string]any{
					"respondWith":  "json",
					"responseBody": `={{ { "message": "Echo: " + $json.response } }}`,
				},
				"id":          "respond-node",
				"name":        "Respond to Webhook",
				"type":        "n8n-nodes-base.respondToWebhook",
				"typeVersion": 1,
				"position":    []int{650, 300},
			},
		},
		"connections": map[string]any{
			"Webhook": map[string]any{
				"main": [][]map[string]any{{{"node": "Process Message", "type": "main", "index": 0}}},
			},
			"Process Message": map[string]any{
				"main": [][]map[string]any{{{"node": "Respond to Webhook", "type": "main", "index": 0}}},
			},
		},
		"settings": map[string]any{
			"executionOrder": "v1",
		},
	}

	var result struct {
		Id string `json:"id"`
	}
	if err := c.request(ctx, http.MethodPost, "/workflows", workflow, &result); err != nil {
		return "", "", fmt.Errorf("create workflow: %w", err)
	}

	webhookUrl = strings.TrimSuffix(c.baseUrl, "/api/v1") + "/webhook/chatbot/" + chatbotId

	return result.Id, webhookUrl, nil
}

// DeleteWorkflow removes the workflow backing a deleted chatbot.
func (c *Client) DeleteWorkflow(ctx context.Context, workflowId string) error {
	if err := c.request(ctx, http.MethodDelete, "/workflows/"+workflowId, nil, nil); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

// SetWorkflowActive toggles the workflow alongside the chatbot's active flag.
func (c *Client) SetWorkflowActive(ctx context.Context, workflowId string, active bool) error {
	body := map[string]any{"active": active}
	if err := c.request(ctx, http.MethodPatch, "/workflows/"+workflowId, body, nil); err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("n8n API error: %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
