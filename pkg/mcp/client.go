package mcp

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Provider AI提供商类型
type Provider string

const (
	ProviderDeepSeek Provider = "deepseek"
	ProviderQwen     Provider = "qwen"
	ProviderCustom   Provider = "custom"
)

// Client OpenAI兼容的chat-completions客户端
type Client struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	UseFullURL bool // BaseURL已是完整地址时不再拼接/chat/completions
}

// New 创建默认客户端（DeepSeek）
func New() *Client {
	return &Client{
		Provider: ProviderDeepSeek,
		BaseURL:  "https://api.deepseek.com/v1",
		Model:    "deepseek-chat",
		Timeout:  300 * time.Second, // 决策prompt较长，给足生成时间
	}
}

// SetDeepSeekAPIKey 使用DeepSeek
func (c *Client) SetDeepSeekAPIKey(apiKey string) {
	c.Provider = ProviderDeepSeek
	c.APIKey = apiKey
	c.BaseURL = "https://api.deepseek.com/v1"
	c.Model = "deepseek-chat"
}

// SetQwenAPIKey 使用阿里云Qwen
func (c *Client) SetQwenAPIKey(apiKey string) {
	c.Provider = ProviderQwen
	c.APIKey = apiKey
	c.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	c.Model = "qwen-plus"
}

// SetCustomAPI 使用任意OpenAI兼容API。
// URL以#结尾表示完整地址，不再追加/chat/completions。
func (c *Client) SetCustomAPI(apiURL, apiKey, modelName string) {
	c.Provider = ProviderCustom
	c.APIKey = apiKey
	if strings.HasSuffix(apiURL, "#") {
		c.BaseURL = strings.TrimSuffix(apiURL, "#")
		c.UseFullURL = true
	} else {
		c.BaseURL = apiURL
		c.UseFullURL = false
	}
	c.Model = modelName
}

// CallWithMessages 以 system + user prompt 调用AI，网络类错误最多重试3次
func (c *Client) CallWithMessages(systemPrompt, userPrompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("AI API密钥未设置")
	}

	const maxRetries = 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt) * 2 * time.Second
			log.Printf("⏳ AI API调用失败，%v后重试 (%d/%d)...", wait, attempt, maxRetries)
			time.Sleep(wait)
		}

		result, err := c.callOnce(systemPrompt, userPrompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("重试%d次后仍然失败: %w", maxRetries, lastErr)
}

// callOnce 单次调用
func (c *Client) callOnce(systemPrompt, userPrompt string) (string, error) {
	req, err := c.buildRequest(systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	req = req.WithContext(ctx)

	client := &http.Client{Timeout: c.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求AI API失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return parseResponse(body, resp.StatusCode)
}

// buildRequest 构建chat-completions请求
func (c *Client) buildRequest(systemPrompt, userPrompt string) (*http.Request, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	payload := map[string]interface{}{
		"model":       c.Model,
		"messages":    messages,
		"temperature": 0.5, // 降低temperature，提高JSON输出稳定性
		"max_tokens":  4000,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	url := c.BaseURL
	if !c.UseFullURL {
		url = c.BaseURL + "/chat/completions"
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	return req, nil
}

// readBody 读取响应体（兼容gzip）
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("创建gzip解压器失败: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("响应体为空")
	}
	return body, nil
}

// parseResponse 解析chat-completions响应
func parseResponse(body []byte, statusCode int) (string, error) {
	if statusCode != http.StatusOK {
		return "", fmt.Errorf("AI API返回 %d: %s", statusCode, string(body))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("解析AI响应失败: %w", err)
	}
	if payload.Error != nil {
		return "", fmt.Errorf("AI API错误: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 || payload.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("AI响应中没有内容")
	}
	return payload.Choices[0].Message.Content, nil
}

// isRetryableError 网络瞬断类错误可以重试
func isRetryableError(err error) bool {
	errStr := err.Error()
	retryable := []string{
		"EOF",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"temporary failure",
		"no such host",
		"响应体为空",
	}
	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
