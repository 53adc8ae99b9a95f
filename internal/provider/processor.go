package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultProcessorTimeout = 2 * time.Minute

type extractRequest struct {
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	TemplateID string `json:"templateId"`
	Content    []byte `json:"content"`
}

type extractResponse struct {
	Result json.RawMessage `json:"result"`
}

// HTTPDocumentProcessor calls the extraction service over HTTP.
type HTTPDocumentProcessor struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPDocumentProcessor(baseURL string) (*HTTPDocumentProcessor, error) {
	client := resty.New()
	client.SetTimeout(defaultProcessorTimeout)
	client.SetRetryCount(0)

	return NewHTTPDocumentProcessorWithClient(baseURL, client)
}

func NewHTTPDocumentProcessorWithClient(baseURL string, client *resty.Client) (*HTTPDocumentProcessor, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("document processor url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid document processor url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProcessorTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPDocumentProcessor{
		client:   client,
		endpoint: trimmed + "/v1/extract",
	}, nil
}

func (p *HTTPDocumentProcessor) Process(ctx context.Context, req ProcessRequest) (json.RawMessage, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("document processor is not initialized")
	}

	var out extractResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(extractRequest{
			FileID:     req.FileID,
			FileName:   req.FileName,
			TemplateID: req.TemplateID,
			Content:    req.Content,
		}).
		SetResult(&out).
		Post(p.endpoint)
	if err != nil {
		return nil, requestFailure("document processor", err)
	}

	statusCode := response.StatusCode()
	if !isSuccessStatus(statusCode) {
		return nil, statusFailure(statusCode, response.String())
	}
	if len(out.Result) == 0 {
		return nil, &DispatchError{
			StatusCode: statusCode,
			Message:    "document processor returned no result",
		}
	}

	return out.Result, nil
}
