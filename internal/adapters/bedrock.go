package adapters

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockAdapter wraps the AWS Bedrock runtime InvokeModel endpoint for
// Anthropic-family models. Requests are SigV4-signed with the default AWS
// credential chain; no API key is involved.
type BedrockAdapter struct {
	region      string
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	client      *http.Client
	throttle    *rate.Limiter
}

// NewBedrockAdapter creates a Bedrock adapter using the default AWS
// credential chain. opts.Region overrides the chain's region.
func NewBedrockAdapter(ctx context.Context, opts Options) (*BedrockAdapter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}

	return &BedrockAdapter{
		region:      cfg.Region,
		credentials: cfg.Credentials,
		signer:      v4.NewSigner(),
		client:      newHTTPClient(opts.HTTPClient),
		throttle:    newThrottle(opts.MaxRPS),
	}, nil
}

// Provider returns the provider type.
func (a *BedrockAdapter) Provider() Provider {
	return ProviderBedrock
}

// Complete performs one completion against InvokeModel.
func (a *BedrockAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if a.region == "" {
		return nil, fmt.Errorf("bedrock: %w: no AWS region resolved", ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout(req.Timeout))
	defer cancel()

	return doWithRetry(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		return a.complete(ctx, req)
	})
}

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

func (a *BedrockAdapter) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := waitThrottle(ctx, a.throttle, ProviderBedrock); err != nil {
		return nil, err
	}

	body := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           systemWithFormat(req.SystemPrompt, req.ResponseFormat),
		Messages:         []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: encoding request: %w", err)
	}
	payload, err = applyExtraParams(payload, req.ExtraParams)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	endpoint := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke",
		a.region, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bedrock: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	creds, err := a.credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w: retrieving AWS credentials: %v", ErrNotConfigured, err)
	}
	sum := sha256.Sum256(payload)
	if err := a.signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), "bedrock", a.region, time.Now()); err != nil {
		return nil, fmt.Errorf("bedrock: signing request: %w", err)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderBedrock, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderBedrock, Message: fmt.Sprintf("reading response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderBedrock, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	// Bedrock returns the Anthropic messages shape verbatim.
	content := anthropicText(raw)
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyResponse(ProviderBedrock)
	}

	usage := normalizeUsage(UsageInfo{
		InputTokens:  int(gjson.GetBytes(raw, "usage.input_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(raw, "usage.output_tokens").Int()),
	})

	return &CompletionResponse{
		Content:   content,
		Usage:     usage,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ Adapter = (*BedrockAdapter)(nil)
