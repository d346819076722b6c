package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps how much of a provider response is read into memory.
const maxResponseBytes = 10 << 20 // 10 MB

// newHTTPClient returns the shared default client. Per-request deadlines come
// from the context, so the client itself carries no timeout.
func newHTTPClient(override *http.Client) *http.Client {
	if override != nil {
		return override
	}
	return &http.Client{}
}

// waitThrottle blocks on the adapter's outbound rps limiter, if configured.
func waitThrottle(ctx context.Context, l *rate.Limiter, p Provider) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%s: waiting for outbound slot: %w", p, err)
	}
	return nil
}

// readBody drains a response body up to maxResponseBytes.
func readBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxResponseBytes))
}

// applyExtraParams overlays agent-declared provider parameters onto an
// already-serialized request body. Keys are applied in sorted order so the
// result is deterministic.
func applyExtraParams(body []byte, params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return body, nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		body, err = sjson.SetBytes(body, k, params[k])
		if err != nil {
			return nil, fmt.Errorf("applying parameter %q: %w", k, err)
		}
	}
	return body, nil
}

// errorMessage digs a human-readable message out of a provider error body,
// falling back to a truncated copy of the raw body.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	if msg == "" {
		msg = "no error detail"
	}
	return msg
}

// jsonInstruction is appended to system prompts for providers without a
// native JSON output mode.
const jsonInstruction = "Respond with a single valid JSON object and nothing else."

// systemWithFormat folds the JSON instruction into the system prompt when the
// provider has no native JSON mode.
func systemWithFormat(system string, format ResponseFormat) string {
	if format != FormatJSON {
		return system
	}
	if system == "" {
		return jsonInstruction
	}
	return system + "\n\n" + jsonInstruction
}
