package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/condition"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/security"
)

var promptSanitizer = security.New(false)

// RegisterBuiltins installs the node types every compiled graph may reference. It
// is called once at process init, before Seal.
func RegisterBuiltins(r *Registry, httpClient *http.Client, evaluator *condition.Evaluator) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if evaluator == nil {
		evaluator = condition.New()
	}
	r.Register(manualTriggerHandler{})
	r.Register(webhookTriggerHandler{})
	r.Register(setHandler{})
	r.Register(httpHandler{client: httpClient, safety: newURLSafetyChecker()})
	r.Register(llmHandler{client: httpClient, safety: newURLSafetyChecker()})
	r.Register(ifHandler{cond: evaluator})
	r.Register(switchHandler{cond: evaluator})
	r.Register(loopHandler{})
	r.Register(splitInBatchesHandler{})
	r.Register(noOpHandler{})
	r.Register(humanApprovalHandler{})
	r.Register(subworkflowHandler{})
}

// --- manualTrigger -----------------------------------------------------------

type manualTriggerHandler struct{}

func (manualTriggerHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "manualTrigger", DisplayName: "Manual Trigger", Category: "trigger",
		OutputHandles: []string{"output"},
		OutputTypeByHandle: map[string]string{"output": "any"},
	}
}
func (manualTriggerHandler) ValidateConfig(map[string]interface{}) []string { return nil }
func (manualTriggerHandler) Execute(_ context.Context, input []model.NodeItem, _ map[string]interface{}, _ *model.ExecutionContext) NodeExecutionResult {
	if len(input) == 0 {
		input = []model.NodeItem{{JSON: map[string]interface{}{}}}
	}
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: "output"}
}

// --- webhookTrigger ------------------------------------------------------------

type webhookTriggerHandler struct{}

func (webhookTriggerHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "webhookTrigger", DisplayName: "Webhook Trigger", Category: "trigger",
		OutputHandles: []string{"output"},
		OutputTypeByHandle: map[string]string{"output": "any"},
	}
}
func (webhookTriggerHandler) ValidateConfig(map[string]interface{}) []string { return nil }
func (webhookTriggerHandler) Execute(_ context.Context, input []model.NodeItem, _ map[string]interface{}, _ *model.ExecutionContext) NodeExecutionResult {
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: "output"}
}

// --- set -----------------------------------------------------------------------

type setHandler struct{}

func (setHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "set", DisplayName: "Set", Category: "transform",
		Fields:             []FieldSpec{{Name: "values", Type: "object"}},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"output"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"output": "any"},
	}
}
func (setHandler) ValidateConfig(config map[string]interface{}) []string {
	if _, ok := config["values"]; !ok {
		return []string{"set: 'values' is required"}
	}
	return nil
}
func (setHandler) Execute(_ context.Context, _ []model.NodeItem, config map[string]interface{}, _ *model.ExecutionContext) NodeExecutionResult {
	values, _ := config["values"].(map[string]interface{})
	return NodeExecutionResult{
		Success:      true,
		Items:        []model.NodeItem{{JSON: values}},
		OutputHandle: "output",
	}
}

// --- http ------------------------------------------------------------------

type httpHandler struct {
	client *http.Client
	safety *urlSafetyChecker
}

func (httpHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "http", DisplayName: "HTTP Request", Category: "action",
		Fields: []FieldSpec{
			{Name: "url", Type: "string", Required: true},
			{Name: "method", Type: "string"},
			{Name: "headers", Type: "object"},
			{Name: "body", Type: "object"},
			{Name: "credential", Type: "string"},
		},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"success", "error"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"success": "object", "error": "error"},
	}
}

func (h httpHandler) ValidateConfig(config map[string]interface{}) []string {
	var errs []string
	url, _ := config["url"].(string)
	if strings.TrimSpace(url) == "" {
		errs = append(errs, "http: 'url' is required")
	}
	if method, ok := config["method"].(string); ok && method != "" {
		switch strings.ToUpper(method) {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			errs = append(errs, fmt.Sprintf("http: unsupported method %q", method))
		}
	}
	return errs
}

func (h httpHandler) Execute(ctx context.Context, _ []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult {
	url, _ := config["url"].(string)
	if err := h.safety.Check(url); err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}

	method := strings.ToUpper(firstNonEmpty(config["method"], "GET"))
	var bodyReader io.Reader
	if body, ok := config["body"]; ok && body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return NodeExecutionResult{Success: false, Error: "encoding body: " + err.Error(), OutputHandle: "error"}
		}
		bodyReader = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	if headers, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred, ok := execCtx.Credentials[fmt.Sprintf("%v", config["credential"])]; ok {
		if token := credentialBearerToken(cred); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	var parsedBody interface{}
	if len(raw) > 0 {
		if jsonErr := json.Unmarshal(raw, &parsedBody); jsonErr != nil {
			parsedBody = string(raw)
		}
	}

	out := map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        parsedBody,
		"url":         url,
	}
	if resp.StatusCode >= 400 {
		return NodeExecutionResult{
			Success:      false,
			Items:        []model.NodeItem{{JSON: out}},
			Error:        fmt.Sprintf("http status %d", resp.StatusCode),
			OutputHandle: "error",
		}
	}
	return NodeExecutionResult{Success: true, Items: []model.NodeItem{{JSON: out}}, OutputHandle: "success"}
}

func firstNonEmpty(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// --- llm -------------------------------------------------------------------

// llmHandler is one node type covering the three chat-completion providers
// the teacher's node handlers targeted separately; "provider" picks the
// request/response shape instead of registering openai/gemini/ollama as
// distinct node types, since the three only differ in URL, auth and JSON
// shape, not in what the node does.
type llmHandler struct {
	client *http.Client
	safety *urlSafetyChecker
}

func (llmHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "llm", DisplayName: "LLM", Category: "action",
		Fields: []FieldSpec{
			{Name: "provider", Type: "string", Required: true},
			{Name: "credential", Type: "string"},
			{Name: "model", Type: "string", Required: true},
			{Name: "prompt", Type: "string", Required: true},
			{Name: "systemMessage", Type: "string"},
			{Name: "temperature", Type: "number"},
			{Name: "maxTokens", Type: "number"},
			{Name: "baseUrl", Type: "string"},
		},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"success", "error"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"success": "object", "error": "error"},
	}
}

func (llmHandler) ValidateConfig(config map[string]interface{}) []string {
	var errs []string
	switch firstNonEmpty(config["provider"], "") {
	case "openai", "gemini", "ollama":
	default:
		errs = append(errs, fmt.Sprintf("llm: unsupported provider %q, want one of openai, gemini, ollama", config["provider"]))
	}
	if strings.TrimSpace(firstNonEmpty(config["model"], "")) == "" {
		errs = append(errs, "llm: 'model' is required")
	}
	if strings.TrimSpace(firstNonEmpty(config["prompt"], "")) == "" {
		errs = append(errs, "llm: 'prompt' is required")
	}
	return errs
}

func (h llmHandler) Execute(ctx context.Context, _ []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult {
	provider := firstNonEmpty(config["provider"], "")
	var cred interface{}
	if execCtx != nil {
		cred = execCtx.Credentials[fmt.Sprintf("%v", config["credential"])]
	}

	promptResult := promptSanitizer.Sanitize(firstNonEmpty(config["prompt"], ""))
	config = cloneWithLLMText(config, "prompt", promptResult.Sanitized)
	if sys := firstNonEmpty(config["systemMessage"], ""); sys != "" {
		config = cloneWithLLMText(config, "systemMessage", promptSanitizer.Strip(sys))
	}

	var (
		req *http.Request
		err error
	)
	switch provider {
	case "openai":
		req, err = h.buildOpenAIRequest(ctx, config, cred)
	case "gemini":
		req, err = h.buildGeminiRequest(ctx, config, cred)
	case "ollama":
		req, err = h.buildOllamaRequest(ctx, config)
	default:
		return NodeExecutionResult{Success: false, Error: fmt.Sprintf("llm: unsupported provider %q", provider), OutputHandle: "error"}
	}
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	if err := h.safety.Check(req.URL.String()); err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	if resp.StatusCode >= 400 {
		return NodeExecutionResult{Success: false, Error: fmt.Sprintf("llm: %s returned status %d: %s", provider, resp.StatusCode, string(raw)), OutputHandle: "error"}
	}

	var out map[string]interface{}
	switch provider {
	case "openai":
		out, err = parseOpenAIResponse(raw)
	case "gemini":
		out, err = parseGeminiResponse(raw)
	case "ollama":
		out, err = parseOllamaResponse(raw)
	}
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	out["provider"] = provider
	out["model"] = config["model"]
	if !promptResult.Safe {
		out["promptSanitized"] = true
	}
	return NodeExecutionResult{Success: true, Items: []model.NodeItem{{JSON: out}}, OutputHandle: "success"}
}

// cloneWithLLMText returns a shallow copy of config with key replaced, so
// sanitizing the prompt never mutates the compiled plan's node config.
func cloneWithLLMText(config map[string]interface{}, key, value string) map[string]interface{} {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = v
	}
	out[key] = value
	return out
}

func (h llmHandler) buildOpenAIRequest(ctx context.Context, config map[string]interface{}, cred interface{}) (*http.Request, error) {
	messages := []map[string]string{}
	if sys := firstNonEmpty(config["systemMessage"], ""); sys != "" {
		messages = append(messages, map[string]string{"role": "system", "content": sys})
	}
	messages = append(messages, map[string]string{"role": "user", "content": firstNonEmpty(config["prompt"], "")})
	body := map[string]interface{}{
		"model":    config["model"],
		"messages": messages,
	}
	if t, ok := config["temperature"]; ok {
		body["temperature"] = t
	}
	if m, ok := config["maxTokens"]; ok {
		body["max_tokens"] = m
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encoding openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := credentialBearerToken(cred); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func parseOpenAIResponse(raw []byte) (map[string]interface{}, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage map[string]interface{} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decoding openai response: %w", err)
	}
	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return map[string]interface{}{"content": content, "usage": parsed.Usage}, nil
}

func (h llmHandler) buildGeminiRequest(ctx context.Context, config map[string]interface{}, cred interface{}) (*http.Request, error) {
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": firstNonEmpty(config["prompt"], "")}}},
		},
	}
	if sys := firstNonEmpty(config["systemMessage"], ""); sys != "" {
		body["systemInstruction"] = map[string]interface{}{"parts": []map[string]string{{"text": sys}}}
	}
	generationConfig := map[string]interface{}{}
	if t, ok := config["temperature"]; ok {
		generationConfig["temperature"] = t
	}
	if m, ok := config["maxTokens"]; ok {
		generationConfig["maxOutputTokens"] = m
	}
	if len(generationConfig) > 0 {
		body["generationConfig"] = generationConfig
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encoding gemini request: %w", err)
	}
	apiKey := credentialBearerToken(cred)
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", config["model"], apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func parseGeminiResponse(raw []byte) (map[string]interface{}, error) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata map[string]interface{} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decoding gemini response: %w", err)
	}
	content := ""
	if len(parsed.Candidates) > 0 && len(parsed.Candidates[0].Content.Parts) > 0 {
		content = parsed.Candidates[0].Content.Parts[0].Text
	}
	return map[string]interface{}{"content": content, "usage": parsed.UsageMetadata}, nil
}

func (h llmHandler) buildOllamaRequest(ctx context.Context, config map[string]interface{}) (*http.Request, error) {
	baseURL := strings.TrimRight(firstNonEmpty(config["baseUrl"], "http://localhost:11434"), "/")
	messages := []map[string]string{}
	if sys := firstNonEmpty(config["systemMessage"], ""); sys != "" {
		messages = append(messages, map[string]string{"role": "system", "content": sys})
	}
	messages = append(messages, map[string]string{"role": "user", "content": firstNonEmpty(config["prompt"], "")})
	body := map[string]interface{}{
		"model":    config["model"],
		"messages": messages,
		"stream":   false,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encoding ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func parseOllamaResponse(raw []byte) (map[string]interface{}, error) {
	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		EvalCount      int `json:"eval_count"`
		PromptEvalCount int `json:"prompt_eval_count"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decoding ollama response: %w", err)
	}
	return map[string]interface{}{
		"content": parsed.Message.Content,
		"usage":   map[string]interface{}{"eval_count": parsed.EvalCount, "prompt_eval_count": parsed.PromptEvalCount},
	}, nil
}

// --- if ------------------------------------------------------------------------

type ifHandler struct{ cond *condition.Evaluator }

func (ifHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "if", DisplayName: "If", Category: "flow",
		Fields:             []FieldSpec{{Name: "condition", Type: "string", Required: true}},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"true", "false"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"true": "any", "false": "any"},
	}
}
func (h ifHandler) ValidateConfig(config map[string]interface{}) []string {
	return validateCELField(h.cond, config, "condition")
}
func (h ifHandler) Execute(_ context.Context, input []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult {
	ok, err := evalCELCondition(h.cond, config, "condition", input, execCtx)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	handle := "false"
	if ok {
		handle = "true"
	}
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: handle}
}

// --- switch ----------------------------------------------------------------

type switchHandler struct{ cond *condition.Evaluator }

func (switchHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "switch", DisplayName: "Switch", Category: "flow",
		Fields:             []FieldSpec{{Name: "cases", Type: "array", Required: true}},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"default"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"default": "any"},
	}
}
func (switchHandler) ValidateConfig(config map[string]interface{}) []string {
	if _, ok := config["cases"].([]interface{}); !ok {
		return []string{"switch: 'cases' must be an array"}
	}
	return nil
}
func (h switchHandler) Execute(_ context.Context, input []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult {
	cases, _ := config["cases"].([]interface{})
	for _, c := range cases {
		caseMap, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		expr, _ := caseMap["condition"].(string)
		handle, _ := caseMap["outputHandle"].(string)
		matched, err := evalCELExpr(h.cond, expr, input, execCtx)
		if err == nil && matched {
			return NodeExecutionResult{Success: true, Items: input, OutputHandle: handle}
		}
	}
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: "default"}
}

// --- loop / splitInBatches --------------------------------------------------

// loopHandler and splitInBatchesHandler are pass-through handlers: each run
// passes its input through on the "loop" handle and never takes "done", so nodes
// wired only to "done" are skipped. The orchestrator counts their runs against
// maxLoopCount (or the system ceiling); neither handler re-runs earlier nodes.
type loopHandler struct{}

func (loopHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "loop", DisplayName: "Loop", Category: "flow",
		InputHandles: []string{"input"}, OutputHandles: []string{"loop", "done"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"loop": "any", "done": "any"},
	}
}
func (loopHandler) ValidateConfig(map[string]interface{}) []string { return nil }
func (loopHandler) Execute(_ context.Context, input []model.NodeItem, _ map[string]interface{}, _ *model.ExecutionContext) NodeExecutionResult {
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: "loop"}
}

type splitInBatchesHandler struct{}

func (splitInBatchesHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "splitInBatches", DisplayName: "Split In Batches", Category: "flow",
		InputHandles: []string{"input"}, OutputHandles: []string{"loop", "done"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"loop": "any", "done": "any"},
	}
}
func (splitInBatchesHandler) ValidateConfig(map[string]interface{}) []string { return nil }
func (splitInBatchesHandler) Execute(_ context.Context, input []model.NodeItem, _ map[string]interface{}, _ *model.ExecutionContext) NodeExecutionResult {
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: "loop"}
}

// --- noOp (used by tests and as a generic pass-through) ---------------------

type noOpHandler struct{}

func (noOpHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "noOp", DisplayName: "No Op", Category: "utility",
		InputHandles: []string{"input"}, OutputHandles: []string{"output"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"output": "any"},
	}
}
func (noOpHandler) ValidateConfig(map[string]interface{}) []string { return nil }
func (noOpHandler) Execute(_ context.Context, input []model.NodeItem, _ map[string]interface{}, _ *model.ExecutionContext) NodeExecutionResult {
	return NodeExecutionResult{Success: true, Items: input, OutputHandle: "output"}
}

// --- humanApproval -----------------------------------------------------------

// humanApprovalHandler pauses the run at suspension point (d) by calling the
// AskHuman closure the orchestrator wires into the ExecutionContext; it never
// talks to the orchestrator directly.
type humanApprovalHandler struct{}

func (humanApprovalHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "humanApproval", DisplayName: "Human Approval", Category: "hitl",
		Fields: []FieldSpec{
			{Name: "question", Type: "string", Required: true},
			{Name: "options", Type: "array"},
			{Name: "timeoutSeconds", Type: "number"},
			{Name: "autoAction", Type: "string"},
		},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"approve", "reject", "answer"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"approve": "any", "reject": "any", "answer": "any"},
	}
}
func (humanApprovalHandler) ValidateConfig(config map[string]interface{}) []string {
	if q, _ := config["question"].(string); strings.TrimSpace(q) == "" {
		return []string{"humanApproval: 'question' is required"}
	}
	return nil
}
func (humanApprovalHandler) Execute(ctx context.Context, input []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult {
	if execCtx == nil || execCtx.AskHuman == nil {
		return NodeExecutionResult{Success: false, Error: "humanApproval: no HITL channel available", OutputHandle: "error"}
	}
	question, _ := config["question"].(string)
	options := stringSlice(config["options"])
	timeoutSeconds := intField(config, "timeoutSeconds", 0)
	autoAction := model.HITLAction(firstNonEmpty(config["autoAction"], "reject"))

	resp, err := execCtx.AskHuman(ctx, execCtx.CurrentNodeID, question, options, timeoutSeconds, autoAction)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}

	out := map[string]interface{}{"action": resp.Action, "value": resp.Value, "message": resp.Message}
	items := []model.NodeItem{{JSON: out}}
	switch resp.Action {
	case model.ActionApprove:
		return NodeExecutionResult{Success: true, Items: items, OutputHandle: "approve"}
	case model.ActionReject:
		return NodeExecutionResult{Success: true, Items: items, OutputHandle: "reject"}
	default:
		return NodeExecutionResult{Success: true, Items: items, OutputHandle: "answer"}
	}
}

// credentialBearerToken accepts either a bare token string (legacy/simple
// config) or the field map a credential.Manager.Resolve call returns,
// picking the first field a bearer-style credential would plausibly use.
func credentialBearerToken(cred interface{}) string {
	switch v := cred.(type) {
	case string:
		return v
	case map[string]interface{}:
		for _, key := range []string{"token", "apiKey", "accessToken", "access_token"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func stringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intField(config map[string]interface{}, key string, def int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// --- subworkflow ---------------------------------------------------------------

type subworkflowHandler struct{}

func (subworkflowHandler) Metadata() Metadata {
	return Metadata{
		NodeType: "subworkflow", DisplayName: "Sub-workflow", Category: "flow",
		Fields: []FieldSpec{
			{Name: "workflowId", Type: "string", Required: true},
			{Name: "waitForCompletion", Type: "boolean"},
		},
		InputHandles:       []string{"input"},
		OutputHandles:      []string{"output", "error"},
		AcceptedInputTypes: []string{"any"},
		OutputTypeByHandle: map[string]string{"output": "any", "error": "error"},
	}
}
func (subworkflowHandler) ValidateConfig(config map[string]interface{}) []string {
	if id, _ := config["workflowId"].(string); strings.TrimSpace(id) == "" {
		return []string{"subworkflow: 'workflowId' is required"}
	}
	return nil
}
func (subworkflowHandler) Execute(ctx context.Context, input []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult {
	if execCtx == nil || execCtx.StartSubworkflow == nil {
		return NodeExecutionResult{Success: false, Error: "subworkflow: execution is not configured", OutputHandle: "error"}
	}
	idStr, _ := config["workflowId"].(string)
	workflowID, err := uuid.Parse(idStr)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: "subworkflow: invalid workflowId: " + err.Error(), OutputHandle: "error"}
	}
	wait, _ := config["waitForCompletion"].(bool)
	if _, explicit := config["waitForCompletion"]; !explicit {
		wait = true
	}

	result, err := execCtx.StartSubworkflow(ctx, workflowID, input, wait)
	if err != nil {
		return NodeExecutionResult{Success: false, Error: err.Error(), OutputHandle: "error"}
	}
	if result.Error != "" {
		return NodeExecutionResult{Success: false, Error: result.Error, OutputHandle: "error"}
	}
	if !wait {
		return NodeExecutionResult{
			Success:      true,
			Items:        []model.NodeItem{{JSON: map[string]interface{}{"executionId": result.ExecutionID.String(), "status": "started_async"}}},
			OutputHandle: "output",
		}
	}
	return NodeExecutionResult{Success: true, Items: result.Output, OutputHandle: "output"}
}

// --- CEL helpers shared by if/switch -----------------------------------------

func validateCELField(cond *condition.Evaluator, config map[string]interface{}, field string) []string {
	expr, ok := config[field].(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return []string{fmt.Sprintf("%s is required", field)}
	}
	if err := cond.Compile(expr); err != nil {
		return []string{fmt.Sprintf("%s: %v", field, err)}
	}
	return nil
}

func evalCELCondition(cond *condition.Evaluator, config map[string]interface{}, field string, input []model.NodeItem, execCtx *model.ExecutionContext) (bool, error) {
	expr, _ := config[field].(string)
	return evalCELExpr(cond, expr, input, execCtx)
}

func evalCELExpr(cond *condition.Evaluator, expr string, input []model.NodeItem, execCtx *model.ExecutionContext) (bool, error) {
	var output interface{}
	if len(input) > 0 {
		output = input[0].JSON
	} else {
		output = map[string]interface{}{}
	}
	vars := map[string]interface{}{}
	if execCtx != nil {
		vars = execCtx.Variables
	}
	return cond.Eval(expr, output, vars)
}
