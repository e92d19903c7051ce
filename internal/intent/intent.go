// Package intent decides, before the main LLM call, whether an utterance is
// plain chat, an exit request, or a tool invocation.
package intent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/cache"
	"yuzu/voicegw/internal/dialogue"
	"yuzu/voicegw/internal/llm"
)

const (
	NameContinueChat     = "continue_chat"
	NameResultForContext = "result_for_context"
	NameExit             = "handle_exit_intent"
)

type Mode string

const (
	ModeLLM          Mode = "intent_llm"
	ModeFunctionCall Mode = "function_call"
	ModeNone         Mode = "nointent"
)

type Kind int

const (
	KindChat Kind = iota
	KindContext
	KindExit
	KindTools
)

func (k Kind) String() string {
	switch k {
	case KindContext:
		return "context"
	case KindExit:
		return "exit"
	case KindTools:
		return "tools"
	}
	return "chat"
}

type Call struct {
	Name      string
	Arguments string
}

type Decision struct {
	Kind  Kind
	Calls []Call
	// ToolsInStream offers the tool registry to the main LLM call instead.
	ToolsInStream bool
}

var Chat = Decision{Kind: KindChat}

type Input struct {
	DeviceID string
	Text     string
	History  []dialogue.Message
	Tools    []llm.Tool
}

type Resolver interface {
	Resolve(ctx context.Context, in Input) (Decision, error)
}

// New returns the resolver for mode. An unknown mode resolves as nointent.
func New(mode Mode, p llm.Provider, model string, history int, c *cache.Cache, log *zap.Logger) Resolver {
	switch mode {
	case ModeLLM:
		return NewLLMResolver(p, model, history, c, log)
	case ModeFunctionCall:
		return fixed{Decision{Kind: KindChat, ToolsInStream: true}}
	}
	return fixed{Chat}
}

type fixed struct{ d Decision }

func (f fixed) Resolve(context.Context, Input) (Decision, error) { return f.d, nil }

// LLMResolver asks a model for a JSON function_call and caches the answer per
// (device, text).
type LLMResolver struct {
	p       llm.Provider
	model   string
	history int
	cache   *cache.Cache
	log     *zap.Logger
}

func NewLLMResolver(p llm.Provider, model string, history int, c *cache.Cache, log *zap.Logger) *LLMResolver {
	if history <= 0 {
		history = 4
	}
	if c == nil {
		c = cache.New(cache.ConfigFor(cache.TypeIntent))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMResolver{p: p, model: model, history: history, cache: c, log: log}
}

func CacheKey(deviceID, text string) string {
	sum := md5.Sum([]byte(deviceID + text))
	return hex.EncodeToString(sum[:])
}

// Resolve never fails the turn on a bad model reply; it falls back to Chat.
// Only a provider error is returned, together with Chat.
func (r *LLMResolver) Resolve(ctx context.Context, in Input) (Decision, error) {
	key := CacheKey(in.DeviceID, in.Text)
	if v, err := r.cache.Get(key); err == nil {
		return v.(Decision), nil
	}

	start := time.Now()
	raw, err := r.p.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []dialogue.Message{
			{Role: dialogue.RoleSystem, Content: SystemPrompt(in.Tools)},
			{Role: dialogue.RoleUser, Content: r.userPrompt(in)},
		},
	})
	if err != nil {
		return Chat, fmt.Errorf("intent: %w", err)
	}
	d, err := Parse(raw)
	if err != nil {
		r.log.Warn("intent reply unparseable", zap.String("reply", raw), zap.Error(err))
		return Chat, nil
	}
	r.log.Debug("intent resolved",
		zap.String("kind", d.Kind.String()),
		zap.Int("calls", len(d.Calls)),
		zap.Duration("took", time.Since(start)))
	r.cache.Set(key, d)
	return d, nil
}

func (r *LLMResolver) userPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("current dialogue:\n")
	h := in.History
	if len(h) > r.history {
		h = h[len(h)-r.history:]
	}
	for _, m := range h {
		if m.Role == dialogue.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "User: %s\n", in.Text)
	return b.String()
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

var ErrNoDecision = errors.New("intent: no function_call in reply")

type rawCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Parse reads {"function_call":{...}} or {"function_calls":[...]} out of a
// model reply, repairing malformed JSON first.
func Parse(reply string) (Decision, error) {
	s := strings.TrimSpace(reply)
	if m := jsonObject.FindString(s); m != "" {
		s = m
	}
	var v struct {
		FunctionCall  *rawCall  `json:"function_call"`
		FunctionCalls []rawCall `json:"function_calls"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(s)
		if rerr != nil {
			return Chat, fmt.Errorf("intent parse: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &v); err != nil {
			return Chat, fmt.Errorf("intent parse: %w", err)
		}
	}

	var calls []Call
	if v.FunctionCall != nil {
		calls = append(calls, toCall(*v.FunctionCall))
	}
	for _, c := range v.FunctionCalls {
		calls = append(calls, toCall(c))
	}
	kept := calls[:0]
	for _, c := range calls {
		if c.Name != "" {
			kept = append(kept, c)
		}
	}
	calls = kept
	if len(calls) == 0 {
		return Chat, ErrNoDecision
	}

	if len(calls) == 1 {
		switch calls[0].Name {
		case NameContinueChat:
			return Chat, nil
		case NameResultForContext:
			return Decision{Kind: KindContext}, nil
		case NameExit:
			return Decision{Kind: KindExit, Calls: calls}, nil
		}
	}
	return Decision{Kind: KindTools, Calls: calls}, nil
}

// toCall normalises arguments to a JSON object string.
func toCall(r rawCall) Call {
	args := strings.TrimSpace(string(r.Arguments))
	if strings.HasPrefix(args, `"`) {
		var inner string
		if json.Unmarshal(r.Arguments, &inner) == nil {
			args = inner
		}
	}
	if args == "" || args == "null" {
		args = "{}"
	}
	return Call{Name: r.Name, Arguments: args}
}

// SystemPrompt describes the available tools and the required reply format.
func SystemPrompt(tools []llm.Tool) string {
	var b strings.Builder
	b.WriteString("You are an intent classifier. Reply with JSON only, never natural language.\n\n")
	b.WriteString("Questions about the current time, date or location are answered from context: reply ")
	b.WriteString(`{"function_call": {"name": "result_for_context"}}` + "\n")
	b.WriteString("Only an explicit request to end the conversation maps to handle_exit_intent; ")
	b.WriteString("a question about how to exit does not.\n\n")
	b.WriteString("Available functions:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "\nFunction name: %s\nDescription: %s\n", t.Name, t.Description)
		if props, ok := t.Parameters["properties"].(map[string]any); ok && len(props) > 0 {
			b.WriteString("Parameters:\n")
			for name, p := range props {
				pm, _ := p.(map[string]any)
				fmt.Fprintf(&b, "- %s (%v): %v\n", name, pm["type"], pm["description"])
			}
		}
		b.WriteString("---\n")
	}
	b.WriteString("\nReply formats:\n")
	b.WriteString(`{"function_call": {"name": "<function>", "arguments": {...}}}` + "\n")
	b.WriteString(`{"function_calls": [{"name": "<function>", "arguments": {...}}, ...]} for several commands in one utterance` + "\n")
	b.WriteString(`{"function_call": {"name": "continue_chat"}} when nothing matches` + "\n")
	return b.String()
}
