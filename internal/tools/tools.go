// Package tools is the registry of functions the assistant can invoke.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"yuzu/voicegw/internal/llm"
)

var ErrUnknownTool = errors.New("tools: unknown tool")

type Action int

const (
	ActionError    Action = -1
	ActionNotFound Action = 0
	ActionNone     Action = 1
	// ActionResponse speaks Result.Response directly.
	ActionResponse Action = 2
	// ActionReqLLM feeds Result.Result back to the LLM as a tool turn.
	ActionReqLLM Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionError:
		return "error"
	case ActionNotFound:
		return "notfound"
	case ActionNone:
		return "none"
	case ActionResponse:
		return "response"
	case ActionReqLLM:
		return "reqllm"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Result struct {
	Action   Action
	Result   string
	Response string
	// Close asks the session to end once Response has been spoken.
	Close bool
}

// Env is what a tool may know about the calling session.
type Env struct {
	DeviceID  string
	SessionID string
	Now       time.Time
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     func(ctx context.Context, env Env, args map[string]any) (Result, error)
}

const notFoundReply = "Sorry, I can't do that yet."

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Definitions lists the tools in the shape the LLM boundary expects.
func (r *Registry) Definitions() []llm.Tool {
	var out []llm.Tool
	for _, n := range r.Names() {
		t, _ := r.Get(n)
		out = append(out, llm.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return out
}

// Execute runs the named tool. Failures are reported through the Result
// action, never as a Go error, so a bad call cannot end the turn.
func (r *Registry) Execute(ctx context.Context, env Env, name, arguments string) Result {
	t, err := r.Get(name)
	if err != nil {
		return Result{Action: ActionNotFound, Response: notFoundReply, Result: err.Error()}
	}
	args := map[string]any{}
	if s := strings.TrimSpace(arguments); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return Result{Action: ActionError, Result: fmt.Sprintf("invalid arguments for %s: %v", name, err)}
		}
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}
	res, err := t.Execute(ctx, env, args)
	if err != nil {
		return Result{Action: ActionError, Result: err.Error()}
	}
	return res
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// GetTime reports the current time and date back to the LLM.
func GetTime() Tool {
	return Tool{
		Name:        "get_time",
		Description: "Get the current date, weekday and time.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Execute: func(_ context.Context, env Env, _ map[string]any) (Result, error) {
			return Result{
				Action: ActionReqLLM,
				Result: env.Now.Format("Monday, 2006-01-02 15:04"),
			}, nil
		},
	}
}

const defaultGoodbye = "Goodbye, talk to you soon."

// Exit ends the session after speaking the goodbye line.
func Exit() Tool {
	return Tool{
		Name:        "handle_exit_intent",
		Description: "Call only when the user explicitly asks to end the conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"say_goodbye": map[string]any{
					"type":        "string",
					"description": "A friendly goodbye to say to the user",
				},
			},
			"required": []string{"say_goodbye"},
		},
		Execute: func(_ context.Context, _ Env, args map[string]any) (Result, error) {
			bye := str(args, "say_goodbye")
			if bye == "" {
				bye = defaultGoodbye
			}
			return Result{Action: ActionResponse, Response: bye, Close: true}, nil
		},
	}
}

// Builtins returns a registry with every built-in tool.
func Builtins() *Registry { return NewRegistry(GetTime(), Exit()) }
