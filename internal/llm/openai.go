package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/dialogue"
)

const (
	finishToolCalls    = "tool_calls"
	finishFunctionCall = "function_call"
)

// OpenAI talks to any chat-completions compatible endpoint.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
	log       *zap.Logger
}

func NewOpenAI(baseURL, apiKey, model string, maxTokens int, log *zap.Logger, extra ...option.RequestOption) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model, maxTokens: maxTokens, log: log}
}

func (o *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = o.model
	}
	p := openai.ChatCompletionNewParams{
		Messages: convMessages(req.Messages),
		Model:    model,
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.maxTokens
	}
	if maxTokens > 0 {
		p.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	for _, t := range req.Tools {
		p.Tools = append(p.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}
	return p
}

func convMessages(msgs []dialogue.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case dialogue.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case dialogue.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case dialogue.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case dialogue.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			a := &openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				a.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(m.Content)}
			}
			for _, tc := range m.ToolCalls {
				a.ToolCalls = append(a.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: a})
		}
	}
	return out
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return "", fmt.Errorf("llm complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm complete: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := o.client.Chat.Completions.NewStreaming(ctx, o.params(req))
	if err := s.Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("llm stream: %w", err)
	}
	return &openaiStream{s: s, cancel: cancel, calls: map[int64]*dialogue.ToolCall{}}, nil
}

type openaiStream struct {
	s      *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc

	// tool calls accumulate by index until the stream finishes
	calls    map[int64]*dialogue.ToolCall
	inTool   bool
	pending  []Delta
	finished bool
}

func (st *openaiStream) Next(ctx context.Context) (Delta, error) {
	for {
		if len(st.pending) > 0 {
			d := st.pending[0]
			st.pending = st.pending[1:]
			return d, nil
		}
		if st.finished {
			return Delta{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Delta{}, err
		}
		if !st.s.Next() {
			st.commit()
			st.finished = true
			if err := st.s.Err(); err != nil {
				return Delta{}, err
			}
			continue
		}
		chunk := st.s.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		ch := chunk.Choices[0]
		for _, tc := range ch.Delta.ToolCalls {
			st.inTool = true
			c, ok := st.calls[tc.Index]
			if !ok {
				c = &dialogue.ToolCall{}
				st.calls[tc.Index] = c
			}
			if tc.ID != "" {
				c.ID = tc.ID
			}
			c.Name += tc.Function.Name
			c.Arguments += tc.Function.Arguments
		}
		if ch.Delta.Content != "" && !st.inTool {
			st.pending = append(st.pending, Delta{Text: ch.Delta.Content})
		}
		switch ch.FinishReason {
		case finishToolCalls, finishFunctionCall:
			st.commit()
		case "":
		default:
			st.commit()
			st.finished = true
		}
	}
}

// commit releases accumulated tool calls in index order.
func (st *openaiStream) commit() {
	if len(st.calls) == 0 {
		return
	}
	idx := make([]int64, 0, len(st.calls))
	for i := range st.calls {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	for _, i := range idx {
		st.pending = append(st.pending, Delta{ToolCall: st.calls[i]})
	}
	st.calls = map[int64]*dialogue.ToolCall{}
}

func (st *openaiStream) Close() error {
	st.cancel()
	return st.s.Close()
}
