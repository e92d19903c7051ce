package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/asr"
	"yuzu/voicegw/internal/dialogue"
	"yuzu/voicegw/internal/intent"
	"yuzu/voicegw/internal/llm"
	"yuzu/voicegw/internal/tools"
	"yuzu/voicegw/internal/tts"
)

const (
	apology      = "Sorry, I ran into a problem. Could you say that again?"
	toolApology  = "Sorry, something went wrong while doing that."
	quotaNotice  = "Sorry, you've used up today's conversation allowance. Let's talk again tomorrow."
	exitGoodbye  = "Goodbye, talk to you soon."
	idleGoodbye  = "I haven't heard from you for a while, so I'll hang up now. Bye."
	wakeGreeting = "Hi, I'm listening."
)

func (s *Session) onAudio(ctx context.Context, frame []byte) {
	pcm, haveVoice, ok := s.deps.VAD.EvaluateFrame(s.vadState, s.dec, frame)
	if !ok {
		return
	}
	if s.mode == modeManual {
		haveVoice = s.listening
		s.vadState.VoiceStop = false
	}

	if haveVoice && !s.prevVoice {
		metricVADStarts.Inc()
		if d := s.floor.OnVADStart(time.Now().UnixMilli(), s.pending()); d.ShouldStop {
			s.interrupt(d.Reason)
		}
	}
	s.prevVoice = haveVoice
	if haveVoice {
		s.touch()
	}

	s.asr.Push(ctx, pcm, haveVoice)
	if s.vadState.VoiceStop {
		s.finishUtterance(ctx)
	}
}

func (s *Session) onText(ctx context.Context, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.log.Debug("ignoring malformed message", zap.Error(err))
		return
	}
	s.touch()
	switch in.Type {
	case msgHello:
		s.onHello(in)
	case msgListen:
		s.onListen(ctx, in)
	case msgAbort:
		if d := s.floor.OnAbort(s.pending()); d.ShouldStop {
			s.interrupt(d.Reason)
		}
	default:
		s.log.Debug("ignoring message", zap.String("type", in.Type))
	}
}

func (s *Session) onHello(in inbound) {
	if in.AudioParams != nil {
		f := in.AudioParams.format(s.opts.InputFormat)
		if dec, err := s.deps.NewCodec(f); err != nil {
			s.log.Warn("unsupported input format, keeping default", zap.String("format", f.Name), zap.Error(err))
		} else {
			s.dec = s.inputCodec(dec)
		}
	}
	s.send(outbound{Type: msgHello, Transport: "websocket", AudioParams: paramsOf(s.opts.OutputFormat)})
	s.event("hello", map[string]any{"version": in.Version})
}

func (s *Session) onListen(ctx context.Context, in inbound) {
	if in.Mode != "" {
		s.mode = in.Mode
	}
	switch in.State {
	case listenStart:
		if s.mode == modeManual {
			s.listening = true
			s.vadState.Reset()
			s.asr.Reset()
		}
	case listenStop:
		s.listening = false
		s.prevVoice = false
		s.finishUtterance(ctx)
	case listenDetect:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return
		}
		if matchesAny(text, s.opts.WakeupWords) {
			s.announce(wakeGreeting, false)
			return
		}
		s.startTurn(text)
	}
}

// finishUtterance hands the buffered utterance to ASR and starts a turn with
// whatever text comes back.
func (s *Session) finishUtterance(ctx context.Context) {
	text, err := s.asr.Finish(ctx)
	s.vadState.Reset()
	s.prevVoice = false
	if err != nil {
		metricUtterances.WithLabelValues("asr_error").Inc()
		if errors.Is(err, asr.ErrFatalChannel) {
			s.log.Warn("asr channel failed, utterance dropped", zap.Error(err))
		} else {
			s.log.Warn("asr failed, utterance dropped", zap.Error(err))
		}
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metricUtterances.WithLabelValues("empty").Inc()
		return
	}
	metricUtterances.WithLabelValues("text").Inc()
	s.startTurn(text)
}

// next supersedes whatever turn is in flight and returns the id of the new
// one. Units and frames of older ids are dropped from here on.
func (s *Session) next(reason string) (uint64, context.Context, context.CancelFunc, bool) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return 0, nil, nil, false
	}
	interrupted := s.turnCancel != nil || !s.worker.Idle()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	id := s.sentenceID.Add(1)
	ctx, cancel := context.WithCancel(s.ctx)
	s.turnCancel = cancel
	s.mu.Unlock()

	s.worker.Interrupt()
	if n := s.queue.DropStale(id); n > 0 || interrupted {
		metricInterrupts.WithLabelValues(reason).Inc()
	}
	return id, ctx, cancel, true
}

// interrupt stops the current turn without starting another.
func (s *Session) interrupt(reason string) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	id := s.sentenceID.Add(1)
	s.mu.Unlock()

	s.worker.Interrupt()
	dropped := s.queue.DropStale(id)
	s.floor.OnTTSStopped(id)
	s.send(outbound{Type: msgTTS, State: tts.StateStop})
	metricInterrupts.WithLabelValues(reason).Inc()
	s.event("interrupted", map[string]any{"reason": reason, "sentence_id": id, "dropped_units": dropped})
	s.log.Debug("turn interrupted", zap.String("reason", reason), zap.Uint64("sentence_id", id))
}

func (s *Session) finishTurn(id uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	if s.sentenceID.Load() == id {
		s.turnCancel = nil
	}
	s.mu.Unlock()
	s.touch()
}

func (s *Session) current(id uint64) bool { return s.sentenceID.Load() == id }

// startTurn runs one assistant turn for text in the background.
func (s *Session) startTurn(text string) {
	id, ctx, cancel, ok := s.next("new_turn")
	if !ok {
		return
	}
	s.group.Go(func() error {
		defer s.finishTurn(id, cancel)
		s.runTurn(ctx, id, text)
		return nil
	})
}

// announce speaks a fixed line as its own turn, without the LLM.
func (s *Session) announce(text string, closeAfter bool) {
	id, _, cancel, ok := s.next("announce")
	if !ok {
		return
	}
	defer s.finishTurn(id, cancel)
	if closeAfter {
		s.closeAfterPlayback(id)
	}
	s.queue.Push(tts.Unit{SentenceID: id, Sentence: tts.SentenceFirst})
	s.queue.Push(tts.Unit{SentenceID: id, Content: tts.ContentText, Text: text})
	s.queue.Push(tts.Unit{SentenceID: id, Sentence: tts.SentenceLast})
}

func (s *Session) closeAfterPlayback(id uint64) {
	s.mu.Lock()
	s.closeAfter = id
	s.mu.Unlock()
}

func (s *Session) runTurn(ctx context.Context, id uint64, text string) {
	s.turnStarted.Store(time.Now().UnixMilli())
	s.send(outbound{Type: msgSTT, Text: text})
	s.event("utterance", map[string]any{"text": text, "sentence_id": id})

	s.queue.Push(tts.Unit{SentenceID: id, Sentence: tts.SentenceFirst})
	defer s.queue.Push(tts.Unit{SentenceID: id, Sentence: tts.SentenceLast})

	if matchesAny(text, s.opts.ExitCommands) {
		metricTurns.WithLabelValues("exit").Inc()
		s.closeAfterPlayback(id)
		s.say(id, exitGoodbye)
		return
	}
	if s.overQuota(ctx) {
		metricTurns.WithLabelValues("quota").Inc()
		s.event("quota_exceeded", nil)
		s.send(outbound{Type: msgLLM, Text: "😔", Emotion: "sad"})
		s.queue.Push(tts.Unit{SentenceID: id, Content: tts.ContentText, Text: quotaNotice})
		return
	}

	n := s.userTurns.Add(1)
	history := s.dlg.Recent(s.opts.IntentHistory)
	s.dlg.Put(dialogue.Message{Role: dialogue.RoleUser, Content: text})

	dec, err := s.deps.Intent.Resolve(ctx, intent.Input{
		DeviceID: s.Identity.DeviceID,
		Text:     text,
		History:  history,
		Tools:    s.deps.Tools.Definitions(),
	})
	if err != nil {
		if ctx.Err() != nil {
			metricTurns.WithLabelValues("cancelled").Inc()
			return
		}
		s.log.Warn("intent resolution failed, continuing as chat", zap.Error(err))
	}

	switch dec.Kind {
	case intent.KindExit:
		metricTurns.WithLabelValues("exit").Inc()
		if len(dec.Calls) == 0 {
			s.closeAfterPlayback(id)
			s.say(id, exitGoodbye)
			break
		}
		s.runCalls(ctx, id, toToolCalls(dec.Calls), 0)
	case intent.KindTools:
		metricTurns.WithLabelValues("tools").Inc()
		s.runCalls(ctx, id, toToolCalls(dec.Calls), 0)
	case intent.KindContext:
		metricTurns.WithLabelValues("context").Inc()
		s.chat(ctx, id, false, 0)
	default:
		metricTurns.WithLabelValues("chat").Inc()
		s.dlg.StripToolTurns()
		s.chat(ctx, id, dec.ToolsInStream, 0)
	}

	if s.deps.Memory != nil && s.opts.SummarizeEvery > 0 && n%int64(s.opts.SummarizeEvery) == 0 {
		msgs := s.dlg.Messages()
		s.group.Go(func() error {
			if _, err := s.deps.Memory.Update(s.ctx, s.Identity.DeviceID, msgs); err != nil {
				s.log.Warn("memory update failed", zap.Error(err))
			}
			return nil
		})
	}
}

func (s *Session) overQuota(ctx context.Context) bool {
	if s.deps.Quota == nil || s.opts.DailyChars <= 0 {
		return false
	}
	over, err := s.deps.Quota.Exceeded(ctx, s.Identity.DeviceID, s.opts.DailyChars)
	if err != nil {
		s.log.Warn("quota check failed, allowing turn", zap.Error(err))
		return false
	}
	return over
}

func (s *Session) charge(text string) {
	if s.deps.Quota == nil || text == "" {
		return
	}
	if err := s.deps.Quota.Add(s.ctx, s.Identity.DeviceID, len([]rune(text))); err != nil {
		s.log.Warn("quota update failed", zap.Error(err))
	}
}

// say speaks text as part of turn id and records it as the assistant reply.
func (s *Session) say(id uint64, text string) {
	if text == "" || !s.current(id) {
		return
	}
	s.queue.Push(tts.Unit{SentenceID: id, Content: tts.ContentText, Text: text})
	s.dlg.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: text})
	s.charge(text)
}

// chat streams one LLM reply into the TTS queue. Tool calls that arrive in
// the stream are executed afterwards.
func (s *Session) chat(ctx context.Context, id uint64, withTools bool, round int) {
	req := llm.Request{
		Messages:  s.dlg.Render(s.memory, time.Now()),
		Model:     s.opts.Model,
		MaxTokens: s.opts.MaxTokens,
	}
	if withTools {
		req.Tools = s.deps.Tools.Definitions()
	}
	stream, err := s.deps.LLM.Stream(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			metricTurns.WithLabelValues("llm_error").Inc()
			s.log.Warn("llm stream failed", zap.Error(err))
			s.say(id, apology)
		}
		return
	}
	defer stream.Close()

	var reply strings.Builder
	var calls []dialogue.ToolCall
	for {
		d, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil || !s.current(id) {
				metricTurns.WithLabelValues("cancelled").Inc()
				return
			}
			metricTurns.WithLabelValues("llm_error").Inc()
			s.log.Warn("llm stream broke off", zap.Error(err), zap.Int("chars", reply.Len()))
			if reply.Len() == 0 {
				s.say(id, apology)
			}
			break
		}
		if !s.current(id) {
			return
		}
		if d.ToolCall != nil {
			calls = append(calls, *d.ToolCall)
			continue
		}
		if d.Text == "" {
			continue
		}
		if reply.Len() == 0 {
			metricFirstTextMS.Observe(float64(time.Now().UnixMilli() - s.turnStarted.Load()))
			emoji, emotion := tts.Emotion(d.Text)
			s.send(outbound{Type: msgLLM, Text: emoji, Emotion: emotion})
		}
		reply.WriteString(d.Text)
		s.queue.Push(tts.Unit{SentenceID: id, Content: tts.ContentText, Text: d.Text})
	}

	if text := reply.String(); text != "" && s.current(id) {
		s.dlg.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: text})
		s.charge(text)
	}
	if len(calls) > 0 {
		if round >= s.opts.MaxToolRounds {
			s.log.Warn("tool round limit reached", zap.Int("rounds", round))
			return
		}
		s.runCalls(ctx, id, calls, round)
	}
}

func toToolCalls(cs []intent.Call) []dialogue.ToolCall {
	out := make([]dialogue.ToolCall, 0, len(cs))
	for _, c := range cs {
		out = append(out, dialogue.ToolCall{ID: uuid.NewString(), Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

// runCalls executes tool calls in order. Every call gets a tool turn in the
// history; REQLLM results are then handed back to the LLM.
func (s *Session) runCalls(ctx context.Context, id uint64, calls []dialogue.ToolCall, round int) {
	s.dlg.Put(dialogue.Message{Role: dialogue.RoleAssistant, ToolCalls: calls})
	env := tools.Env{DeviceID: s.Identity.DeviceID, SessionID: s.ID, Now: time.Now()}
	again := false
	for _, c := range calls {
		if ctx.Err() != nil || !s.current(id) {
			return
		}
		res := s.deps.Tools.Execute(ctx, env, c.Name, c.Arguments)
		metricToolCalls.WithLabelValues(c.Name, res.Action.String()).Inc()
		s.event("tool_call", map[string]any{"name": c.Name, "action": res.Action.String()})

		content := res.Result
		if content == "" {
			content = res.Response
		}
		s.dlg.Put(dialogue.Message{Role: dialogue.RoleTool, ToolCallID: c.ID, Content: content})

		switch res.Action {
		case tools.ActionReqLLM:
			again = true
		case tools.ActionResponse, tools.ActionNotFound, tools.ActionNone:
			if res.Close {
				s.closeAfterPlayback(id)
			}
			s.say(id, res.Response)
		case tools.ActionError:
			s.log.Warn("tool failed", zap.String("tool", c.Name), zap.String("result", res.Result))
			s.say(id, toolApology)
		}
	}
	if again {
		s.chat(ctx, id, true, round+1)
	}
}

// sink receives the TTS worker's output for the session.
type sink struct{ s *Session }

func (k sink) State(id uint64, state, text string) {
	s := k.s
	switch state {
	case tts.StateStart:
		s.floor.OnTTSStarted(id, time.Now().UnixMilli())
	case tts.StateStop:
		s.floor.OnTTSStopped(id)
	}
	s.send(outbound{Type: msgTTS, State: state, Text: text})

	if state == tts.StateStop {
		s.mu.Lock()
		closing := s.closeAfter != 0 && s.closeAfter == id
		s.mu.Unlock()
		if closing {
			s.log.Info("closing after goodbye")
			go s.Close("goodbye")
		}
	}
}

func (k sink) Audio(id uint64, frame []byte) error {
	s := k.s
	if s.firstAudio.Swap(id) != id {
		s.floor.OnFirstAudio(id, time.Now().UnixMilli())
		metricFirstAudioMS.Observe(float64(time.Now().UnixMilli() - s.turnStarted.Load()))
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.tr.Write(ctx, true, frame)
}
