package adapter

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/deckd/deckd/pkg/jsontime"
	"github.com/deckd/deckd/pkg/modality"
)

// Confidence assigned to vision-language output. Model responses to a direct
// question are trusted more than unsolicited scene descriptions.
const (
	confAnswer     = 0.8
	confAnnotation = 0.6
)

// scenePrompt asks the model for machine-readable scene tags.
const scenePrompt = `List the salient objects visible in this image as a JSON array of short lowercase tags, e.g. ["person","bottle"]. Respond with the JSON array only.`

// VisionLanguage drives the local vision-language inference server through
// its OpenAI-compatible API. Unlike the audio and gesture channels it is
// request-initiated: answers to user questions and scene descriptions come
// back as events on the same normalized stream.
//
// An in-flight query can be cancelled without tearing down the client.
type VisionLanguage struct {
	client openai.Client
	model  string
	opts   options

	events    chan *modality.Event
	closeCh   chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc

	seq atomic.Uint64

	mu        sync.Mutex
	status    modality.Status
	heartbeat time.Time
	failures  int

	qmu     sync.Mutex
	queries map[string]context.CancelFunc
}

// NewVisionLanguage creates an adapter for the server at baseURL (e.g.
// "http://127.0.0.1:8080/v1"). Local servers ignore the API key.
func NewVisionLanguage(ctx context.Context, baseURL, model string, opts ...Option) *VisionLanguage {
	ctx, cancel := context.WithCancel(ctx)
	o := buildOptions(opts)
	v := &VisionLanguage{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey("local"),
		),
		model:   model,
		opts:    o,
		events:  make(chan *modality.Event, o.queueSize),
		closeCh: make(chan struct{}),
		cancel:  cancel,
		status:  modality.StatusDown,
		queries: make(map[string]context.CancelFunc),
	}
	go v.probeLoop(ctx)
	return v
}

// Events implements Adapter.
func (v *VisionLanguage) Events() iter.Seq2[*modality.Event, error] {
	return func(yield func(*modality.Event, error) bool) {
		for {
			select {
			case <-v.closeCh:
				return
			case ev, ok := <-v.events:
				if !ok {
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

// Health implements Adapter.
func (v *VisionLanguage) Health() modality.Health {
	v.mu.Lock()
	defer v.mu.Unlock()
	return modality.Health{
		Source:        modality.SourceVisionLanguage,
		LastHeartbeat: jsontime.Milli(v.heartbeat),
		Status:        v.status,
	}
}

// Close implements Adapter.
func (v *VisionLanguage) Close() error {
	v.closeOnce.Do(func() {
		v.qmu.Lock()
		for _, cancel := range v.queries {
			cancel()
		}
		v.queries = map[string]context.CancelFunc{}
		v.qmu.Unlock()
		v.cancel()
		close(v.closeCh)
	})
	return nil
}

// Ask submits a user question to the model. The answer arrives later as a
// KindAnswer event on the stream. queryID ties the request to the command
// that initiated it and is the handle for Cancel.
func (v *VisionLanguage) Ask(ctx context.Context, queryID, prompt, imageURL string) {
	qctx, cancel := context.WithCancel(ctx)
	v.qmu.Lock()
	v.queries[queryID] = cancel
	v.qmu.Unlock()

	go func() {
		defer func() {
			cancel()
			v.qmu.Lock()
			delete(v.queries, queryID)
			v.qmu.Unlock()
		}()

		text, err := v.complete(qctx, prompt, imageURL)
		if err != nil {
			if qctx.Err() != nil {
				slog.Debug("query cancelled", "query_id", queryID)
				return
			}
			slog.Warn("vision-language query failed", "query_id", queryID, "error", err)
			return
		}
		ev := modality.NewEvent(modality.SourceVisionLanguage, modality.KindAnswer, text, confAnswer)
		ev.Seq = v.seq.Add(1)
		v.deliver(ev)
	}()
}

// Cancel aborts the in-flight query with the given ID. The client connection
// stays up.
func (v *VisionLanguage) Cancel(queryID string) {
	v.qmu.Lock()
	cancel, ok := v.queries[queryID]
	delete(v.queries, queryID)
	v.qmu.Unlock()
	if ok {
		cancel()
	}
}

// Describe asks the model for scene tags of the given image and emits one
// KindAnnotation event per tag.
func (v *VisionLanguage) Describe(ctx context.Context, imageURL string) {
	go func() {
		text, err := v.complete(ctx, scenePrompt, imageURL)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("scene description failed", "error", err)
			}
			return
		}
		for _, tag := range parseSceneTags(text) {
			ev := modality.NewEvent(modality.SourceVisionLanguage, modality.KindAnnotation, tag, confAnnotation)
			ev.Seq = v.seq.Add(1)
			v.deliver(ev)
		}
	}()
}

// complete runs one chat completion and updates channel health from the
// outcome.
func (v *VisionLanguage) complete(ctx context.Context, prompt, imageURL string) (string, error) {
	var msg openai.ChatCompletionMessageParamUnion
	if imageURL != "" {
		msg = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: imageURL,
			}),
		})
	} else {
		msg = openai.UserMessage(prompt)
	}

	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(v.model),
		Messages: []openai.ChatCompletionMessageParamUnion{msg},
	})
	if err != nil {
		v.markFailure()
		return "", err
	}
	v.markSuccess()

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// probeLoop keeps health current while no queries are flowing by polling the
// server's model listing.
func (v *VisionLanguage) probeLoop(ctx context.Context) {
	interval := 5 * v.opts.heartbeat
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	v.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeCh:
			return
		case <-ticker.C:
			v.probe(ctx)
		}
	}
}

func (v *VisionLanguage) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, v.opts.heartbeat)
	defer cancel()
	if _, err := v.client.Models.List(pctx); err != nil {
		v.markFailure()
		return
	}
	v.markSuccess()
}

func (v *VisionLanguage) markSuccess() {
	v.mu.Lock()
	changed := v.status != modality.StatusUp
	v.failures = 0
	v.status = modality.StatusUp
	v.heartbeat = time.Now()
	v.mu.Unlock()
	if changed {
		slog.Info("channel status", "source", modality.SourceVisionLanguage, "status", modality.StatusUp)
	}
}

func (v *VisionLanguage) markFailure() {
	v.mu.Lock()
	v.failures++
	st := modality.StatusDegraded
	if v.failures >= 3 {
		st = modality.StatusDown
	}
	changed := v.status != st
	v.status = st
	v.mu.Unlock()
	if changed {
		slog.Info("channel status", "source", modality.SourceVisionLanguage, "status", st)
	}
}

func (v *VisionLanguage) deliver(ev *modality.Event) {
	select {
	case <-v.closeCh:
	case v.events <- ev:
	default:
		slog.Debug("shedding stale event", "source", modality.SourceVisionLanguage, "id", ev.ID)
	}
}

// parseSceneTags extracts object tags from a model response. Local models
// frequently emit slightly broken JSON; it is repaired before parsing, and
// a bare comma-separated list is accepted as a fallback.
func parseSceneTags(text string) []string {
	if text == "" {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err == nil {
		var tags []string
		if json.Unmarshal([]byte(repaired), &tags) == nil {
			return normalizeTags(tags)
		}
	}
	return normalizeTags(strings.Split(text, ","))
}

func normalizeTags(raw []string) []string {
	var out []string
	for _, t := range raw {
		t = strings.ToLower(strings.Trim(t, " \t\n\"'[]"))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
