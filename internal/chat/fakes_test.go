package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/telehealth-ai-platform/internal/audio"
	"github.com/wolfman30/telehealth-ai-platform/internal/realtime"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/internal/turn"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type textCall struct {
	system  string
	history []session.Message
}

type fakeTextModel struct {
	replies []string
	err     error
	calls   []textCall
}

func (f *fakeTextModel) Generate(_ context.Context, system string, history []session.Message) (string, error) {
	f.calls = append(f.calls, textCall{system: system, history: history})
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "Tell me more.", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

type fakeTranscoder struct {
	log *callLog
	out []byte
	err error
	// started and release, when set, hold Transcode until the test lets go.
	started chan struct{}
	release chan struct{}
}

func (f *fakeTranscoder) Transcode(_ context.Context, in []byte) ([]byte, error) {
	f.log.add("transcode")
	if f.release != nil {
		close(f.started)
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return []byte{0, 1, 0, 2}, nil
}

// scriptedChannel answers every Send synchronously through respond.
type scriptedChannel struct {
	log     *callLog
	queue   *realtime.Queue
	respond func(p realtime.Payload, q *realtime.Queue)
	sendErr error

	mu     sync.Mutex
	sent   []realtime.Payload
	closed int
}

func (c *scriptedChannel) Send(_ context.Context, p realtime.Payload) error {
	c.log.add("send")
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, p)
	c.mu.Unlock()
	if c.respond != nil {
		c.respond(p, c.queue)
	}
	return nil
}

func (c *scriptedChannel) Queue() *realtime.Queue { return c.queue }

func (c *scriptedChannel) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	c.queue.Close(nil)
	return nil
}

func (c *scriptedChannel) payloads() []realtime.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Payload(nil), c.sent...)
}

type fakeDialer struct {
	log      *callLog
	respond  func(p realtime.Payload, q *realtime.Queue)
	openErr  error
	opens    []realtime.OpenOptions
	channels []*scriptedChannel
}

func (d *fakeDialer) Open(_ context.Context, opts realtime.OpenOptions) (realtime.Channel, error) {
	d.log.add("open")
	d.opens = append(d.opens, opts)
	if d.openErr != nil {
		return nil, &realtime.ChannelOpenError{Stage: "dial", Err: d.openErr}
	}
	ch := &scriptedChannel{log: d.log, queue: realtime.NewQueue(), respond: d.respond}
	d.channels = append(d.channels, ch)
	return ch, nil
}

// audioReply pushes one audio fragment, a transcription and turnComplete.
func audioReply(transcript string) func(realtime.Payload, *realtime.Queue) {
	data := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	return func(_ realtime.Payload, q *realtime.Queue) {
		q.AppendAudio(realtime.Fragment{Data: data, MimeType: "audio/pcm;rate=24000"})
		q.Push(realtime.Event{Message: realtime.ServerMessage{ServerContent: &realtime.ServerContent{
			ModelTurn: &realtime.ModelTurn{Parts: []realtime.Part{{InlineData: &realtime.InlineData{MimeType: "audio/pcm;rate=24000", Data: data}}}},
		}}})
		if transcript != "" {
			q.Push(realtime.Event{Message: realtime.ServerMessage{ServerContent: &realtime.ServerContent{
				OutputTranscription: &realtime.Transcription{Text: transcript},
			}}})
		}
		q.Push(realtime.Event{Message: realtime.ServerMessage{ServerContent: &realtime.ServerContent{TurnComplete: true}}})
	}
}

type recordingNotifier struct {
	records  []summary.Record
	onNotify func(summary.Record)
}

func (n *recordingNotifier) NotifySummary(_ context.Context, rec summary.Record) {
	n.records = append(n.records, rec)
	if n.onNotify != nil {
		n.onNotify(rec)
	}
}

type memoryMirror struct {
	mu    sync.Mutex
	saved map[string][]session.Message
	err   error
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{saved: make(map[string][]session.Message)}
}

func (m *memoryMirror) Save(_ context.Context, id string, h []session.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved[id] = h
	return nil
}

func (m *memoryMirror) Load(_ context.Context, id string) ([]session.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.saved[id]
	if !ok {
		return nil, session.ErrHistoryNotFound
	}
	return h, nil
}

type failingSummaries struct{ err error }

func (f failingSummaries) Save(context.Context, summary.Record) error { return f.err }

// flakySummaries fails the first failures saves, then delegates to store.
type flakySummaries struct {
	failures int
	store    *summary.MemoryStore
	attempts []summary.Record
}

func (f *flakySummaries) Save(ctx context.Context, rec summary.Record) error {
	f.attempts = append(f.attempts, rec)
	if f.failures > 0 {
		f.failures--
		return errBoom
	}
	return f.store.Save(ctx, rec)
}

type harness struct {
	log        *callLog
	registry   *session.Registry
	text       *fakeTextModel
	transcoder *fakeTranscoder
	dialer     *fakeDialer
	summaries  *summary.MemoryStore
	notifier   *recordingNotifier
	mirror     *memoryMirror
	service    *Service
}

type harnessOption func(*ServiceConfig)

func newHarness(opts ...harnessOption) *harness {
	log := &callLog{}
	h := &harness{
		log:        log,
		registry:   session.NewRegistry(session.Config{Logger: logging.Discard()}),
		text:       &fakeTextModel{},
		transcoder: &fakeTranscoder{log: log},
		dialer:     &fakeDialer{log: log, respond: audioReply("")},
		summaries:  summary.NewMemoryStore(),
		notifier:   &recordingNotifier{},
		mirror:     newMemoryMirror(),
	}
	cfg := ServiceConfig{
		Registry:      h.registry,
		TextModel:     h.text,
		Dialer:        h.dialer,
		Transcoder:    h.transcoder,
		Summaries:     h.summaries,
		Notifier:      h.notifier,
		History:       h.mirror,
		Assembler:     turn.Assembler{Timeout: time.Second},
		Container:     turn.ContainerWAV,
		InputMIMEType: audio.ChannelFormat.MIMEType(),
		Logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.service = NewService(cfg)
	return h
}

var errBoom = errors.New("boom")
