// Package turn collects realtime events into one model turn and extracts the
// reply the patient hears and reads.
package turn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/telehealth-ai-platform/internal/audio"
	"github.com/wolfman30/telehealth-ai-platform/internal/realtime"
)

// DefaultTimeout bounds how long a request waits for turnComplete.
const DefaultTimeout = 60 * time.Second

// ErrTurnTimeout is returned when the model does not complete its turn in time.
var ErrTurnTimeout = errors.New("turn: timed out waiting for model turn")

// Container selects how reply audio is packaged.
type Container string

const (
	// ContainerWAV decodes every fragment, joins the PCM and wraps it in a
	// WAV header.
	ContainerWAV Container = "wav"
	// ContainerPCM concatenates the base64 fragment strings as received.
	ContainerPCM Container = "pcm"
)

// ParseContainer maps a config value to a Container, defaulting to WAV.
func ParseContainer(s string) Container {
	if strings.EqualFold(strings.TrimSpace(s), string(ContainerPCM)) {
		return ContainerPCM
	}
	return ContainerWAV
}

// Turn is the ordered list of events up to and including turnComplete.
type Turn struct {
	Events []realtime.Event
}

// Assembler waits for complete turns.
type Assembler struct {
	Timeout time.Duration
}

// Await pops events from q in order until one is flagged turn-complete.
func (a Assembler) Await(ctx context.Context, q *realtime.Queue) (Turn, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var t Turn
	for {
		ev, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return t, ErrTurnTimeout
			}
			return t, fmt.Errorf("turn: await: %w", err)
		}
		t.Events = append(t.Events, ev)
		if ev.TurnComplete() {
			return t, nil
		}
	}
}

// Reply is what a completed turn says.
type Reply struct {
	Text     string
	Audio    string
	MIMEType string
}

// Extract builds the reply from a turn and the audio fragments drained from
// its queue. Fragments are used in arrival order.
func Extract(t Turn, fragments []realtime.Fragment, container Container) (Reply, error) {
	var text, transcript strings.Builder
	for _, ev := range t.Events {
		if part, ok := ev.FirstPart(); ok {
			text.WriteString(part.Text)
		}
		transcript.WriteString(ev.Transcription())
	}

	reply := Reply{Text: text.String()}
	if reply.Text == "" {
		reply.Text = transcript.String()
	}
	if len(fragments) == 0 {
		return reply, nil
	}

	rate := audio.ParseRate(fragments[0].MimeType, audio.ChannelFormat.SampleRate)
	if container == ContainerPCM {
		var b strings.Builder
		for _, f := range fragments {
			b.WriteString(f.Data)
		}
		reply.Audio = b.String()
		reply.MIMEType = audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16}.MIMEType()
		return reply, nil
	}

	var pcm []byte
	for i, f := range fragments {
		chunk, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return Reply{}, fmt.Errorf("turn: decode audio fragment %d: %w", i, err)
		}
		pcm = append(pcm, chunk...)
	}
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16})
	reply.Audio = base64.StdEncoding.EncodeToString(wav)
	reply.MIMEType = audio.MIMETypeWAV
	return reply, nil
}
