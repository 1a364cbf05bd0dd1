package pipeline

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

// AsrBackend is the narrow surface PipelineController needs from an ASR
// provider, letting AsrClient's WebSocket backend and a direct Google Cloud
// Speech backend sit behind the same call sites.
type AsrBackend interface {
	Connect(ctx context.Context) error
	Send(frame []byte)
	Close()
	State() AsrState
}

var _ AsrBackend = (*AsrClient)(nil)

// GoogleAsrBackend streams 16kHz PCM16LE audio to Google Cloud Speech-to-Text
// and projects the response stream onto AsrCallbacks, generalizing the
// teacher's named-engine Router[T] into a second AsrBackend implementation.
type GoogleAsrBackend struct {
	client   *speech.Client
	language string
	altLangs []string
	cb       AsrCallbacks

	stream     speechpb.Speech_StreamingRecognizeClient
	cancel     context.CancelFunc
	state      AsrState
	lastEndMs  uint64 // ResultEndTime of the previous final result, chained as the next segment's StartMs
}

// NewGoogleAsrBackend builds a backend bound to a primary language plus
// optional alternative languages for auto-detection.
func NewGoogleAsrBackend(ctx context.Context, language string, altLangs []string, cb AsrCallbacks) (*GoogleAsrBackend, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleAsrBackend{client: client, language: language, altLangs: altLangs, cb: cb, state: AsrDisconnected}, nil
}

// Connect opens the streaming session, sends the initial config, and starts
// the background receive loop.
func (b *GoogleAsrBackend) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	stream, err := b.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		aerr := NewError(ErrorTransient, "google speech stream start failed", err)
		if b.cb.OnError != nil {
			b.cb.OnError(aerr)
		}
		return aerr
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            16000,
					LanguageCode:               b.language,
					AlternativeLanguageCodes:   b.altLangs,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		cancel()
		aerr := NewError(ErrorTransient, "google speech config send failed", err)
		if b.cb.OnError != nil {
			b.cb.OnError(aerr)
		}
		return aerr
	}

	b.stream = stream
	b.state = AsrOpen
	go b.recvLoop()
	return nil
}

func (b *GoogleAsrBackend) recvLoop() {
	// segSeq identifies the current utterance: Google streams many interim
	// results before the one final result that closes it out, so the id must
	// stay stable across that whole run and only advance once the utterance
	// finalizes (spec §4.2 ordering relies on a stable per-segment id).
	segSeq := 0
	for {
		resp, err := b.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			b.state = AsrDisconnected
			if b.cb.OnError != nil {
				b.cb.OnError(NewError(ErrorTransient, "google speech recv failed", err))
			}
			return
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			segmentID := fmt.Sprintf("gspeech-%d", segSeq)
			if result.IsFinal {
				endMs := b.lastEndMs
				if result.ResultEndTime != nil {
					endMs = uint64(result.ResultEndTime.AsDuration().Milliseconds())
				}
				startMs := b.lastEndMs
				b.lastEndMs = endMs
				if b.cb.OnFinal != nil {
					b.cb.OnFinal(AsrFinal{SegmentID: segmentID, Text: alt.Transcript, Confidence: alt.Confidence, StartMs: startMs, EndMs: endMs})
				}
				segSeq++
			} else if b.cb.OnInterim != nil {
				b.cb.OnInterim(AsrInterim{SegmentID: segmentID, Text: alt.Transcript, Confidence: alt.Confidence})
			}
		}
	}
}

// Send writes one PCM16LE frame to the active stream, silently dropping it
// when not connected (matching AsrClient.Send's non-failing semantics).
func (b *GoogleAsrBackend) Send(frame []byte) {
	if b.state != AsrOpen || b.stream == nil {
		return
	}
	_ = b.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: frame},
	})
}

// Close ends the streaming session.
func (b *GoogleAsrBackend) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.state = AsrClosed
	_ = b.client.Close()
}

// State returns the current connection state.
func (b *GoogleAsrBackend) State() AsrState {
	return b.state
}

var _ AsrBackend = (*GoogleAsrBackend)(nil)
