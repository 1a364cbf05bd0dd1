package audio

import "fmt"

// Codec identifies the wire encoding of an inbound audio chunk. The lecture
// pipeline only ever sees PCM16LE microphone capture; Codec remains a type
// (rather than being inlined away) so AudioFramer's input boundary stays
// explicit about what it accepts.
type Codec string

const (
	CodecPCM Codec = "pcm"
)

// Decode converts encoded audio bytes to float32 PCM samples normalized to
// [-1, 1].
func Decode(data []byte, codec Codec, sampleRate int) ([]float32, int, error) {
	if codec == CodecPCM {
		return decodePCM(data), sampleRate, nil
	}
	return nil, 0, fmt.Errorf("unsupported codec: %s", codec)
}
