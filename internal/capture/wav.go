package capture

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV renders raw 16-bit PCM frames to a WAV file.
func writeWAV(path string, pcm []byte, sampleRate, channels int, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("capture: create wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           decodeSamples(pcm, format),
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("capture: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("capture: finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("capture: close wav: %w", err)
	}
	return nil
}

// decodeSamples converts raw 16-bit frames into the int samples the
// encoder wants. s16ne is little-endian on every platform the capture
// command runs on here. A torn trailing byte is dropped.
func decodeSamples(pcm []byte, format string) []int {
	var order binary.ByteOrder = binary.LittleEndian
	if format == "s16be" {
		order = binary.BigEndian
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(order.Uint16(pcm[2*i:])))
	}
	return samples
}
