package audio

import (
	"math"
	"time"
)

// GenerateTone returns 16-bit mono PCM of a sine wave.
func GenerateTone(d time.Duration, freq float64) []byte {
	samples := int(d * SampleRate / time.Second)
	pcm := make([]byte, samples*BytesPerSample)
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/SampleRate) * math.MaxInt16 / 4)
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(uint16(v) >> 8)
	}
	return pcm
}
