package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

const (
	toneSampleRate = 22050
	toneFrequency  = 700.0
	toneAmplitude  = 0.5
	toneWordLength = 300 * time.Millisecond
)

// ToneRenderer stands in for a speech synthesizer on a bench setup: it
// renders a sine tone whose length follows the word count of the prompt.
type ToneRenderer struct{}

// Render writes a mono 16-bit tone WAV to out
func (ToneRenderer) Render(ctx context.Context, text string, lengthScale float64, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lengthScale <= 0 {
		lengthScale = 1
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return fmt.Errorf("tone renderer: empty text")
	}
	d := time.Duration(float64(words) * float64(toneWordLength) * lengthScale)
	return WriteToneWAV(out, d, toneFrequency, toneSampleRate)
}

// WriteToneWAV writes a mono 16-bit sine tone of length d
func WriteToneWAV(path string, d time.Duration, hz float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n := int(d.Seconds() * float64(sampleRate))
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		v := toneAmplitude * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate))
		buf.Data[i] = int(v * math.MaxInt16)
	}

	enc := gowav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return f.Close()
}
