package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestPCMToFloat32Mono_Mono(t *testing.T) {
	pcm := make([]byte, 6)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(16384)))  // 0.5
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(-16384))) // -0.5
	binary.LittleEndian.PutUint16(pcm[4:], 0)

	got := pcmToFloat32Mono(pcm, 1)
	want := []float32{0.5, -0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("sample count = %d; want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32Mono_StereoDownmix(t *testing.T) {
	// One stereo frame: left = 16384 (0.5), right = -16384 (-0.5) → 0.
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(-16384)))

	got := pcmToFloat32Mono(pcm, 2)
	if len(got) != 1 {
		t.Fatalf("frame count = %d; want 1", len(got))
	}
	if math.Abs(float64(got[0])) > 1e-6 {
		t.Errorf("downmixed sample = %v; want 0", got[0])
	}
}

func TestPCMToFloat32Mono_TrailingPartialFrameIgnored(t *testing.T) {
	// 5 bytes = 1 stereo frame + 1 trailing byte.
	got := pcmToFloat32Mono(make([]byte, 5), 2)
	if len(got) != 1 {
		t.Fatalf("frame count = %d; want 1", len(got))
	}
}

func TestChunkDurationMs(t *testing.T) {
	tests := []struct {
		name       string
		bytes      int
		sampleRate int
		channels   int
		want       int
	}{
		{"one second 16k mono", 32000, 16000, 1, 1000},
		{"100ms 16k mono", 3200, 16000, 1, 100},
		{"one second 48k stereo", 192000, 48000, 2, 1000},
		{"zero rate", 3200, 0, 1, 0},
		{"zero channels", 3200, 16000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chunkDurationMs(make([]byte, tt.bytes), tt.sampleRate, tt.channels); got != tt.want {
				t.Errorf("chunkDurationMs = %d; want %d", got, tt.want)
			}
		})
	}
}
