package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestInt16BytesToFloat32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		want []float32
	}{
		{
			name: "zero sample",
			pcm:  []byte{0x00, 0x00},
			want: []float32{0},
		},
		{
			name: "max positive",
			pcm:  []byte{0xFF, 0x7F},
			want: []float32{32767.0 / 32768.0},
		},
		{
			name: "max negative",
			pcm:  []byte{0x00, 0x80},
			want: []float32{-1},
		},
		{
			name: "trailing odd byte dropped",
			pcm:  []byte{0x00, 0x00, 0x42},
			want: []float32{0},
		},
		{
			name: "empty",
			pcm:  nil,
			want: []float32{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Int16BytesToFloat32(tc.pcm)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tc.want[i])) > 1e-6 {
					t.Errorf("sample %d = %f, want %f", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestFloat32ToInt16Bytes_Clamps(t *testing.T) {
	t.Parallel()

	out := Float32ToInt16Bytes([]float32{2.0, -2.0})
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	hi := int16(out[0]) | int16(out[1])<<8
	lo := int16(out[2]) | int16(out[3])<<8
	if hi != 32767 {
		t.Errorf("positive overflow clamped to %d, want 32767", hi)
	}
	if lo != -32767 {
		t.Errorf("negative overflow clamped to %d, want -32767", lo)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC, 0xFF, 0x7F}
	samples := Int16BytesToFloat32(pcm)
	back := Float32ToInt16Bytes(samples)

	// Round trip through float32 loses at most one LSB per sample.
	for i := 0; i+1 < len(pcm); i += 2 {
		orig := int16(pcm[i]) | int16(pcm[i+1])<<8
		got := int16(back[i]) | int16(back[i+1])<<8
		diff := int(orig) - int(got)
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: %d → %d, drift > 1 LSB", i/2, orig, got)
		}
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 1, -1, 0.123456}
	data := Float32ToBytes(in)
	if len(data) != len(in)*4 {
		t.Fatalf("len = %d, want %d", len(data), len(in)*4)
	}
	out := BytesToFloat32(data)
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("sample %d = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0x01, 0xFE, 0xFF, 0x80}
	enc := EncodeBase64(raw)
	dec, err := DecodeBase64(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(raw, dec) {
		t.Errorf("round trip = %v, want %v", dec, raw)
	}
}

func TestDecodeBase64_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := DecodeBase64("not!!valid@@base64"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate returns input unchanged", func(t *testing.T) {
		t.Parallel()
		pcm := []byte{1, 0, 2, 0, 3, 0}
		got := ResampleMono16(pcm, 16000, 16000)
		if !bytes.Equal(got, pcm) {
			t.Error("expected input returned unchanged")
		}
	})

	t.Run("downsample halves sample count", func(t *testing.T) {
		t.Parallel()
		pcm := make([]byte, 200) // 100 samples
		got := ResampleMono16(pcm, 32000, 16000)
		if len(got) != 100 {
			t.Errorf("len = %d, want 100", len(got))
		}
	})

	t.Run("upsample doubles sample count", func(t *testing.T) {
		t.Parallel()
		pcm := make([]byte, 200)
		got := ResampleMono16(pcm, 16000, 32000)
		if len(got) != 400 {
			t.Errorf("len = %d, want 400", len(got))
		}
	})

	t.Run("invalid rates return input", func(t *testing.T) {
		t.Parallel()
		pcm := []byte{1, 0}
		if got := ResampleMono16(pcm, 0, 16000); !bytes.Equal(got, pcm) {
			t.Error("zero src rate should return input")
		}
	})
}
