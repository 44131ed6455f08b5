package config

import "testing"

func TestChunkSizeBytesUnsetMeansDefault(t *testing.T) {
	cfg := &Config{}
	n, err := cfg.ChunkSizeBytes()
	if err != nil || n != 0 {
		t.Errorf("ChunkSizeBytes() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestChunkSizeBytesParsesHumanSizes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10MiB", 10 * 1024 * 1024},
		{"64M", 64 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
	}
	for _, c := range cases {
		cfg := &Config{ChunkSize: c.in}
		n, err := cfg.ChunkSizeBytes()
		if err != nil {
			t.Errorf("ChunkSizeBytes(%q): %v", c.in, err)
			continue
		}
		if n != c.want {
			t.Errorf("ChunkSizeBytes(%q) = %d, want %d", c.in, n, c.want)
		}
	}
}

func TestMaxBandwidthRejectsGarbage(t *testing.T) {
	cfg := &Config{MaxBandwidth: "fast"}
	if _, err := cfg.MaxBandwidthBytesPerSec(); err == nil {
		t.Error("expected an error for an unparseable bandwidth value")
	}
}
