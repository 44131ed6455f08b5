package chunkplan

import "testing"

func TestStaticChunkSizeTiers(t *testing.T) {
	cases := []struct {
		size int64
		want int64
	}{
		{1, tinyChunkSize},
		{tinyFileThreshold - 1, tinyChunkSize},
		{tinyFileThreshold, mediumChunkSize},
		{mediumFileThreshold - 1, mediumChunkSize},
		{mediumFileThreshold, largeChunkSize},
		{largeFileThreshold - 1, largeChunkSize},
		{largeFileThreshold, hugeChunkSize},
		{largeFileThreshold * 10, hugeChunkSize},
	}
	for _, c := range cases {
		if got := StaticChunkSize(c.size); got != c.want {
			t.Errorf("StaticChunkSize(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestPlanPartitionsWholeFile(t *testing.T) {
	const total = 23*1024*1024 + 17
	ranges := Plan(total, 5*1024*1024)

	if len(ranges) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if ranges[0].Start != 0 {
		t.Errorf("first chunk must start at 0, got %d", ranges[0].Start)
	}
	if ranges[len(ranges)-1].End != total {
		t.Errorf("last chunk must end at %d, got %d", total, ranges[len(ranges)-1].End)
	}

	var sum int64
	for i, r := range ranges {
		if r.Index != i {
			t.Errorf("chunk %d has index %d", i, r.Index)
		}
		if r.Start >= r.End {
			t.Errorf("chunk %d has non-positive size: %+v", i, r)
		}
		sum += r.Size()
	}
	if sum != total {
		t.Errorf("chunk sizes sum to %d, want %d", sum, total)
	}

	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start != ranges[i-1].End {
			t.Errorf("chunk %d is not contiguous with previous: %+v vs %+v", i, ranges[i-1], ranges[i])
		}
	}
}

func TestPlanZeroByteFile(t *testing.T) {
	if ranges := Plan(0, 1024); ranges != nil {
		t.Errorf("expected no chunks for a zero-byte file, got %v", ranges)
	}
}

func TestPlanUsesStaticSizeWhenChunkSizeUnset(t *testing.T) {
	ranges := Plan(10*1024*1024, 0)
	if len(ranges) == 0 {
		t.Fatal("expected chunks")
	}
	if ranges[0].Size() != tinyChunkSize && len(ranges) != 1 {
		t.Errorf("expected first chunk sized per static tier, got %d", ranges[0].Size())
	}
}

func TestRePlanRemainderContinuesIndices(t *testing.T) {
	const total = 100
	remainder := RePlanRemainder(40, total, 20, 2)
	if len(remainder) != 3 {
		t.Fatalf("expected 3 chunks of 20 covering 60 bytes, got %d", len(remainder))
	}
	if remainder[0].Index != 2 {
		t.Errorf("expected re-planned chunks to continue from index 2, got %d", remainder[0].Index)
	}
	if remainder[0].Start != 40 {
		t.Errorf("expected re-planned chunks to start at the given offset, got %d", remainder[0].Start)
	}
	if remainder[len(remainder)-1].End != total {
		t.Errorf("expected re-planned chunks to cover up to total size, got %d", remainder[len(remainder)-1].End)
	}
}
