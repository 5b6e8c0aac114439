package bloom

import (
	"fmt"
	"sync"
	"testing"
)

func TestFactory_NewFilter(t *testing.T) {
	bf := NewFactory().New(128, 0.01)
	if bf == nil {
		t.Fatalf("expected non-nil bloom filter")
	}
	key := []byte("doubleclick.net")
	if bf.MightContain(key) {
		t.Fatalf("unexpected positive before add")
	}
	bf.Add(key)
	if !bf.MightContain(key) {
		t.Fatalf("expected maybe after add")
	}
}

func TestFactory_DefaultsStillUsable(t *testing.T) {
	bf := NewFactory().New(0, 0)
	key := []byte("default-case.test")
	bf.Add(key)
	if !bf.MightContain(key) {
		t.Fatalf("expected maybe after add with default-sized bloom")
	}
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	const n = 2000
	bf := NewFactory().New(n, 0.01)
	for i := 0; i < n; i++ {
		bf.Add([]byte(fmt.Sprintf("d%04d.ads.test", i)))
	}
	for i := 0; i < n; i++ {
		if !bf.MightContain([]byte(fmt.Sprintf("d%04d.ads.test", i))) {
			t.Fatalf("false negative for d%04d.ads.test", i)
		}
	}
}

func TestFilter_ConcurrentReadsDuringWrites(t *testing.T) {
	f := NewFactory().New(256, 0.01)

	var wg sync.WaitGroup
	done := make(chan struct{})
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10_000; i++ {
			f.Add(keys[i%3])
		}
		close(done)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = f.MightContain([]byte("probe"))
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkBloom_Negative(b *testing.B) {
	const n = 1000
	bf := NewFactory().New(n, 0.01)
	for i := 0; i < n; i++ {
		bf.Add([]byte(fmt.Sprintf("d%03d.present.test", i)))
	}
	absent := make([][]byte, n)
	for i := range absent {
		absent[i] = []byte(fmt.Sprintf("d%03d.absent.test", i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bf.MightContain(absent[i%n])
	}
}
