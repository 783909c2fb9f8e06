package buffers

import "testing"

func TestGetReturnsRequestedSize(t *testing.T) {
	buf := Get(1024)
	defer Put(buf)
	if len(*buf) != 1024 {
		t.Fatalf("got len %d, want 1024", len(*buf))
	}
}

func TestPutThenGetReusesBuffer(t *testing.T) {
	first := Get(2048)
	Put(first)

	second := Get(2048)
	if first != second {
		t.Error("expected Get after Put to return the pooled buffer")
	}
}

func TestDistinctSizesUseDistinctPools(t *testing.T) {
	small := Get(512)
	large := Get(4096)
	if len(*small) == len(*large) {
		t.Fatal("expected distinct sizes")
	}
	Put(small)
	Put(large)
}

func TestPutNilDoesNotPanic(t *testing.T) {
	Put(nil)
}

func TestConcurrentAccess(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	done := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				buf := Get(65536)
				(*buf)[0] = byte(j)
				Put(buf)
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
}
