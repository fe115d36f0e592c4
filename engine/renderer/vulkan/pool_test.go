package vulkan

import (
	"sync"
	"testing"
	"time"
)

func TestSafeCallGroupsDoNotBlockEachOther(t *testing.T) {
	pool := NewVulkanLockPool()
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = pool.SafeCall(ResourceManagement, func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = pool.SafeCall(DescriptorManagement, func() error { return nil })
		_ = pool.SafeQueueCall(0, func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a different group waited on a held lock")
	}
	close(release)
}

func TestSafeCallSerialisesOneGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeQueueCall(3, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d callers inside the queue lock at once", maxSeen)
	}
}
