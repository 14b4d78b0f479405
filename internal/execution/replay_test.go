package execution

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryReplaySetRemember(t *testing.T) {
	t.Parallel()

	set := NewMemoryReplaySet()
	hash := common.HexToHash("0x01")

	fresh, err := set.Remember(context.Background(), hash, time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first remember should be fresh: fresh=%v err=%v", fresh, err)
	}
	fresh, err = set.Remember(context.Background(), hash, time.Minute)
	if err != nil || fresh {
		t.Fatalf("second remember should hit: fresh=%v err=%v", fresh, err)
	}
}

func TestMemoryReplaySetExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	set := NewMemoryReplaySet()
	set.now = func() time.Time { return now }
	hash := common.HexToHash("0x02")

	if fresh, _ := set.Remember(context.Background(), hash, time.Minute); !fresh {
		t.Fatalf("first remember should be fresh")
	}

	now = now.Add(2 * time.Minute)
	if fresh, _ := set.Remember(context.Background(), hash, time.Minute); !fresh {
		t.Fatalf("expired entry should be treated as fresh")
	}
}

func TestMemoryReplaySetAmortizedSweep(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	set := NewMemoryReplaySet()
	set.now = func() time.Time { return now }
	set.sweepAt = 8

	for i := 0; i < 8; i++ {
		hash := common.BigToHash(common.Big1)
		hash[0] = byte(i + 1)
		if fresh, _ := set.Remember(context.Background(), hash, time.Second); !fresh {
			t.Fatalf("entry %d should be fresh", i)
		}
	}

	// 全部过期后，下一轮写满触发摊销清理。
	now = now.Add(time.Hour)
	for i := 0; i < 8; i++ {
		hash := common.BigToHash(common.Big2)
		hash[0] = byte(i + 100)
		if _, err := set.Remember(context.Background(), hash, time.Second); err != nil {
			t.Fatalf("remember failed: %v", err)
		}
	}

	set.mu.Lock()
	size := len(set.seen)
	set.mu.Unlock()
	if size > 8 {
		t.Fatalf("expired entries should have been swept, size=%d", size)
	}
}

func TestMemoryReplaySetRejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	set := NewMemoryReplaySet()
	if _, err := set.Remember(context.Background(), common.HexToHash("0x03"), 0); err == nil {
		t.Fatalf("expected error for zero TTL")
	}
}
