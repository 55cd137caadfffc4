package cache

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"resale-pricer/models"
	"resale-pricer/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func outcomeWith(n int) models.CrawlOutcome {
	o := models.CrawlOutcome{ID: fmt.Sprintf("crawl-%d", n)}
	for i := 0; i < n; i++ {
		o.Samples = append(o.Samples, models.Sample{
			Title:  fmt.Sprintf("갤럭시 S23 %d", i),
			Source: models.SourceBunjang,
			Price:  int64(500000 + i*1000),
		})
	}
	return o
}

func newTestCache(clock *fakeClock, opts ...Option) *Cache {
	base := []Option{
		WithClock(clock.Now),
		WithLogger(utils.NewLoggerTo(io.Discard, utils.LevelError)),
	}
	return New(append(base, opts...)...)
}

func TestKey(t *testing.T) {
	Convey("Key normalises case and whitespace", t, func() {
		So(Key("  iPhone   14 ", "256GB", "Smartphone"), ShouldEqual, "iphone 14|256gb|smartphone")
		So(Key("iphone 14", "256gb", "smartphone"), ShouldEqual, Key("IPHONE\t14", " 256GB ", "SMARTPHONE"))
		So(Key("아이폰 14", "", ""), ShouldEqual, "아이폰 14||")
		So(Key("a", "b", ""), ShouldNotEqual, Key("a b", "", ""))
	})
}

func TestCache(t *testing.T) {
	Convey("Given a cache with a controllable clock", t, func() {
		clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
		c := newTestCache(clock)
		key := Key("아이폰 14", "128GB", "smartphone")

		Convey("A stored outcome is returned intact before the TTL", func() {
			want := outcomeWith(5)
			So(c.Set(key, want), ShouldBeTrue)

			clock.Advance(DefaultTTL - time.Second)
			got, ok := c.Get(key)
			So(ok, ShouldBeTrue)
			So(got.ID, ShouldEqual, want.ID)
			So(got.Len(), ShouldEqual, 5)
			So(c.Stats().Hits, ShouldEqual, 1)
		})

		Convey("An entry is gone once its age reaches the TTL", func() {
			c.Set(key, outcomeWith(5))
			clock.Advance(DefaultTTL)

			_, ok := c.Get(key)
			So(ok, ShouldBeFalse)
			So(c.Len(), ShouldEqual, 0)
			So(c.Stats().Misses, ShouldEqual, 1)
			So(c.Stats().Evictions, ShouldEqual, 1)
		})

		Convey("Outcomes below the minimum sample count are not stored", func() {
			So(c.Set(key, outcomeWith(2)), ShouldBeFalse)
			_, ok := c.Get(key)
			So(ok, ShouldBeFalse)

			So(c.Set(key, outcomeWith(3)), ShouldBeTrue)
			_, ok = c.Get(key)
			So(ok, ShouldBeTrue)
		})

		Convey("Invalidate and Clear remove entries", func() {
			c.Set(key, outcomeWith(4))
			c.Set("other||", outcomeWith(4))
			c.Invalidate(key)
			So(c.Len(), ShouldEqual, 1)

			c.Clear()
			So(c.Len(), ShouldEqual, 0)
			So(c.Stats(), ShouldResemble, Stats{})
		})

		Convey("Sweep drops only expired entries", func() {
			c.Set("old||", outcomeWith(3))
			clock.Advance(6 * time.Minute)
			c.Set("new||", outcomeWith(3))
			clock.Advance(5 * time.Minute)

			So(c.Sweep(), ShouldEqual, 1)
			_, ok := c.Get("new||")
			So(ok, ShouldBeTrue)
		})
	})
}

func TestCacheEviction(t *testing.T) {
	Convey("Given a full cache of capacity 3", t, func() {
		clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
		c := newTestCache(clock, WithCapacity(3))

		for i := 0; i < 3; i++ {
			c.Set(fmt.Sprintf("k%d||", i), outcomeWith(3))
			clock.Advance(30 * time.Second)
		}

		Convey("The oldest unused entry is evicted first", func() {
			c.Set("k3||", outcomeWith(3))
			So(c.Len(), ShouldEqual, 3)
			_, ok := c.Get("k0||")
			So(ok, ShouldBeFalse)
			_, ok = c.Get("k1||")
			So(ok, ShouldBeTrue)
		})

		Convey("Hits protect an old entry", func() {
			// k0 is 60s older than k2; two hits move it 120s younger.
			c.Get("k0||")
			c.Get("k0||")
			c.Set("k3||", outcomeWith(3))

			_, ok := c.Get("k0||")
			So(ok, ShouldBeTrue)
			_, ok = c.Get("k1||")
			So(ok, ShouldBeFalse)
		})

		Convey("Overwriting an existing key evicts nothing", func() {
			c.Set("k1||", outcomeWith(4))
			So(c.Len(), ShouldEqual, 3)
			So(c.Stats().Evictions, ShouldEqual, 0)
		})
	})
}

func TestCacheSweepLoop(t *testing.T) {
	Convey("The background sweep removes expired entries until closed", t, func() {
		clock := &fakeClock{now: time.Now()}
		c := newTestCache(clock, WithTTL(time.Minute), WithSweepInterval(10*time.Millisecond))
		c.Set("k||", outcomeWith(3))
		clock.Advance(2 * time.Minute)

		c.Start()
		c.Start()
		deadline := time.Now().Add(2 * time.Second)
		for c.Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		So(c.Len(), ShouldEqual, 0)

		c.Close()
		c.Close()
	})

	Convey("Close without Start returns immediately", t, func() {
		c := New(WithLogger(utils.NewLoggerTo(io.Discard, utils.LevelError)))
		done := make(chan struct{})
		go func() {
			c.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Close blocked without Start")
		}
	})
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(WithLogger(utils.NewLoggerTo(io.Discard, utils.LevelError)), WithCapacity(10))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d||", i%15)
			c.Set(key, outcomeWith(3))
			c.Get(key)
		}(i)
	}
	wg.Wait()
	if c.Len() > 10 {
		t.Errorf("cache grew past capacity: %d", c.Len())
	}
}
