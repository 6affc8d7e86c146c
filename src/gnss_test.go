package hpgmux

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeReceiver records what the pipeline did to it.
type fakeReceiver struct {
	detectOK bool
	pushOK   bool
	modeOK   bool

	detects int
	pushed  [][]byte
	modes   []UseSource

	// Push fails from this call on, counting from 1.  0 means never.
	failPushAt int
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{detectOK: true, pushOK: true, modeOK: true}
}

func (r *fakeReceiver) Detect() bool {
	r.detects++
	return r.detectOK
}

func (r *fakeReceiver) Push(data []byte) bool {
	if !r.pushOK || (r.failPushAt > 0 && len(r.pushed)+1 >= r.failPushAt) {
		return false
	}

	r.pushed = append(r.pushed, append([]byte(nil), data...))

	return true
}

func (r *fakeReceiver) SetActiveSourceMode(mode UseSource) bool {
	r.modes = append(r.modes, mode)
	return r.modeOK
}

type fakeKeys struct {
	key []byte
}

func (k *fakeKeys) Get() []byte {
	return k.key
}

type captureRecord struct {
	src, active Source
	size        int
	mode        UseSource
}

type fakeCapture struct {
	mu      sync.Mutex
	records []captureRecord
}

func (c *fakeCapture) Record(_ time.Time, src Source, size int, active Source, mode UseSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, captureRecord{src: src, active: active, size: size, mode: mode})
}

func newTestGnss(t *testing.T, rx Receiver, opts GnssOptions) *Gnss {
	t.Helper()

	var logger, _ = newTestLogger(t)

	return NewGnss(rx, opts, logger, t0)
}

// onlineGnss returns a pipeline that has detected its receiver.
func onlineGnss(t *testing.T, rx *fakeReceiver, opts GnssOptions) *Gnss {
	t.Helper()

	var g = newTestGnss(t, rx, opts)
	g.Poll(t0)
	require.True(t, g.Online())

	return g
}

func TestGnss_InjectReturnsSize(t *testing.T) {
	var g = newTestGnss(t, newFakeReceiver(), GnssOptions{})

	assert.Equal(t, 5, g.Inject([]byte("hello"), SourceWLAN))
	assert.Zero(t, g.Inject(nil, SourceWLAN), "nothing to allocate")
	assert.Equal(t, 1, g.Queued())

	g.Close()
}

func TestGnss_QueueFull(t *testing.T) {
	var before = CorrectionCounters()

	var logger, out = newTestLogger(t)
	var g = NewGnss(newFakeReceiver(), GnssOptions{}, logger, t0)

	for i := 0; i < 10; i++ {
		assert.Equal(t, 1, g.Inject([]byte{byte(i)}, SourceLTE))
	}

	assert.Zero(t, g.Inject([]byte{10}, SourceLTE))
	assert.Contains(t, out.String(), "queue full")
	assert.Equal(t, uint64(1), g.Stats().Dropped)

	g.Close()

	assert.Equal(t, before.Outstanding(), CorrectionCounters().Outstanding())
}

func TestGnss_OfflineDoesNotDrain(t *testing.T) {
	var rx = newFakeReceiver()
	rx.detectOK = false

	var g = newTestGnss(t, rx, GnssOptions{})
	g.Inject([]byte{1}, SourceWLAN)

	g.Poll(t0)

	assert.False(t, g.Online())
	assert.Empty(t, rx.pushed)
	assert.Equal(t, 1, g.Queued())

	g.Close()
}

func TestGnss_DetectRetryInterval(t *testing.T) {
	var rx = newFakeReceiver()
	rx.detectOK = false

	var g = newTestGnss(t, rx, GnssOptions{})

	g.Poll(t0)
	g.Poll(t0.Add(500 * time.Millisecond))
	assert.Equal(t, 1, rx.detects)

	g.Poll(t0.Add(1000 * time.Millisecond))
	assert.Equal(t, 2, rx.detects)

	// Hot-plug asks for it now.
	g.RequestDetect()
	g.Poll(t0.Add(1100 * time.Millisecond))
	assert.Equal(t, 3, rx.detects)
}

func TestGnss_DrainsInOrder(t *testing.T) {
	var rx = newFakeReceiver()
	var capture = new(fakeCapture)
	var g = onlineGnss(t, rx, GnssOptions{Capture: capture})

	g.Inject([]byte{1}, SourceLTE)
	g.Inject([]byte{2}, SourceLTE)
	g.Inject([]byte{3}, SourceOther)

	g.Poll(t0.Add(time.Millisecond))

	assert.Equal(t, [][]byte{{1}, {2}, {3}}, rx.pushed)
	assert.Equal(t, []UseSource{UseSourceSPARTN}, rx.modes, "configured once on the first LTE message")
	assert.Equal(t, 0, g.Queued())
	assert.Equal(t, SourceLTE, g.ActiveSource())

	require.Len(t, capture.records, 3)
	assert.Equal(t, captureRecord{src: SourceOther, active: SourceLTE, size: 1, mode: UseSourceSPARTN}, capture.records[2])
}

func TestGnss_PushFailureHalts(t *testing.T) {
	var before = CorrectionCounters()

	var rx = newFakeReceiver()
	rx.failPushAt = 2

	var logger, out = newTestLogger(t)
	var g = NewGnss(rx, GnssOptions{ReplayAfterReconnect: true}, logger, t0)
	g.Poll(t0)

	for i := 1; i <= 4; i++ {
		g.Inject([]byte{byte(i)}, SourceWLAN)
	}

	g.Poll(t0.Add(time.Millisecond))

	assert.False(t, g.Online())
	assert.Equal(t, [][]byte{{1}}, rx.pushed)
	assert.Equal(t, 2, g.Queued(), "the rest stays queued")
	assert.Contains(t, out.String(), "inject failed")

	// Nothing forwarded while offline and not re-detected.
	rx.detectOK = false
	rx.failPushAt = 0
	g.Poll(t0.Add(2 * time.Millisecond))
	assert.Len(t, rx.pushed, 1)

	// Re-detected: kept corrections go out.
	rx.detectOK = true
	g.Poll(t0.Add(2 * time.Second))
	assert.True(t, g.Online())
	assert.Equal(t, [][]byte{{1}, {3}, {4}}, rx.pushed)

	var stats = g.Stats()
	assert.Equal(t, uint64(1), stats.PushFailed)
	assert.Equal(t, uint64(3), stats.Pushed)
	assert.Equal(t, uint64(2), stats.Detections)

	assert.Equal(t, before.Outstanding(), CorrectionCounters().Outstanding())
	assert.Equal(t, before.DoubleReleased, CorrectionCounters().DoubleReleased)
}

func TestGnss_StaleFlushedOnReconnect(t *testing.T) {
	var before = CorrectionCounters()

	var rx = newFakeReceiver()
	rx.pushOK = false

	var g = onlineGnss(t, rx, GnssOptions{})

	g.Inject([]byte{1}, SourceWLAN)
	g.Inject([]byte{2}, SourceWLAN)
	g.Poll(t0.Add(time.Millisecond))
	assert.False(t, g.Online())
	assert.Equal(t, 1, g.Queued())

	rx.pushOK = true
	g.Poll(t0.Add(2 * time.Second))

	assert.True(t, g.Online())
	assert.Empty(t, rx.pushed)
	assert.Equal(t, uint64(1), g.Stats().Flushed)
	assert.Equal(t, before.Outstanding(), CorrectionCounters().Outstanding())
}

func TestGnss_KeysInjectedAfterDetect(t *testing.T) {
	var rx = newFakeReceiver()
	var keys = &fakeKeys{key: []byte{0xB5, 0x62, 0x02, 0x36}}

	var g = newTestGnss(t, rx, GnssOptions{Keys: keys})
	g.Inject([]byte{9}, SourceWLAN) // stale, flushed by detect

	g.Poll(t0)

	assert.Equal(t, [][]byte{keys.key}, rx.pushed)
	assert.Empty(t, rx.modes, "keys are not arbitrated")
}

func TestGnss_ReconfigureFailureRetried(t *testing.T) {
	var rx = newFakeReceiver()
	rx.modeOK = false

	var g = onlineGnss(t, rx, GnssOptions{})

	g.Inject([]byte{1}, SourceLBand)
	g.Poll(t0.Add(time.Millisecond))

	// The data still goes out.
	assert.Len(t, rx.pushed, 1)
	assert.Equal(t, []UseSource{UseSourcePMP}, rx.modes)

	rx.modeOK = true
	g.Inject([]byte{2}, SourceLBand)
	g.Inject([]byte{3}, SourceLBand)
	g.Poll(t0.Add(2 * time.Millisecond))

	assert.Equal(t, []UseSource{UseSourcePMP, UseSourcePMP}, rx.modes, "written again once, then confirmed")

	var stats = g.Stats()
	assert.Equal(t, uint64(1), stats.ReconfigFailed)
	assert.Equal(t, uint64(1), stats.Reconfigured)
}

func TestGnss_ReconnectResetsArbitration(t *testing.T) {
	var rx = newFakeReceiver()
	var g = onlineGnss(t, rx, GnssOptions{})

	g.Inject([]byte{1}, SourceWLAN)
	g.Poll(t0.Add(time.Millisecond))
	assert.Equal(t, SourceWLAN, g.ActiveSource())

	g.SetOnline(false)
	g.Poll(t0.Add(2 * time.Second))
	assert.Equal(t, SourceOther, g.ActiveSource())

	g.Inject([]byte{2}, SourceWLAN)
	g.Poll(t0.Add(2*time.Second + time.Millisecond))
	assert.Equal(t, []UseSource{UseSourceSPARTN, UseSourceSPARTN}, rx.modes)
}

func TestGnss_ConcurrentInject(t *testing.T) {
	var rx = newFakeReceiver()
	var g = onlineGnss(t, rx, GnssOptions{})

	var wg sync.WaitGroup

	for p := 0; p < 3; p++ {
		wg.Add(1)

		go func(src Source) {
			defer wg.Done()

			for i := 0; i < 200; i++ {
				g.Inject([]byte{byte(src), byte(i)}, src)
			}
		}(Source(p))
	}

	var now = t0
	var stop = make(chan struct{})

	go func() {
		wg.Wait()
		close(stop)
	}()

loop:
	for {
		select {
		case <-stop:
			break loop
		default:
			now = now.Add(time.Millisecond)
			g.Poll(now)
		}
	}

	g.Poll(now.Add(time.Millisecond))

	var stats = g.Stats()
	assert.Equal(t, uint64(600), stats.Injected+stats.Dropped)
	assert.Equal(t, stats.Injected, stats.Pushed)
	assert.Len(t, rx.pushed, int(stats.Pushed))
}

func TestGnss_NoLeaks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var before = CorrectionCounters()

		var rx = newFakeReceiver()
		var g = NewGnss(rx, GnssOptions{ReplayAfterReconnect: rapid.Bool().Draw(t, "replay")}, discardLogger(), t0)
		var now = t0

		var steps = rapid.IntRange(1, 60).Draw(t, "steps")

		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0, 1:
				var size = rapid.IntRange(0, 20).Draw(t, "size")
				g.Inject(make([]byte, size), Source(rapid.IntRange(0, 3).Draw(t, "source")))
			case 2:
				rx.pushOK = rapid.Bool().Draw(t, "pushOK")
				rx.detectOK = rapid.Bool().Draw(t, "detectOK")
				rx.modeOK = rapid.Bool().Draw(t, "modeOK")
			case 3:
				now = now.Add(time.Duration(rapid.IntRange(0, 3000).Draw(t, "ms")) * time.Millisecond)
				g.Poll(now)
			}
		}

		g.Close()

		var after = CorrectionCounters()
		assert.Equal(t, before.Outstanding(), after.Outstanding(), "leak")
		assert.Equal(t, before.DoubleReleased, after.DoubleReleased, "double release")
	})
}
