package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestBasic_Counters(t *testing.T) {
	var b Basic

	b.RecordEncodeBatch(3, 1, 200*time.Millisecond)
	b.RecordEncodeBatch(2, 0, 100*time.Millisecond)
	b.RecordEnrichRun(5, time.Second, nil)
	b.RecordEnrichRun(0, time.Second, errors.New("boom"))

	snap := b.Snapshot()
	if snap.EncodeOK != 5 {
		t.Errorf("EncodeOK = %d, want 5", snap.EncodeOK)
	}
	if snap.EncodeFailed != 1 {
		t.Errorf("EncodeFailed = %d, want 1", snap.EncodeFailed)
	}
	if snap.RunsTotal != 2 || snap.RunsFailed != 1 {
		t.Errorf("runs = %d/%d, want 2/1", snap.RunsTotal, snap.RunsFailed)
	}
	if snap.Processed != 5 {
		t.Errorf("Processed = %d, want 5", snap.Processed)
	}
	if snap.EncodeSecs < 0.29 || snap.EncodeSecs > 0.31 {
		t.Errorf("EncodeSecs = %f, want ~0.3", snap.EncodeSecs)
	}
}

func TestNoop_ImplementsCollector(t *testing.T) {
	var c Collector = Noop{}
	c.RecordEncodeBatch(1, 0, time.Millisecond)
	c.RecordEnrichRun(1, time.Millisecond, nil)
}
