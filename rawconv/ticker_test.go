package rawconv

import (
	"testing"
	"time"
)

func TestTickerFiresImmediately(t *testing.T) {
	mt := NewMutableTicker(time.Hour)
	defer mt.Stop()

	select {
	case <-mt.C:
	case <-time.After(time.Second):
		t.Fatal("no immediate tick")
	}
}

func TestTickerSetIntervalInterruptsSleep(t *testing.T) {
	mt := NewMutableTicker(time.Hour)
	defer mt.Stop()

	<-mt.C
	mt.SetInterval(time.Millisecond)

	select {
	case <-mt.C:
	case <-time.After(time.Second):
		t.Fatal("shorter interval did not take effect")
	}
	if mt.Interval() != time.Millisecond {
		t.Errorf("interval %s, want 1ms", mt.Interval())
	}
}

func TestTickerStop(t *testing.T) {
	mt := NewMutableTicker(time.Millisecond)
	mt.Stop()

	// Drain whatever was in flight around the stop.
	time.Sleep(10 * time.Millisecond)
	select {
	case <-mt.C:
	default:
	}

	select {
	case <-mt.C:
		t.Fatal("tick after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
