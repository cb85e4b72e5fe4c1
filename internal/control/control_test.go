package control

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestFlagStopAndReset(t *testing.T) {
	var f Flag
	if f.Stopped() {
		t.Fatal("zero value should not be stopped")
	}
	f.Stop()
	if !f.Stopped() {
		t.Fatal("expected Stopped() after Stop()")
	}
	f.Reset()
	if f.Stopped() {
		t.Fatal("expected not stopped after Reset()")
	}
}

func TestListenForSignalsTripsFlag(t *testing.T) {
	var f Flag
	stop := f.ListenForSignals(syscall.SIGUSR1)
	defer stop()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.Stopped() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected flag to be tripped after signal")
}

func TestListenForSignalsStopRemovesHandler(t *testing.T) {
	var f Flag
	stop := f.ListenForSignals(syscall.SIGUSR2)
	stop()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Signal(syscall.SIGUSR2); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if f.Stopped() {
		t.Fatal("expected flag untouched after listener was stopped")
	}
}
