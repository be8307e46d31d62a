package worker

import (
	"context"
	"testing"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

func TestStartProcessRejectsInProcessProfile(t *testing.T) {
	_, err := StartProcess(context.Background(), ExecutionProfile{
		Name:    "in-process",
		Kind:    native.KindImaging,
		Bitness: HostBitness(),
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error for a profile without a worker command")
	}
}

func TestStartProcessMissingExecutable(t *testing.T) {
	_, err := StartProcess(context.Background(), ExecutionProfile{
		Name:    "ghost",
		Kind:    native.KindImaging,
		Bitness: HostBitness(),
		Command: "/nonexistent/scanbridge-worker",
	}, nil, nil)
	if err == nil {
		t.Fatal("expected error for a nonexistent worker executable")
	}
}
