package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry, err := NewRegistry(&stubJob{name: "billing-rollover"}, nil, &stubJob{name: "ai-operation-retention"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Name() != "billing-rollover" || jobs[1].Name() != "ai-operation-retention" {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryRejectsDuplicateAndBlankNames(t *testing.T) {
	registry, err := NewRegistry(&stubJob{name: "billing-rollover"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := registry.Register(&stubJob{name: "billing-rollover"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := registry.Register(&stubJob{name: "  "}); err == nil {
		t.Fatal("expected blank name error")
	}
	if _, err := NewRegistry(&stubJob{name: "x"}, &stubJob{name: "x"}); err == nil {
		t.Fatal("expected constructor to reject duplicates")
	}
}
