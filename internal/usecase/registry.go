package usecase

import (
	"context"
	"sync"
)

// WorkflowRegistry keeps one workflow per signed-in clinician.
type WorkflowRegistry struct {
	build func(ownerID string) *ConsultationWorkflow

	mu        sync.Mutex
	workflows map[string]*ConsultationWorkflow
}

func NewWorkflowRegistry(build func(ownerID string) *ConsultationWorkflow) *WorkflowRegistry {
	return &WorkflowRegistry{build: build, workflows: make(map[string]*ConsultationWorkflow)}
}

// ForOwner returns the clinician's workflow, creating it on first use.
func (r *WorkflowRegistry) ForOwner(ownerID string) *ConsultationWorkflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if workflow, ok := r.workflows[ownerID]; ok {
		return workflow
	}
	workflow := r.build(ownerID)
	r.workflows[ownerID] = workflow
	return workflow
}

// Release discards the clinician's in-memory consultation.
func (r *WorkflowRegistry) Release(ctx context.Context, ownerID string) {
	r.mu.Lock()
	workflow, ok := r.workflows[ownerID]
	delete(r.workflows, ownerID)
	r.mu.Unlock()

	if ok {
		workflow.StartNewConsultation(ctx)
	}
}
