package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aoba-mfg/be-kanban-approvals/internal/repository"
)

func testRequest(status repository.Status) *repository.KanbanRequest {
	return &repository.KanbanRequest{
		ID:           "req-1",
		RequesterID:  "u-req",
		DepartmentID: "ASSY",
		Status:       status,
	}
}

func TestCanView(t *testing.T) {
	policy := NewAccessPolicy()
	req := testRequest(repository.StatusPendingDept)

	tests := []struct {
		name  string
		actor repository.Actor
		want  bool
	}{
		{"pc sees everything", repository.Actor{UserID: "x", Role: repository.RolePC, DepartmentID: "PC"}, true},
		{"admin sees everything", repository.Actor{UserID: "x", Role: repository.RoleAdmin, DepartmentID: "HQ"}, true},
		{"manager same department", repository.Actor{UserID: "x", Role: repository.RoleManager, DepartmentID: "ASSY"}, true},
		{"manager other department", repository.Actor{UserID: "x", Role: repository.RoleManager, DepartmentID: "PAINT"}, false},
		{"supervisor same department", repository.Actor{UserID: "x", Role: repository.RoleSupervisor, DepartmentID: "ASSY"}, true},
		{"supervisor other department", repository.Actor{UserID: "x", Role: repository.RoleSupervisor, DepartmentID: "PAINT"}, false},
		{"requester own request", repository.Actor{UserID: "u-req", Role: repository.RoleRequester, DepartmentID: "ASSY"}, true},
		{"requester other request", repository.Actor{UserID: "u-other", Role: repository.RoleRequester, DepartmentID: "ASSY"}, false},
		{"unknown role", repository.Actor{UserID: "x", Role: "INTERN", DepartmentID: "ASSY"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.CanView(tt.actor, req))
		})
	}
}

func TestCanAct_DepartmentStage(t *testing.T) {
	policy := NewAccessPolicy()
	req := testRequest(repository.StatusPendingDept)

	assert.True(t, policy.CanAct(repository.Actor{Role: repository.RoleSupervisor, DepartmentID: "ASSY"}, req))
	assert.True(t, policy.CanAct(repository.Actor{Role: repository.RoleManager, DepartmentID: "ASSY"}, req))
	assert.False(t, policy.CanAct(repository.Actor{Role: repository.RoleSupervisor, DepartmentID: "PAINT"}, req))
	assert.False(t, policy.CanAct(repository.Actor{Role: repository.RolePC, DepartmentID: "PC"}, req))
	assert.False(t, policy.CanAct(repository.Actor{Role: repository.RoleAdmin, DepartmentID: "HQ"}, req))
	assert.False(t, policy.CanAct(repository.Actor{UserID: "u-req", Role: repository.RoleRequester, DepartmentID: "ASSY"}, req))
}

func TestCanAct_PCStage(t *testing.T) {
	policy := NewAccessPolicy()
	req := testRequest(repository.StatusPendingPC)

	// PC acts regardless of its own department id.
	assert.True(t, policy.CanAct(repository.Actor{Role: repository.RolePC, DepartmentID: "PC"}, req))
	assert.False(t, policy.CanAct(repository.Actor{Role: repository.RoleManager, DepartmentID: "ASSY"}, req))
	assert.False(t, policy.CanAct(repository.Actor{Role: repository.RoleSupervisor, DepartmentID: "ASSY"}, req))
	assert.False(t, policy.CanAct(repository.Actor{Role: repository.RoleAdmin, DepartmentID: "HQ"}, req))
}

func TestCanAct_TerminalStates(t *testing.T) {
	policy := NewAccessPolicy()

	for _, status := range []repository.Status{
		repository.StatusCreated,
		repository.StatusApproved,
		repository.StatusRejected,
		repository.StatusClosed,
	} {
		req := testRequest(status)
		assert.False(t, policy.CanAct(repository.Actor{Role: repository.RolePC, DepartmentID: "PC"}, req), "status %s", status)
		assert.False(t, policy.CanAct(repository.Actor{Role: repository.RoleManager, DepartmentID: "ASSY"}, req), "status %s", status)
	}
}

func TestCanClose(t *testing.T) {
	policy := NewAccessPolicy()

	assert.True(t, policy.CanClose(repository.Actor{Role: repository.RolePC}))
	assert.True(t, policy.CanClose(repository.Actor{Role: repository.RoleAdmin}))
	assert.False(t, policy.CanClose(repository.Actor{Role: repository.RoleManager}))
	assert.False(t, policy.CanClose(repository.Actor{Role: repository.RoleSupervisor}))
	assert.False(t, policy.CanClose(repository.Actor{Role: repository.RoleRequester}))
}

func TestCanViewScope(t *testing.T) {
	policy := NewAccessPolicy()
	assy := "ASSY"
	paint := "PAINT"

	assert.True(t, policy.CanViewScope(repository.Actor{Role: repository.RolePC}, nil))
	assert.True(t, policy.CanViewScope(repository.Actor{Role: repository.RolePC}, &assy))
	assert.True(t, policy.CanViewScope(repository.Actor{Role: repository.RoleAdmin}, &assy))

	manager := repository.Actor{Role: repository.RoleManager, DepartmentID: "ASSY"}
	assert.True(t, policy.CanViewScope(manager, &assy))
	assert.False(t, policy.CanViewScope(manager, &paint))

	requester := repository.Actor{UserID: "u", Role: repository.RoleRequester, DepartmentID: "ASSY"}
	assert.True(t, policy.CanViewScope(requester, nil))
	assert.False(t, policy.CanViewScope(requester, &assy))
}
