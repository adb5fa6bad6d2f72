package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	v1 "github.com/kination/assetflow/api/v1"
)

// MockExecutor is a mock implementation for testing
type MockExecutor struct {
	taskTypes []v1.TaskType
}

func (m *MockExecutor) Type() []v1.TaskType {
	return m.taskTypes
}

func (m *MockExecutor) Execute(ctx context.Context, mode v1.Mode, task *v1.TaskSpec) (*Result, error) {
	return &Result{}, nil
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	if registry == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if registry.executors == nil {
		t.Fatal("executors map is nil")
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	registry.Register(&MockExecutor{
		taskTypes: []v1.TaskType{v1.TaskTypeStyles, v1.TaskTypeScripts},
	})

	if !registry.Has(v1.TaskTypeStyles) {
		t.Error("TaskTypeStyles should be registered")
	}
	if !registry.Has(v1.TaskTypeScripts) {
		t.Error("TaskTypeScripts should be registered")
	}
	if registry.Has(v1.TaskTypeImages) {
		t.Error("TaskTypeImages should not be registered")
	}
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&MockExecutor{taskTypes: []v1.TaskType{v1.TaskTypePHP}})

	exec, err := registry.Get(v1.TaskTypePHP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec == nil {
		t.Fatal("executor should not be nil")
	}

	_, err = registry.Get(v1.TaskTypeMarkup)
	if !errors.Is(err, ErrNoExecutor) {
		t.Errorf("expected ErrNoExecutor, got %v", err)
	}
}

func TestRegistry_Types(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&MockExecutor{
		taskTypes: []v1.TaskType{v1.TaskTypeStyles, v1.TaskTypeImages, v1.TaskTypeClean},
	})

	types := registry.Types()
	want := []v1.TaskType{v1.TaskTypeClean, v1.TaskTypeImages, v1.TaskTypeStyles}
	if len(types) != len(want) {
		t.Fatalf("expected %d types, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("expected sorted types %v, got %v", want, types)
			break
		}
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()
	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			registry.Register(&MockExecutor{taskTypes: []v1.TaskType{v1.TaskTypeStyles}})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			registry.Has(v1.TaskTypeStyles)
			registry.Types()
		}
		done <- true
	}()

	<-done
	<-done
}

func TestViolationError(t *testing.T) {
	err := error(&ViolationError{
		Tool: "phpcs",
		Problems: []Problem{
			{File: "index.php", Line: 3, Column: 1, Severity: SeverityError, Message: "Missing file doc comment", Rule: "Squiz.Commenting.FileComment.Missing"},
		},
	})
	wrapped := errors.Join(errors.New("php"), err)

	v, ok := AsViolation(wrapped)
	if !ok {
		t.Fatal("AsViolation should unwrap joined errors")
	}
	if len(v.Problems) != 1 {
		t.Errorf("expected 1 problem, got %d", len(v.Problems))
	}
	if !strings.Contains(err.Error(), "index.php:3:1: error: Missing file doc comment (Squiz.Commenting.FileComment.Missing)") {
		t.Errorf("unexpected message %q", err.Error())
	}

	if _, ok := AsViolation(errors.New("boom")); ok {
		t.Error("plain errors are not violations")
	}
}
