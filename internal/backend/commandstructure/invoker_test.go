package commandstructure

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandInvoker_EmptyChainReturnsInput(t *testing.T) {
	input := []byte("upload")

	result, err := NewCommandInvoker(nil).Execute(input)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(result) != "upload" {
		t.Errorf("Expected input back, got %q", result)
	}

	result, err = ExecuteCommands(input, []CommandConfig{})
	if err != nil || string(result) != "upload" {
		t.Errorf("Expected ExecuteCommands to pass input through, got %q, %v", result, err)
	}
}

func TestCommandInvoker_RunsStagesInOrder(t *testing.T) {
	resize := &stageCommand{name: "ResizeCommand"}
	convert := &stageCommand{name: "JpegConverterCommand"}

	invoker := NewCommandInvoker([]Command{resize, convert})
	if invoker.Len() != 2 {
		t.Fatalf("Expected 2 commands, got %d", invoker.Len())
	}
	result, err := invoker.Execute([]byte("png"))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if want := "png|ResizeCommand|JpegConverterCommand"; string(result) != want {
		t.Errorf("Expected %q, got %q", want, result)
	}
}

func TestCommandInvoker_FailingStageStopsChain(t *testing.T) {
	cause := errors.New("cannot decode")
	resize := &stageCommand{name: "ResizeCommand", err: cause}
	convert := &stageCommand{name: "JpegConverterCommand"}

	_, err := NewCommandInvoker([]Command{resize, convert}).Execute([]byte("garbage"))
	if !errors.Is(err, cause) {
		t.Fatalf("Expected wrapped decode error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ResizeCommand (index 0)") {
		t.Errorf("Expected error to name the failing stage, got %v", err)
	}
	if convert.runs() != 0 {
		t.Errorf("Expected later stages to be skipped, ran %d times", convert.runs())
	}
}

func TestCommandInvoker_IsACommand(t *testing.T) {
	var command Command = NewCommandInvoker([]Command{&stageCommand{name: "ResizeCommand"}})
	if command.Name() != "CommandInvoker" {
		t.Errorf("Expected invoker name, got %s", command.Name())
	}
	result, err := command.Execute([]byte("x"))
	if err != nil || string(result) != "x|ResizeCommand" {
		t.Errorf("Expected nested invoker to run its stage, got %q, %v", result, err)
	}
}

func TestNewCommandInvokerFromConfig(t *testing.T) {
	registry, err := stageRegistry("ResizeCommand", "JpegConverterCommand")
	if err != nil {
		t.Fatalf("Failed to register stages: %v", err)
	}

	tests := []struct {
		name    string
		configs []CommandConfig
		want    string
		wantErr string
	}{
		{
			name: "intake chain",
			configs: []CommandConfig{
				{Name: "ResizeCommand", Params: map[string]any{"maxWidth": 1200}},
				{Name: "JpegConverterCommand"},
			},
			want: "img|ResizeCommand|JpegConverterCommand",
		},
		{
			name:    "unknown stage",
			configs: []CommandConfig{{Name: "ResizeCommand"}, {Name: "WatermarkCommand"}},
			wantErr: "index 1 (WatermarkCommand)",
		},
		{
			name: "stage failure",
			configs: []CommandConfig{
				{Name: "ResizeCommand"},
				{Name: "JpegConverterCommand", Params: map[string]any{"fail": "unsupported format"}},
			},
			wantErr: "JpegConverterCommand (index 1) failed: unsupported format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoker, err := NewCommandInvokerFromConfig(registry, tt.configs)
			if err == nil {
				var result []byte
				result, err = invoker.Execute([]byte("img"))
				if err == nil && string(result) != tt.want {
					t.Errorf("Expected %q, got %q", tt.want, result)
				}
			}
			if tt.wantErr == "" && err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecuteCommands_UsesDefaultRegistry(t *testing.T) {
	registry, err := stageRegistry("ResizeCommand")
	if err != nil {
		t.Fatalf("Failed to register stages: %v", err)
	}
	originalRegistry := DefaultRegistry
	DefaultRegistry = registry
	defer func() { DefaultRegistry = originalRegistry }()

	result, err := ExecuteCommands([]byte("img"), []CommandConfig{{Name: "ResizeCommand"}})
	if err != nil || string(result) != "img|ResizeCommand" {
		t.Errorf("Expected default registry stage to run, got %q, %v", result, err)
	}
	if _, err := ExecuteCommands([]byte("img"), []CommandConfig{{Name: "JpegConverterCommand"}}); err == nil {
		t.Error("Expected error for a stage missing from the default registry")
	}
}
