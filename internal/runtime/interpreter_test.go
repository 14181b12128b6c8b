package runtime

import (
	"strings"
	"testing"
)

func TestNewInterpreter(t *testing.T) {
	i, err := NewInterpreter("simpleflow", []string{"java", "-cp", "sf.jar", "com.simpleflow.lang.Main"}, "sf")
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	if i.Name() != "simpleflow" {
		t.Errorf("Name() = %q, want simpleflow", i.Name())
	}
	if i.FileExtension() != ".sf" {
		t.Errorf("FileExtension() = %q, want .sf", i.FileExtension())
	}
}

func TestNewInterpreter_EmptyCommand(t *testing.T) {
	if _, err := NewInterpreter("x", nil, ".sf"); err == nil {
		t.Error("expected error for nil command")
	}
	if _, err := NewInterpreter("x", []string{"  "}, ".sf"); err == nil {
		t.Error("expected error for blank command")
	}
}

func TestInterpreter_Command(t *testing.T) {
	base := []string{"java", "-cp", "sf.jar", "Main"}
	i, _ := NewInterpreter("simpleflow", base, ".sf")

	cmd := i.Command("/tmp/sf-abc.sf")
	want := []string{"java", "-cp", "sf.jar", "Main", "/tmp/sf-abc.sf"}
	if len(cmd) != len(want) {
		t.Fatalf("Command() = %v, want %v", cmd, want)
	}
	for n := range want {
		if cmd[n] != want[n] {
			t.Errorf("Command()[%d] = %q, want %q", n, cmd[n], want[n])
		}
	}

	// Appending for one call must not leak into the next.
	_ = i.Command("/tmp/first.sf")
	second := i.Command("/tmp/second.sf")
	if second[len(second)-1] != "/tmp/second.sf" || len(second) != len(base)+1 {
		t.Errorf("Command() reused backing array: %v", second)
	}

	// Mutating the caller's slice does not change the interpreter.
	base[0] = "evil"
	if i.Command("x")[0] != "java" {
		t.Error("interpreter command aliased the caller's slice")
	}
}

func TestInterpreter_Validate(t *testing.T) {
	i, _ := NewInterpreter("simpleflow", []string{"sf"}, ".sf", WithMaxCodeBytes(16))

	if err := i.Validate("show 1 + 1"); err != nil {
		t.Errorf("Validate(valid code) = %v, want nil", err)
	}
	if err := i.Validate(""); err == nil {
		t.Error("Validate(empty) should return error")
	}
	if err := i.Validate(strings.Repeat("x", 17)); err == nil {
		t.Error("Validate(>max) should return error")
	}
}

func TestInterpreter_Image(t *testing.T) {
	i, _ := NewInterpreter("simpleflow", []string{"sf"}, ".sf", WithImage("simpleflow-runner:latest"))
	if i.Image() != "simpleflow-runner:latest" {
		t.Errorf("Image() = %q", i.Image())
	}
}

func TestInterpreter_Available(t *testing.T) {
	ok, _ := NewInterpreter("sh", []string{"sh"}, ".sh")
	if err := ok.Available(); err != nil {
		t.Errorf("Available(sh) = %v, want nil", err)
	}
	missing, _ := NewInterpreter("nope", []string{"definitely-not-a-real-binary-7f3a"}, ".sf")
	if err := missing.Available(); err == nil {
		t.Error("Available(missing) should return error")
	}
}
