package dockerservice

import (
	"context"
	"testing"

	"statum.dev/statum/agents/shared_ref/docker"
	"statum.dev/statum/internal/bind"
	"statum.dev/statum/internal/edge"
	"statum.dev/statum/internal/eval"
	"statum.dev/statum/internal/fingerprint"
	"statum.dev/statum/internal/store"
)

func TestEnvInputFlattensSortedPairs(t *testing.T) {
	inputs := eval.ResolvedInputs{
		inputEnv: {Literal: edge.MappingValue{
			"ZEBRA": edge.StringValue("last"),
			"APPLE": edge.StringValue("first"),
		}},
	}
	got := envInput(inputs, inputEnv)
	want := []string{"APPLE=first", "ZEBRA=last"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSequenceInputExtractsStrings(t *testing.T) {
	inputs := eval.ResolvedInputs{
		inputCommand: {Literal: edge.SequenceValue{edge.StringValue("sh"), edge.StringValue("-c"), edge.StringValue("true")}},
	}
	got := sequenceInput(inputs, inputCommand)
	if len(got) != 3 || got[0] != "sh" || got[2] != "true" {
		t.Fatalf("got %v", got)
	}
}

func TestMountsInputSortsByHostPath(t *testing.T) {
	inputs := eval.ResolvedInputs{
		inputMounts: {Literal: edge.MappingValue{
			"/host/b": edge.StringValue("/container/b"),
			"/host/a": edge.StringValue("/container/a"),
		}},
	}
	got := mountsInput(inputs, inputMounts)
	if len(got) != 2 || got[0].Source != "/host/a" || got[1].Source != "/host/b" {
		t.Fatalf("got %+v", got)
	}
}

func TestStringInputMissingReturnsFalse(t *testing.T) {
	if _, ok := stringInput(eval.ResolvedInputs{}, inputImage); ok {
		t.Fatalf("expected ok=false for missing input")
	}
}

// TestLifecycleViaBindDriver exercises Spec through the core bind.Driver
// end to end against a real docker daemon; it skips when one isn't
// reachable rather than failing, the same way a container-backed bind
// cannot be exercised in environments without a docker socket.
func TestLifecycleViaBindDriver(t *testing.T) {
	cli, err := docker.NewClient()
	if err != nil {
		t.Skipf("docker daemon not reachable: %v", err)
	}
	cli.Close()

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	d := bind.NewDriver(s)
	spec := Spec("web", docker.NewClient)

	inputs := eval.ResolvedInputs{
		inputName:  {Literal: edge.StringValue("statum-test-web")},
		inputImage: {Literal: edge.StringValue("alpine:3.20")},
		inputCommand: {Literal: edge.SequenceValue{
			edge.StringValue("sleep"),
			edge.StringValue("300"),
		}},
	}
	fp := fingerprint.OfString("web-v1")

	outputs, err := d.Create(context.Background(), "web", fp, spec, inputs)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if outputs[outputContainerID] == "" {
		t.Fatalf("expected a container id")
	}

	if err := d.Destroy(context.Background(), "web", fp, spec, outputs); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}
