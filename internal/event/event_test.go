package event

import "testing"

func TestDecode(t *testing.T) {
	payload := `{"type":"decomposition","node":"supervisor","agent":"Supervisor","message":"plan","delta":true,` +
		`"timestamp":"2025-12-10T00:00:00","subtasks":[{"title":"search","requirement":"find sources"}],` +
		`"current_task":{"title":"search"}}`

	ev, err := Decode([]byte(payload), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindDecomposition {
		t.Errorf("expected kind decomposition, got %q", ev.Kind)
	}
	if ev.OriginNode != "supervisor" {
		t.Errorf("expected node supervisor, got %q", ev.OriginNode)
	}
	if ev.AgentName != "Supervisor" {
		t.Errorf("expected agent Supervisor, got %q", ev.AgentName)
	}
	if !ev.IsDelta {
		t.Error("expected delta flag")
	}
	if len(ev.Subtasks) != 1 || ev.Subtasks[0].Requirement != "find sources" {
		t.Errorf("unexpected subtasks: %+v", ev.Subtasks)
	}
	if ev.CurrentTask == nil || ev.CurrentTask.Title != "search" {
		t.Errorf("unexpected current task: %+v", ev.CurrentTask)
	}
}

func TestDecodeDefaultsAgent(t *testing.T) {
	tests := []struct {
		name        string
		systemAgent string
		want        string
	}{
		{"package default", "", DefaultSystemAgent},
		{"configured label", "System", "System"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(`{"type":"end","message":"done"}`), tt.systemAgent)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.AgentName != tt.want {
				t.Errorf("expected agent %q, got %q", tt.want, ev.AgentName)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, payload := range []string{`{"type":`, `{"message":"no type"}`, `[]`} {
		if _, err := Decode([]byte(payload), ""); err == nil {
			t.Errorf("expected error for %s", payload)
		}
	}
}

func TestUnknownKindDecodes(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"telemetry","message":"x"}`), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind.Known() {
		t.Errorf("expected %q to be unknown", ev.Kind)
	}
	if !KindThinking.Known() {
		t.Error("expected thinking to be known")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := StreamEvent{Kind: KindResult, OriginNode: "supervisor", AgentName: "Supervisor", Text: "done"}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != in.Kind || out.Text != in.Text || out.OriginNode != in.OriginNode {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}
