// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package child

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestClassifyMarkers(t *testing.T) {
	cases := []struct {
		line string
		kind LineKind
	}{
		{"HLREPL_BEGIN_EVAL", LineBeginEval},
		{"HLREPL_EXECUTION_COMPLETE", LineEndEval},
		{"HLREPL_PANIC_NOTIFICATION", LinePanic},
		{"HLREPL_BEGIN_CONTENT image/png", LineBeginContent},
		{"HLREPL_END_CONTENT", LineEndContent},
		{"hello from user code", LineOutput},
	}
	for _, c := range cases {
		kind, _ := Classify(c.line)
		if kind != c.kind {
			t.Errorf("Classify(%q) = %v, want %v", c.line, kind, c.kind)
		}
	}
}

func TestClassifyBeginContentPayload(t *testing.T) {
	kind, payload := Classify("HLREPL_BEGIN_CONTENT text/html")
	if kind != LineBeginContent {
		t.Fatalf("expected LineBeginContent, got %v", kind)
	}
	if payload != "text/html" {
		t.Errorf("expected payload text/html, got %q", payload)
	}
}

func TestContentCollectorRoundTripBinary(t *testing.T) {
	var c ContentCollector
	c.Begin("image/png")
	if !c.Active() {
		t.Fatal("expected collector to be active after Begin")
	}
	c.AddLine("aGVsbG8=") // "hello"
	artifact, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if c.Active() {
		t.Error("expected collector to be inactive after Finish")
	}
	if string(artifact.Data) != "hello" {
		t.Errorf("expected decoded data 'hello', got %q", artifact.Data)
	}
	if artifact.MimeType != "image/png" {
		t.Errorf("unexpected mime type: %q", artifact.MimeType)
	}
}

// TestContentCollectorTextPassesThroughLiterally mirrors scenario 6: a
// text/html body that is not valid base64 must survive unmodified
// rather than fail to decode and get silently dropped.
func TestContentCollectorTextPassesThroughLiterally(t *testing.T) {
	var c ContentCollector
	c.Begin("text/html")
	c.AddLine("<b>hi</b>")
	artifact, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if string(artifact.Data) != "<b>hi</b>" {
		t.Errorf("expected literal body, got %q", artifact.Data)
	}
}

func TestContentCollectorTextJoinsMultipleLinesWithNewline(t *testing.T) {
	var c ContentCollector
	c.Begin("text/plain")
	c.AddLine("line one")
	c.AddLine("line two")
	artifact, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if string(artifact.Data) != "line one\nline two" {
		t.Errorf("expected newline-joined body, got %q", artifact.Data)
	}
}

func TestSupervisorSpawnSendRecvClose(t *testing.T) {
	spawn := func() *exec.Cmd {
		return exec.Command("cat")
	}
	s := New(spawn, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Spawn(ctx); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if !s.EnsureAlive() {
		t.Fatal("expected child to be alive after Spawn")
	}

	if err := s.Send("ping\n"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	line, err := s.RecvLine(ctx)
	if err != nil {
		t.Fatalf("RecvLine failed: %v", err)
	}
	if line != "ping" {
		t.Errorf("expected echoed line 'ping', got %q", line)
	}

	if err := s.Close(2 * time.Second); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestShutdownGroupWaitTimesOut(t *testing.T) {
	g := NewShutdownGroup()
	block := make(chan struct{})
	g.Go(func() { <-block })
	defer close(block)

	if g.Wait(50 * time.Millisecond) {
		t.Error("expected Wait to time out while goroutine is blocked")
	}
}

func TestShutdownGroupWaitCompletes(t *testing.T) {
	g := NewShutdownGroup()
	g.Go(func() {})
	if !g.Wait(time.Second) {
		t.Error("expected Wait to report completion")
	}
}
