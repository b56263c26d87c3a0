package main

import "testing"

func TestRunBadArgumentsExitsTwo(t *testing.T) {
	if code := run([]string{"--port", "not-a-number"}); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
