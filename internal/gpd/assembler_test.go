// internal/gpd/assembler_test.go
package gpd

import "testing"

func TestAssemblerCompletesOnTerminator(t *testing.T) {
	a := NewAssembler()

	if _, ok := a.Feed([]byte("12.34V\r")); ok {
		t.Fatal("reply completed without terminator")
	}

	line, ok := a.Feed([]byte("\n"))
	if !ok {
		t.Fatal("terminated reply not reported complete")
	}
	if line != "12.34V\r" {
		t.Fatalf("got %q, want %q", line, "12.34V\r")
	}
}

func TestAssemblerChunkedDelivery(t *testing.T) {
	a := NewAssembler()

	chunks := [][]byte{[]byte("GW IN"), []byte("STEK,GPD-3303S"), []byte(",SN:123\r\n")}
	var line string
	var ok bool
	for _, chunk := range chunks {
		line, ok = a.Feed(chunk)
	}

	if !ok {
		t.Fatal("chunked reply never completed")
	}
	if line != "GW INSTEK,GPD-3303S,SN:123\r" {
		t.Fatalf("unexpected assembled line %q", line)
	}
}

func TestAssemblerDiscardsStaleFragment(t *testing.T) {
	a := NewAssembler()

	// A terminator in the middle of the buffer marks everything up to it
	// as leftovers of an abandoned round trip.
	if _, ok := a.Feed([]byte("5.00V\r\n12.3")); ok {
		t.Fatal("stale fragment treated as a complete reply")
	}
	if got := string(a.Pending()); got != "12.3" {
		t.Fatalf("pending buffer %q, want %q", got, "12.3")
	}

	line, ok := a.Feed([]byte("4V\r\n"))
	if !ok {
		t.Fatal("fresh reply never completed")
	}
	if line != "12.34V\r" {
		t.Fatalf("got %q, want fresh reply only", line)
	}
}

func TestAssemblerDiscardsMultipleStaleReplies(t *testing.T) {
	a := NewAssembler()

	line, ok := a.Feed([]byte("1.00V\r\n2.00V\r\n3.00V\r\n"))
	if !ok {
		t.Fatal("expected the last terminated reply to complete")
	}
	if line != "3.00V\r" {
		t.Fatalf("got %q, want the newest reply", line)
	}
}

func TestAssemblerBareTerminatorIsEmptyReply(t *testing.T) {
	a := NewAssembler()

	line, ok := a.Feed([]byte("\n"))
	if !ok {
		t.Fatal("bare terminator should complete an empty reply")
	}
	if line != "" {
		t.Fatalf("got %q, want empty reply", line)
	}
}

func TestAssemblerResetDropsPending(t *testing.T) {
	a := NewAssembler()

	a.Feed([]byte("12."))
	a.Reset()

	line, ok := a.Feed([]byte("5.00V\r\n"))
	if !ok {
		t.Fatal("reply after reset never completed")
	}
	if line != "5.00V\r" {
		t.Fatalf("got %q, stale bytes leaked through reset", line)
	}
}
