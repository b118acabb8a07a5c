package hal

import "testing"

type fakeConsole struct {
	written []string
}

func (f *fakeConsole) WriteString(s string) (int, error) {
	f.written = append(f.written, s)
	return len(s), nil
}
func (f *fakeConsole) ReadByte() (byte, bool) { return 0, false }

func TestWriteLineWithoutConsoleReturnsError(t *testing.T) {
	RegisterConsole(nil)
	if err := WriteLine("hi"); err != ErrNoConsole {
		t.Fatalf("expected ErrNoConsole, got %v", err)
	}
}

func TestWriteLineAppendsNewline(t *testing.T) {
	fc := &fakeConsole{}
	RegisterConsole(fc)
	defer RegisterConsole(nil)

	if err := WriteLine("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.written) != 1 || fc.written[0] != "hello\n" {
		t.Fatalf("unexpected write: %v", fc.written)
	}
}
