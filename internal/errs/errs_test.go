package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	Session,
	ElementNotFound,
	Action,
	Assertion,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForCodedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForCodedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForCodedErrors)
}

func testCodeOf_WrappedCodedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestCodeOf_WrappedCodedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_WrappedCodedError)
}

func TestCodeOf_TaxonomyErrors(t *testing.T) {
	t.Parallel()

	driverErr := errors.New("connection refused")
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"session", &SessionError{Op: "open", Browser: "chrome", Err: driverErr}, Session},
		{"not found", &ElementNotFoundError{Strategy: "id", Selector: "title", Wait: 500 * time.Millisecond}, ElementNotFound},
		{"action", &ActionError{Action: "click", Target: "save", Err: driverErr}, Action},
		{"assertion", &AssertionError{Name: "heading", Expected: "Tecido", Observed: "Tecidos"}, Assertion},
		{"wrapped assertion", fmt.Errorf("step 4 (read text of heading): %w", &AssertionError{Name: "heading"}), Assertion},
		{"untyped", driverErr, Internal},
		{"nil", nil, Internal},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("%s: CodeOf = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAssertionError_CarriesExpectedAndObserved(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("step 5: %w", &AssertionError{Name: "heading", Expected: "Tecido", Observed: "Tecidos"})

	var ae *AssertionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssertionError in chain, got %v", err)
	}
	if ae.Expected != "Tecido" || ae.Observed != "Tecidos" {
		t.Fatalf("unexpected values: expected=%q observed=%q", ae.Expected, ae.Observed)
	}
	want := `assertion "heading" failed: expected "Tecido", observed "Tecidos"`
	if ae.Error() != want {
		t.Fatalf("Error() = %q, want %q", ae.Error(), want)
	}
}

func TestSessionError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("browser launch failed")
	err := &SessionError{Op: "open", Browser: "firefox", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("SessionError does not unwrap to its cause")
	}
	if got := err.Error(); got != "session open (firefox): browser launch failed" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestActionError_PageTarget(t *testing.T) {
	t.Parallel()

	err := &ActionError{Action: "navigate", Err: errors.New("net::ERR_CONNECTION_REFUSED")}
	if got := err.Error(); got != "navigate on page: net::ERR_CONNECTION_REFUSED" {
		t.Fatalf("Error() = %q", got)
	}
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != raw {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, raw)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func testExitCode_Mapping(t *rapid.T) {
	cases := map[Code]int{
		InvalidArgument: 2,
		Session:         3,
		Unavailable:     4,
	}

	code := rapid.SampledFrom(append(allCodes, Code("unknown_code"))).Draw(t, "code")

	want := 1
	if mapped, ok := cases[code]; ok {
		want = mapped
	}
	if got := ExitCode(code); got != want {
		t.Fatalf("ExitCode mismatch: code=%q got=%d want=%d", code, got, want)
	}
}

func TestExitCode_Mapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testExitCode_Mapping)
}
