package cvssd

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrInternal,
		Message: "test",
		Op:      "ExampleError",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrNotFound,
		Message: "no such evaluation",
		Op:      "GetEvaluation",
	})
	err := &Error{
		Inner: &Error{
			Inner:   sql.ErrNoRows,
			Kind:    ErrNotFound,
			Message: "no such evaluation",
			Op:      "GetEvaluation",
		},
		Kind: ErrTransient,
	}
	fmt.Println(err)
	fmt.Println(fmt.Errorf("handler: oops: %w", &Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrNotFound,
		Message: "no such evaluation",
		Op:      "GetEvaluation",
	}))

	// Output:
	// ExampleError [internal]: test
	// GetEvaluation [not found]: no such evaluation: sql: no rows in result set
	// GetEvaluation [not found]: no such evaluation: sql: no rows in result set
	// handler: oops: GetEvaluation [not found]: no such evaluation: sql: no rows in result set
}

type kindTestcase struct {
	Name string
	Err  error
	Is   []ErrorKind
	Not  []ErrorKind
	Kind ErrorKind
}

func (tc kindTestcase) Run(t *testing.T) {
	t.Run(tc.Name, func(t *testing.T) {
		t.Log(tc.Err)
		for _, k := range tc.Is {
			if !errors.Is(tc.Err, k) {
				t.Errorf("%v: got: false, want: true", k)
			}
		}
		for _, k := range tc.Not {
			if errors.Is(tc.Err, k) {
				t.Errorf("%v: got: true, want: false", k)
			}
		}
		if got, want := KindOf(tc.Err), tc.Kind; got != want {
			t.Errorf("KindOf: got: %v, want: %v", got, want)
		}
	})
}

func TestKind(t *testing.T) {
	tt := []kindTestcase{
		{
			Name: "Simple",
			Err:  &Error{Kind: ErrConflict, Op: "CreateUser"},
			Is:   []ErrorKind{ErrConflict},
			Not:  []ErrorKind{ErrNotFound, ErrInternal},
			Kind: ErrConflict,
		},
		{
			Name: "Wrapped",
			Err: fmt.Errorf("auth: %w", &Error{
				Inner: errors.New("bad password"),
				Kind:  ErrUnauthorized,
			}),
			Is:   []ErrorKind{ErrUnauthorized},
			Not:  []ErrorKind{ErrInvalid},
			Kind: ErrUnauthorized,
		},
		{
			Name: "Nested",
			Err: &Error{
				Inner: &Error{Kind: ErrNotFound, Inner: sql.ErrNoRows},
				Kind:  ErrTransient,
			},
			Is:   []ErrorKind{ErrTransient, ErrNotFound},
			Kind: ErrTransient,
		},
		{
			Name: "Bare",
			Err:  fmt.Errorf("thing: %w", ErrInvalid),
			Is:   []ErrorKind{ErrInvalid},
			Kind: ErrInvalid,
		},
		{
			Name: "Foreign",
			Err:  errors.New("something else"),
			Not:  []ErrorKind{ErrInternal},
			Kind: ErrInternal,
		},
	}
	for _, tc := range tt {
		tc.Run(t)
	}
	if !errors.Is(&Error{Inner: sql.ErrNoRows, Kind: ErrNotFound}, sql.ErrNoRows) {
		t.Error("inner error not unwrapped")
	}
}

func TestErrorString(t *testing.T) {
	tt := []struct {
		Err  *Error
		Want string
	}{
		{&Error{Op: "CreateUser", Kind: ErrConflict}, "CreateUser [conflict]"},
		{&Error{Kind: ErrInvalid, Message: "bad vector"}, "[invalid]: bad vector"},
		{&Error{Kind: ErrorKind("weird"), Message: "x"}, "[???]: x"},
		{&Error{Kind: ErrTransient}, "transient"},
		{&Error{Op: "Login", Kind: ErrUnauthorized, Inner: errors.New("expired")}, "Login [unauthorized]: expired"},
	}
	for _, tc := range tt {
		if got := tc.Err.Error(); got != tc.Want {
			t.Errorf("got: %q, want: %q", got, tc.Want)
		}
	}
}
