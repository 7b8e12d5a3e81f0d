package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeNetErr struct{ timeout bool }

func (e *fakeNetErr) Error() string   { return "dial tcp: i/o problem" }
func (e *fakeNetErr) Timeout() bool   { return e.timeout }
func (e *fakeNetErr) Temporary() bool { return e.timeout }

func TestIsTransientErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("phase call: %w", context.DeadlineExceeded), true},
		{"canceled is caller's concern", context.Canceled, false},
		{"net timeout", &fakeNetErr{timeout: true}, true},
		{"net non-timeout", &fakeNetErr{timeout: false}, false},
		{"http 429", &HTTPError{StatusCode: 429, Body: "slow down"}, true},
		{"http 503", &HTTPError{StatusCode: 503}, true},
		{"http 408", &HTTPError{StatusCode: 408}, true},
		{"http 400", &HTTPError{StatusCode: 400, Body: "bad schema"}, false},
		{"http 401", &HTTPError{StatusCode: 401}, false},
		{"rate limit message", errors.New("openai: rate limit reached"), true},
		{"connection reset message", errors.New("read: connection reset by peer"), true},
		{"plain failure", errors.New("no such model"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransientErr(tc.err); got != tc.want {
				t.Fatalf("IsTransientErr(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
