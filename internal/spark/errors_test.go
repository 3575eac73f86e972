package spark

import (
	"errors"
	"testing"
)

func TestResult_Err_OKIsNil(t *testing.T) {
	if err := (Result{Code: OK}).Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}

func TestResult_Err_MatchesSentinel(t *testing.T) {
	cases := []struct {
		code Code
		want error
	}{
		{LinkGone, ErrLinkGone},
		{TimedOut, ErrTimedOut},
		{Cancelled, ErrCancelled},
		{NetError, ErrNetError},
		{ChannelClosed, ErrChannelClosed},
		{WrongMessageType, ErrWrongMessageType},
	}
	for _, tc := range cases {
		err := (Result{Code: tc.code}).Err()
		if !errors.Is(err, tc.want) {
			t.Errorf("code %v: Err() = %v, want errors.Is match with %v", tc.code, err, tc.want)
		}
	}
}

func TestResult_Err_DistinctCodesDoNotMatch(t *testing.T) {
	err := (Result{Code: TimedOut}).Err()
	if errors.Is(err, ErrCancelled) {
		t.Fatal("TimedOut result matched ErrCancelled")
	}
}
