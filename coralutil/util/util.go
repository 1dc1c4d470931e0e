package util

import (
	"encoding/hex"
	"testing"

	"github.com/coral-colony/corald/coralutil/er"
)

// DecodeHex decodes a hex string with the error lifted into er.R.
func DecodeHex(s string) ([]byte, er.R) {
	o, e := hex.DecodeString(s)
	return o, er.E(e)
}

// RequireNoErr fails the test immediately when err is non-nil, printing
// the full error including its stack if one was captured.
func RequireNoErr(t *testing.T, err er.R) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.String())
	}
}

// RequireErr fails the test immediately when err is nil.
func RequireErr(t *testing.T, err er.R) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}

// CheckError ensures the passed error has an error code that matches the
// passed error code.
func CheckError(t *testing.T, testName string, gotErr er.R, wantErrCode *er.ErrorCode) bool {
	t.Helper()
	if !wantErrCode.Is(gotErr) {
		t.Errorf("%s: unexpected error code - got %s, want %s",
			testName, gotErr.Message(), wantErrCode.Default())
		return false
	}
	return true
}
