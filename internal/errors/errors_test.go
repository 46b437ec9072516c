package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeDeviceNotReady, "no tag present"),
			expected: "device.not_ready: no tag present",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeRemoteNetwork, "search failed", errors.New("connection refused")),
			expected: "remote.network: search failed (connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}

	// Test without cause
	err2 := New(CodeDeviceAbsent, "no reader")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "CodedError",
			err:      New(CodeCodecCorrupt, "bad identifier"),
			expected: CodeCodecCorrupt,
		},
		{
			name:     "wrapped CodedError",
			err:      Wrap(CodeRemoteNetwork, "failed", errors.New("cause")),
			expected: CodeRemoteNetwork,
		},
		{
			name:     "plain error",
			err:      errors.New("some error"),
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "CodedError",
			err:      New(CodeDeviceNotReady, "no tag present"),
			expected: "no tag present",
		},
		{
			name:     "plain error",
			err:      errors.New("some error"),
			expected: "some error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetMessage(tt.err); got != tt.expected {
				t.Errorf("GetMessage() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "CodedError",
			err:         New(CodeDeviceNotReady, "no tag present"),
			wantCode:    CodeDeviceNotReady,
			wantMessage: "no tag present",
		},
		{
			name:        "plain error",
			err:         errors.New("some error"),
			wantCode:    CodeUnknown,
			wantMessage: "some error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := ToCodeAndMessage(tt.err)
			if code != tt.wantCode {
				t.Errorf("ToCodeAndMessage() code = %q, want %q", code, tt.wantCode)
			}
			if message != tt.wantMessage {
				t.Errorf("ToCodeAndMessage() message = %q, want %q", message, tt.wantMessage)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeCodecCapacityExceeded, "too large")

	if !IsCode(err, CodeCodecCapacityExceeded) {
		t.Error("IsCode() should return true for matching code")
	}

	if IsCode(err, CodeCodecCorrupt) {
		t.Error("IsCode() should return false for non-matching code")
	}

	if IsCode(nil, CodeCodecCapacityExceeded) {
		t.Error("IsCode() should return false for nil error")
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Run("Network", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := Network("card search", cause)
		if !IsCode(err, CodeRemoteNetwork) {
			t.Errorf("Network() code = %q, want %q", GetCode(err), CodeRemoteNetwork)
		}
		if err.Message != "card search failed" {
			t.Errorf("Network() message = %q", err.Message)
		}
		if err.Cause != cause {
			t.Error("Network() should preserve cause")
		}
	})

	t.Run("RateLimited", func(t *testing.T) {
		err := RateLimited()
		if !IsCode(err, CodeRemoteRateLimited) {
			t.Errorf("RateLimited() code = %q, want %q", GetCode(err), CodeRemoteRateLimited)
		}
	})

	t.Run("CapacityExceeded", func(t *testing.T) {
		err := CapacityExceeded(145, 144)
		if !IsCode(err, CodeCodecCapacityExceeded) {
			t.Errorf("CapacityExceeded() code = %q, want %q", GetCode(err), CodeCodecCapacityExceeded)
		}
		if !strings.Contains(err.Message, "145") || !strings.Contains(err.Message, "144") {
			t.Errorf("CapacityExceeded() message should name both sizes, got %q", err.Message)
		}
	})

	t.Run("UnrecognizedFormat", func(t *testing.T) {
		err := UnrecognizedFormat("version 99")
		if !IsCode(err, CodeCodecUnrecognizedFormat) {
			t.Errorf("UnrecognizedFormat() code = %q, want %q", GetCode(err), CodeCodecUnrecognizedFormat)
		}
	})

	t.Run("NotReady", func(t *testing.T) {
		err := NotReady("idle")
		if !IsCode(err, CodeDeviceNotReady) {
			t.Errorf("NotReady() code = %q, want %q", GetCode(err), CodeDeviceNotReady)
		}
		if !strings.Contains(err.Message, "idle") {
			t.Errorf("NotReady() message should include the state, got %q", err.Message)
		}
	})

	t.Run("WriteFailed", func(t *testing.T) {
		cause := errors.New("transmit error")
		err := WriteFailed("page 6", cause)
		if !IsCode(err, CodeDeviceWriteFailed) {
			t.Errorf("WriteFailed() code = %q, want %q", GetCode(err), CodeDeviceWriteFailed)
		}
		if err.Cause != cause {
			t.Error("WriteFailed() should preserve cause")
		}
	})

	t.Run("InvalidMessage", func(t *testing.T) {
		err := InvalidMessage("missing card_id")
		if !IsCode(err, CodeServerInvalidMessage) {
			t.Errorf("InvalidMessage() code = %q, want %q", GetCode(err), CodeServerInvalidMessage)
		}
	})

	t.Run("Internal", func(t *testing.T) {
		cause := errors.New("db connection lost")
		err := Internal("database error", cause)
		if !IsCode(err, CodeInternal) {
			t.Errorf("Internal() code = %q, want %q", GetCode(err), CodeInternal)
		}
		if err.Cause != cause {
			t.Error("Internal() should preserve cause")
		}
	})
}

func TestErrorsAs(t *testing.T) {
	// Test that errors.As works with wrapped errors
	cause := errors.New("original")
	coded := Wrap(CodeDeviceReadFailed, "wrapped", cause)
	wrapped := Wrap(CodeInternal, "double wrapped", coded)

	var target *CodedError
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should find CodedError in chain")
	}
	if target.Code != CodeInternal {
		t.Errorf("errors.As should find outermost CodedError, got code %q", target.Code)
	}
}

func TestErrorCodes(t *testing.T) {
	// Verify error code format is {domain}.{error}
	codes := []string{
		CodeRemoteNetwork,
		CodeRemoteRateLimited,
		CodeRemoteMalformed,
		CodeStorageUnavailable,
		CodeStorageQueryFailed,
		CodeStorageSaveFailed,
		CodeCodecCapacityExceeded,
		CodeCodecUnrecognizedFormat,
		CodeCodecCorrupt,
		CodeDeviceNotReady,
		CodeDeviceReadFailed,
		CodeDeviceWriteFailed,
		CodeDeviceAbsent,
		CodeCodesParseFailed,
		CodeAuthRequired,
		CodeAuthInvalid,
		CodeAuthExpired,
		CodeAuthDeviceRevoked,
		CodeAuthRateLimited,
		CodeAuthForbidden,
		CodeServerUpgradeFailed,
		CodeServerInvalidMessage,
		CodeServerHandlerMissing,
		CodeServerSendFailed,
		CodeServerConnectionLost,
		CodeUnknown,
		CodeInternal,
	}

	for _, code := range codes {
		if code == "" {
			t.Error("error code should not be empty")
			continue
		}

		// Check format: should contain a dot
		hasDot := false
		for _, c := range code {
			if c == '.' {
				hasDot = true
				break
			}
		}
		if !hasDot {
			t.Errorf("error code %q should be in format {domain}.{error}", code)
		}
	}
}
