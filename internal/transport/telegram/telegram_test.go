package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"sprintbot/internal/transport"
	logx "sprintbot/pkg/logx"
)

func TestClassifyFloodError(t *testing.T) {
	t.Parallel()
	err := classify(tele.FloodError{RetryAfter: 17})

	var te *transport.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("flood error classified as %T, want transient", err)
	}
	if te.RetryAfter != 17*time.Second {
		t.Fatalf("RetryAfter = %v, want 17s", te.RetryAfter)
	}
	if got := transport.RetryAfter(err); got != 17*time.Second {
		t.Fatalf("transport.RetryAfter = %v", got)
	}
}

func TestClassifyPermanent(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		tele.ErrBlockedByUser,
		tele.ErrUserIsDeactivated,
		tele.ErrChatNotFound,
		tele.ErrKickedFromGroup,
		tele.ErrKickedFromSuperGroup,
		tele.ErrKickedFromChannel,
	} {
		if !transport.IsPermanent(classify(err)) {
			t.Fatalf("%v not classified permanent", err)
		}
	}
}

func TestClassifyAPICodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		code      int
		permanent bool
	}{
		{name: "bad request", code: 400, permanent: true},
		{name: "forbidden", code: 403, permanent: true},
		{name: "flood control", code: 429, permanent: false},
		{name: "server error", code: 502, permanent: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&tele.Error{Code: tt.code, Description: tt.name})
			if got := transport.IsPermanent(err); got != tt.permanent {
				t.Fatalf("code %d permanent = %v, want %v", tt.code, got, tt.permanent)
			}
		})
	}
}

func TestClassifyUnknownIsTransient(t *testing.T) {
	t.Parallel()
	err := classify(errors.New("connection reset"))
	if transport.IsPermanent(err) {
		t.Fatal("unknown error must stay retryable")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
