package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
	"github.com/jornet-server/internal/integrity"
)

type scriptedSubmitter struct {
	errs  []error
	calls int
	last  ScoreMessage
}

func (s *scriptedSubmitter) Submit(_ context.Context, leaderboardID uuid.UUID, sub integrity.Submission) error {
	s.last = ScoreMessage{Leaderboard: leaderboardID, Submission: sub}
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	return err
}

func newTestConsumer(sub Submitter) *Consumer {
	cfg := &config.KafkaConfig{Topic: "jornet-scores", RetryAttempts: 3, RetryDelay: time.Millisecond}
	return newConsumer(cfg, sub, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func signedMessage(t *testing.T) []byte {
	t.Helper()
	playerKey, lbKey := uuid.New(), uuid.New()
	sub := integrity.Submission{Score: 12.5, Player: uuid.New(), Timestamp: 1700000000}
	sub.Sign(playerKey, lbKey)
	value, err := json.Marshal(ScoreMessage{Leaderboard: uuid.New(), Submission: sub})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return value
}

func TestHandleMessage_Accepted(t *testing.T) {
	sub := &scriptedSubmitter{}
	c := newTestConsumer(sub)
	value := signedMessage(t)

	if err := c.HandleMessage(context.Background(), value); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	var want ScoreMessage
	if err := json.Unmarshal(value, &want); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if sub.calls != 1 || sub.last.Leaderboard != want.Leaderboard || sub.last.Submission.Signature != want.Submission.Signature {
		t.Errorf("submitted %+v after %d calls, want %+v", sub.last, sub.calls, want)
	}
}

func TestHandleMessage_RejectsAreNotRetried(t *testing.T) {
	for _, rejection := range []error{
		domain.ErrSignatureInvalid,
		domain.ErrDuplicateSubmission,
		domain.ErrPlayerNotFound,
		domain.ErrStaleSubmission,
	} {
		t.Run(ErrorClass(rejection), func(t *testing.T) {
			sub := &scriptedSubmitter{errs: []error{rejection}}
			c := newTestConsumer(sub)
			if err := c.HandleMessage(context.Background(), signedMessage(t)); !errors.Is(err, rejection) {
				t.Fatalf("HandleMessage: got %v, want %v", err, rejection)
			}
			if sub.calls != 1 {
				t.Errorf("Submit calls = %d, want 1", sub.calls)
			}
		})
	}
}

func TestHandleMessage_RetriesTransientFailures(t *testing.T) {
	transient := fmt.Errorf("inserting score: %w", errors.New("connection reset"))
	sub := &scriptedSubmitter{errs: []error{transient, transient}}
	c := newTestConsumer(sub)

	if err := c.HandleMessage(context.Background(), signedMessage(t)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if sub.calls != 3 {
		t.Errorf("Submit calls = %d, want 3", sub.calls)
	}

	sub = &scriptedSubmitter{errs: []error{transient, transient, transient}}
	c = newTestConsumer(sub)
	if err := c.HandleMessage(context.Background(), signedMessage(t)); err == nil {
		t.Fatal("HandleMessage succeeded after exhausting retries")
	}
	if sub.calls != 3 {
		t.Errorf("Submit calls = %d, want 3", sub.calls)
	}
}

func TestHandleMessage_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"not json":        []byte("{"),
		"no leaderboard":  []byte(`{"submission":{"player":"` + uuid.NewString() + `","score":1,"timestamp":1,"k":"00"}}`),
		"no player":       []byte(`{"leaderboard":"` + uuid.NewString() + `","submission":{"score":1,"timestamp":1,"k":"00"}}`),
		"bad player uuid": []byte(`{"leaderboard":"` + uuid.NewString() + `","submission":{"player":"x"}}`),
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			sub := &scriptedSubmitter{}
			c := newTestConsumer(sub)
			if err := c.HandleMessage(context.Background(), value); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("HandleMessage: got %v, want ErrInvalidRequest", err)
			}
			if sub.calls != 0 {
				t.Errorf("Submit calls = %d, want 0", sub.calls)
			}
		})
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "accepted"},
		{fmt.Errorf("wrapped: %w", domain.ErrLeaderboardNotFound), "unknown_leaderboard"},
		{domain.ErrPlayerNotFound, "unknown_player"},
		{domain.ErrSignatureInvalid, "invalid_signature"},
		{domain.ErrDuplicateSubmission, "duplicate_submission"},
		{domain.ErrStaleSubmission, "stale_submission"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		if got := ErrorClass(tt.err); got != tt.want {
			t.Errorf("ErrorClass(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestProducer_Publish(t *testing.T) {
	mock := mocks.NewSyncProducer(t, sarama.NewConfig())
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var msg ScoreMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		if msg.Submission.Signature == "" {
			return errors.New("unsigned submission")
		}
		return nil
	})

	producer := NewProducerFrom(mock, "jornet-scores")
	var msg ScoreMessage
	if err := json.Unmarshal(signedMessage(t), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := producer.Publish(msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
