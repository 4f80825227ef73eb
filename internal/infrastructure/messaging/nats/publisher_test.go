package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dreschagin/desertyard/internal/application/dto"
)

func TestBuildMessage_SetsDeduplicationHeader(t *testing.T) {
	event := dto.NewSnapshotStoredEventDTO("tv721", "tv721/abc.jpg", "abc", 1024, 2, time.Unix(1700000000, 0))

	msg, err := BuildMessage("desertyard.snapshot.stored", event)
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}

	if msg.Subject != "desertyard.snapshot.stored" {
		t.Fatalf("unexpected subject: %s", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != event.EventID {
		t.Fatalf("expected Nats-Msg-Id %s, got %q", event.EventID, msg.Header.Get(nats.MsgIdHdr))
	}

	var decoded dto.SnapshotStoredEventDTO
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Key != "tv721/abc.jpg" || decoded.Attempts != 2 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestBuildMessage_PlainEventHasNoMsgID(t *testing.T) {
	msg, err := BuildMessage("desertyard.test", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "" {
		t.Fatalf("unexpected msg id header")
	}
}

func TestBuildMessage_RejectsUnencodable(t *testing.T) {
	if _, err := BuildMessage("desertyard.test", make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}
