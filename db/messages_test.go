package db

import (
	"testing"
	"time"

	"pawmart/models"

	"go.mongodb.org/mongo-driver/bson"
)

func TestNextSeqIsStrictlyIncreasing(t *testing.T) {
	now := time.Now()
	a := nextSeq(now)
	b := nextSeq(now)
	c := nextSeq(now.Add(-time.Hour))
	if !(a < b && b < c) {
		t.Fatalf("seq not increasing: %d %d %d", a, b, c)
	}
}

func TestPatchSet(t *testing.T) {
	if set := patchSet(models.MessagePatch{}); len(set) != 0 {
		t.Fatalf("empty patch = %v", set)
	}
	content := "edited"
	set := patchSet(models.MessagePatch{Content: &content, Type: models.TypePatch(models.MessageAdoptionAccepted).Type})
	if set["content"] != "edited" || set["type"] != models.MessageAdoptionAccepted {
		t.Fatalf("set = %v", set)
	}
}

func TestPatchFilterPinsType(t *testing.T) {
	f := patchFilter("m1", models.MessageAdoptionRequest)
	if f["_id"] != "m1" || f["type"] != models.MessageAdoptionRequest {
		t.Fatalf("filter = %v", f)
	}
}

func TestMessageDocInlinesMessage(t *testing.T) {
	doc := messageDoc{Message: models.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Type: models.MessageText}, Seq: 7}
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m["_id"] != "m1" || m["senderId"] != "a" || m["seq"] != int64(7) {
		t.Fatalf("doc = %v", m)
	}
	if _, ok := m["Status"]; ok {
		t.Fatal("client-only status persisted")
	}
}
