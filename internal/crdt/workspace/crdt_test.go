package workspace

import "testing"

func TestPutAndGet(t *testing.T) {
	c := New("client-a")

	title := "Today"
	if _, err := c.Put("today.md", RecordDelta{Title: &title}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok := c.Get("today.md")
	if !ok {
		t.Fatalf("Get: record not found")
	}
	if v.Title == nil || *v.Title != "Today" {
		t.Fatalf("Title = %v, want %q", v.Title, "Today")
	}
}

func TestPutFieldsUntouchedWhenUnset(t *testing.T) {
	c := New("client-a")

	title := "Today"
	desc := "notes"
	if _, err := c.Put("today.md", RecordDelta{Title: &title, Description: &desc}); err != nil {
		t.Fatalf("Put 1: %v", err)
	}

	newTitle := "Updated"
	if _, err := c.Put("today.md", RecordDelta{Title: &newTitle}); err != nil {
		t.Fatalf("Put 2: %v", err)
	}

	v, _ := c.Get("today.md")
	if *v.Title != "Updated" {
		t.Fatalf("Title = %q, want %q", *v.Title, "Updated")
	}
	if v.Description == nil || *v.Description != "notes" {
		t.Fatalf("Description = %v, want %q (should be untouched)", v.Description, "notes")
	}
}

func TestConcurrentPutConvergesByClock(t *testing.T) {
	a := New("client-a")
	b := New("client-b")

	ta := "from-a"
	tb := "from-b"

	updA, err := a.Put("note.md", RecordDelta{Title: &ta})
	if err != nil {
		t.Fatalf("a.Put: %v", err)
	}
	updB, err := b.Put("note.md", RecordDelta{Title: &tb})
	if err != nil {
		t.Fatalf("b.Put: %v", err)
	}

	if err := a.ApplyRemote(updB); err != nil {
		t.Fatalf("a.ApplyRemote: %v", err)
	}
	if err := b.ApplyRemote(updA); err != nil {
		t.Fatalf("b.ApplyRemote: %v", err)
	}

	va, _ := a.Get("note.md")
	vb, _ := b.Get("note.md")
	if *va.Title != *vb.Title {
		t.Fatalf("replicas diverged: a=%q b=%q", *va.Title, *vb.Title)
	}
}

func TestApplyRemoteIsIdempotent(t *testing.T) {
	a := New("client-a")
	b := New("client-b")

	title := "hello"
	upd, err := a.Put("note.md", RecordDelta{Title: &title})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := b.ApplyRemote(upd); err != nil {
		t.Fatalf("ApplyRemote 1: %v", err)
	}
	if err := b.ApplyRemote(upd); err != nil {
		t.Fatalf("ApplyRemote 2: %v", err)
	}

	v, _ := b.Get("note.md")
	if *v.Title != "hello" {
		t.Fatalf("Title = %q, want %q", *v.Title, "hello")
	}
}

func TestTombstoneAndRestore(t *testing.T) {
	c := New("client-a")
	if _, err := c.Put("a.md", RecordDelta{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Tombstone("a.md"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	v, _ := c.Get("a.md")
	if !v.Tombstoned {
		t.Fatalf("expected tombstoned")
	}
	if _, err := c.Restore("a.md"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	v, _ = c.Get("a.md")
	if v.Tombstoned {
		t.Fatalf("expected not tombstoned after restore")
	}
}

func TestAddChildRemoveChildAndDedup(t *testing.T) {
	c := New("client-a")
	if _, err := c.AddChild("dir", "a.md"); err != nil {
		t.Fatalf("AddChild a: %v", err)
	}
	if _, err := c.AddChild("dir", "b.md"); err != nil {
		t.Fatalf("AddChild b: %v", err)
	}

	v, _ := c.Get("dir")
	if len(v.Children) != 2 || v.Children[0] != "a.md" || v.Children[1] != "b.md" {
		t.Fatalf("Children = %v, want [a.md b.md]", v.Children)
	}

	if _, err := c.RemoveChild("dir", "a.md"); err != nil {
		t.Fatalf("RemoveChild: %v", err)
	}
	v, _ = c.Get("dir")
	if len(v.Children) != 1 || v.Children[0] != "b.md" {
		t.Fatalf("Children = %v, want [b.md]", v.Children)
	}

	if _, err := c.RemoveChild("dir", "missing.md"); err == nil {
		t.Fatalf("expected error removing a child that isn't listed")
	}
}

func TestConcurrentAddChildBothSurvive(t *testing.T) {
	a := New("client-a")
	b := New("client-b")

	updA, _ := a.AddChild("dir", "a.md")
	updB, _ := b.AddChild("dir", "b.md")

	if err := a.ApplyRemote(updB); err != nil {
		t.Fatalf("a.ApplyRemote: %v", err)
	}
	if err := b.ApplyRemote(updA); err != nil {
		t.Fatalf("b.ApplyRemote: %v", err)
	}

	va, _ := a.Get("dir")
	vb, _ := b.Get("dir")
	if len(va.Children) != 2 || len(vb.Children) != 2 {
		t.Fatalf("expected both children to survive: a=%v b=%v", va.Children, vb.Children)
	}
	if va.Children[0] != vb.Children[0] || va.Children[1] != vb.Children[1] {
		t.Fatalf("replicas ordered children differently: a=%v b=%v", va.Children, vb.Children)
	}
}

func TestAttachmentTombstoneWins(t *testing.T) {
	a := New("client-a")
	b := New("client-b")

	ref := AttachmentRef{ContentHash: "h1", RelativePath: "img.png"}
	updA, _ := a.PutAttachment("note.md", ref)

	tombRef := ref
	tombRef.Tombstoned = true
	updB, _ := b.PutAttachment("note.md", tombRef)

	if err := a.ApplyRemote(updB); err != nil {
		t.Fatalf("a.ApplyRemote: %v", err)
	}
	if err := b.ApplyRemote(updA); err != nil {
		t.Fatalf("b.ApplyRemote: %v", err)
	}

	va, _ := a.Get("note.md")
	vb, _ := b.Get("note.md")
	if len(va.Attachments) != 0 || len(vb.Attachments) != 0 {
		t.Fatalf("expected tombstoned attachment hidden from both: a=%v b=%v", va.Attachments, vb.Attachments)
	}
}

func TestAttachmentTombstoneUnionCommutes(t *testing.T) {
	// The tombstone must survive even when it is authored by the
	// writer that loses the tiebreak: client-a tombstones, client-b
	// concurrently re-adds, both at the same clock (client-b wins the
	// tiebreak). Every replica must still end tombstoned, regardless
	// of delivery order.
	a := New("client-a")
	b := New("client-b")

	tombRef := AttachmentRef{ContentHash: "h1", RelativePath: "img.png", Tombstoned: true}
	updA, _ := a.PutAttachment("note.md", tombRef)

	liveRef := AttachmentRef{ContentHash: "h1", RelativePath: "img.png"}
	updB, _ := b.PutAttachment("note.md", liveRef)

	// A applies B's tiebreak-winning re-add after its own tombstone;
	// B applies A's tiebreak-losing tombstone after its own re-add.
	if err := a.ApplyRemote(updB); err != nil {
		t.Fatalf("a.ApplyRemote: %v", err)
	}
	if err := b.ApplyRemote(updA); err != nil {
		t.Fatalf("b.ApplyRemote: %v", err)
	}

	va, _ := a.Get("note.md")
	vb, _ := b.Get("note.md")
	if len(va.Attachments) != 0 {
		t.Fatalf("replica a resurrected tombstoned attachment: %v", va.Attachments)
	}
	if len(vb.Attachments) != 0 {
		t.Fatalf("replica b resurrected tombstoned attachment: %v", vb.Attachments)
	}

	// A third observer applying the writes in either order agrees.
	for name, order := range map[string][][]byte{
		"tombstone first": {updA, updB},
		"re-add first":    {updB, updA},
	} {
		c := New("observer")
		for _, u := range order {
			if err := c.ApplyRemote(u); err != nil {
				t.Fatalf("%s: ApplyRemote: %v", name, err)
			}
		}
		if v, _ := c.Get("note.md"); len(v.Attachments) != 0 {
			t.Fatalf("%s: observer resurrected attachment: %v", name, v.Attachments)
		}
	}
}

func TestBuildTree(t *testing.T) {
	c := New("client-a")
	if _, err := c.Put("root", RecordDelta{MakeContainer: true}); err != nil {
		t.Fatalf("Put root: %v", err)
	}
	if _, err := c.AddChild("root", "a.md"); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	title := "A"
	if _, err := c.Put("root/a.md", RecordDelta{Title: &title}); err != nil {
		t.Fatalf("Put child: %v", err)
	}

	tree, err := c.BuildTree("root")
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("Children count = %d, want 1", len(tree.Children))
	}
	if tree.Children[0].View.Title == nil || *tree.Children[0].View.Title != "A" {
		t.Fatalf("child title = %v, want %q", tree.Children[0].View.Title, "A")
	}
}

func TestEventsDeliveredAfterApplyCompletes(t *testing.T) {
	c := New("client-a")
	var got []Event
	c.Subscribe(func(e Event) { got = append(got, e) })

	if _, err := c.Put("a.md", RecordDelta{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(got) != 1 || got[0].Kind != EventFileCreated {
		t.Fatalf("events = %v, want one FileCreated event", got)
	}
}
