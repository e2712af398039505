package attribute

import "testing"

func newBackrefFixture(t *testing.T) (*Registry, *Class, *Class) {
	t.Helper()
	r := NewRegistry()
	parent, err := r.RegisterClass("Parent")
	if err != nil {
		t.Fatalf("register parent: %v", err)
	}
	child, err := r.RegisterClass("Child")
	if err != nil {
		t.Fatalf("register child: %v", err)
	}
	if _, err := r.RegisterAttribute(parent, "children", Collection, WithBackref("parent"), WithParentTracking()); err != nil {
		t.Fatalf("register children: %v", err)
	}
	if _, err := r.RegisterAttribute(child, "parent", Scalar, WithBackref("children")); err != nil {
		t.Fatalf("register parent attr: %v", err)
	}
	return r, parent, child
}

func TestBackrefAppendSetsChildParent(t *testing.T) {
	r, parentClass, childClass := newBackrefFixture(t)
	p := r.NewState(parentClass)
	c := r.NewState(childClass)

	coll := collectionOf(t, p, "children")
	coll.Append(c)

	got := mustGet(t, c, "parent")
	if got != p {
		t.Fatalf("child parent = %v, want parent state", got)
	}
}

func TestBackrefSetAttachesToParentCollection(t *testing.T) {
	r, parentClass, childClass := newBackrefFixture(t)
	p := r.NewState(parentClass)
	c := r.NewState(childClass)

	mustSet(t, c, "parent", p)

	coll := collectionOf(t, p, "children")
	if !coll.Contains(c) {
		t.Fatalf("parent collection missing child after scalar set")
	}
}

func TestBackrefReassignmentDetachesOldParent(t *testing.T) {
	r, parentClass, childClass := newBackrefFixture(t)
	p1 := r.NewState(parentClass)
	p2 := r.NewState(parentClass)
	c := r.NewState(childClass)

	mustSet(t, c, "parent", p1)
	mustSet(t, c, "parent", p2)

	if collectionOf(t, p1, "children").Contains(c) {
		t.Fatalf("old parent still holds child")
	}
	if !collectionOf(t, p2, "children").Contains(c) {
		t.Fatalf("new parent missing child")
	}
}

func TestBackrefRemoveClearsChildParent(t *testing.T) {
	r, parentClass, childClass := newBackrefFixture(t)
	p := r.NewState(parentClass)
	c := r.NewState(childClass)

	coll := collectionOf(t, p, "children")
	coll.Append(c)
	coll.Remove(c)

	if got := mustGet(t, c, "parent"); got != nil {
		t.Fatalf("child parent = %v, want nil after removal", got)
	}
}

func TestBackrefCollectionAssignmentAdoptsItems(t *testing.T) {
	r, parentClass, childClass := newBackrefFixture(t)
	p := r.NewState(parentClass)
	c1 := r.NewState(childClass)
	c2 := r.NewState(childClass)
	d, _ := parentClass.Descriptor("children")

	mustSet(t, p, "children", []any{c1, c2})

	for i, c := range []*State{c1, c2} {
		if got := mustGet(t, c, "parent"); got != p {
			t.Fatalf("child %d parent = %v, want parent state", i, got)
		}
		if !c.HasParent(d) {
			t.Fatalf("child %d missing has-parent flag after assignment", i)
		}
	}
	if !collectionOf(t, p, "children").Contains(c1) {
		t.Fatalf("assigned collection missing first child")
	}
}

func TestParentTrackingFlags(t *testing.T) {
	r, parentClass, childClass := newBackrefFixture(t)
	p := r.NewState(parentClass)
	c := r.NewState(childClass)
	d, _ := parentClass.Descriptor("children")

	coll := collectionOf(t, p, "children")
	coll.Append(c)
	if !c.HasParent(d) || !c.HasAnyParent() {
		t.Fatalf("expected has-parent flag after append")
	}

	coll.Remove(c)
	if c.HasParent(d) || c.HasAnyParent() {
		t.Fatalf("expected has-parent flag cleared after remove")
	}
}

type recordingExtension struct {
	NopExtension
	sets, appends, removes int
}

func (e *recordingExtension) OnSet(*Descriptor, *State, any, any) { e.sets++ }
func (e *recordingExtension) OnAppend(*Descriptor, *State, any)   { e.appends++ }
func (e *recordingExtension) OnRemove(*Descriptor, *State, any)   { e.removes++ }

func TestCustomExtensionReceivesEvents(t *testing.T) {
	ext := &recordingExtension{}
	r := NewRegistry()
	class, _ := r.RegisterClass("Foo")
	if _, err := r.RegisterAttribute(class, "x", Scalar, WithExtension(ext)); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if _, err := r.RegisterAttribute(class, "items", Collection, WithExtension(ext)); err != nil {
		t.Fatalf("register items: %v", err)
	}
	st := r.NewState(class)
	mustSet(t, st, "x", 1)
	coll := collectionOf(t, st, "items")
	coll.Append("a")
	coll.Remove("a")

	if ext.sets != 1 || ext.appends != 1 || ext.removes != 1 {
		t.Fatalf("extension events = %d/%d/%d, want 1/1/1", ext.sets, ext.appends, ext.removes)
	}
}
