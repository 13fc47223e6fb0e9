package pubcontrol

// Item is a message payload: a set of distinct-named formats plus optional
// id and prev-id. Items are immutable once built.
type Item struct {
	id        string
	hasID     bool
	prevID    string
	hasPrevID bool
	formats   []Format
}

type ItemOption func(*Item)

// WithID sets the item id.
func WithID(id string) ItemOption {
	return func(it *Item) { it.id, it.hasID = id, true }
}

// WithPrevID sets the id of the item this one follows.
func WithPrevID(id string) ItemOption {
	return func(it *Item) { it.prevID, it.hasPrevID = id, true }
}

// NewItem builds an Item. Formats keep their order; duplicates are only
// detected by Export.
func NewItem(formats []Format, opts ...ItemOption) *Item {
	it := &Item{formats: append([]Format(nil), formats...)}
	for _, o := range opts {
		o(it)
	}
	return it
}

// ID returns the item id and whether one was set.
func (it *Item) ID() (string, bool) { return it.id, it.hasID }

// PrevID returns the previous item id and whether one was set.
func (it *Item) PrevID() (string, bool) { return it.prevID, it.hasPrevID }

// Formats returns a copy of the item's formats in insertion order.
func (it *Item) Formats() []Format { return append([]Format(nil), it.formats...) }

// Export merges id, prev-id and every format's export (keyed by format name)
// into one map. It fails with a *DuplicateFormatError when two formats share
// a name.
func (it *Item) Export() (map[string]any, error) {
	out := make(map[string]any, len(it.formats)+2)
	if it.hasID {
		out["id"] = it.id
	}
	if it.hasPrevID {
		out["prev-id"] = it.prevID
	}
	seen := make(map[string]struct{}, len(it.formats))
	for _, f := range it.formats {
		name := f.Name()
		if _, dup := seen[name]; dup {
			return nil, &DuplicateFormatError{Name: name}
		}
		seen[name] = struct{}{}
		out[name] = f.Export()
	}
	return out, nil
}
