package activation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// ItemType says whether a request item activates or deactivates.
type ItemType uint32

const (
	ItemActivate   ItemType = 1
	ItemDeactivate ItemType = 2
)

func (t ItemType) String() string {
	switch t {
	case ItemActivate:
		return "activate"
	case ItemDeactivate:
		return "deactivate"
	}
	return fmt.Sprintf("item(%d)", uint32(t))
}

// Item is one package in an activation change request.
type Item struct {
	Type    ItemType
	Name    string
	Package model.NodeRef
	Parent  model.NodeRef
}

// Request is an activation change request for one volume.
//
// Wire layout, little endian: u32 item count, then one 40 byte record per
// item {u32 type, u32 name length, u64 device, u64 node, u64 parent
// device, u64 parent node}, then the names concatenated in item order.
type Request struct {
	Items []Item
}

const (
	headerSize = 4
	itemSize   = 40
)

// Add appends an item.
func (r *Request) Add(t ItemType, name string, pkg, parent model.NodeRef) {
	r.Items = append(r.Items, Item{Type: t, Name: name, Package: pkg, Parent: parent})
}

// Reverse returns a request undoing r.
func (r *Request) Reverse() *Request {
	out := &Request{Items: make([]Item, 0, len(r.Items))}
	for i := len(r.Items) - 1; i >= 0; i-- {
		it := r.Items[i]
		if it.Type == ItemActivate {
			it.Type = ItemDeactivate
		} else {
			it.Type = ItemActivate
		}
		out.Items = append(out.Items, it)
	}
	return out
}

// MarshalBinary encodes the request.
func (r *Request) MarshalBinary() ([]byte, error) {
	size := headerSize + itemSize*len(r.Items)
	for _, it := range r.Items {
		size += len(it.Name)
	}
	buf := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint32(buf, uint32(len(r.Items)))

	names := buf[headerSize+itemSize*len(r.Items):]
	for i, it := range r.Items {
		if it.Name == "" {
			return nil, fmt.Errorf("item %d has no name", i)
		}
		rec := buf[headerSize+itemSize*i:]
		le.PutUint32(rec[0:], uint32(it.Type))
		le.PutUint32(rec[4:], uint32(len(it.Name)))
		le.PutUint64(rec[8:], it.Package.Device)
		le.PutUint64(rec[16:], it.Package.Node)
		le.PutUint64(rec[24:], it.Parent.Device)
		le.PutUint64(rec[32:], it.Parent.Node)
		names = names[copy(names, it.Name):]
	}
	return buf, nil
}

var errShortRequest = errors.New("activation request truncated")

// UnmarshalBinary decodes a request produced by MarshalBinary.
func (r *Request) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return errShortRequest
	}
	le := binary.LittleEndian
	count := int(le.Uint32(data))
	if len(data) < headerSize+itemSize*count {
		return errShortRequest
	}
	names := data[headerSize+itemSize*count:]
	items := make([]Item, count)
	for i := range items {
		rec := data[headerSize+itemSize*i:]
		n := int(le.Uint32(rec[4:]))
		if len(names) < n {
			return errShortRequest
		}
		items[i] = Item{
			Type:    ItemType(le.Uint32(rec[0:])),
			Name:    string(names[:n]),
			Package: model.NodeRef{Device: le.Uint64(rec[8:]), Node: le.Uint64(rec[16:])},
			Parent:  model.NodeRef{Device: le.Uint64(rec[24:]), Node: le.Uint64(rec[32:])},
		}
		names = names[n:]
	}
	if len(names) != 0 {
		return fmt.Errorf("activation request has %d trailing bytes", len(names))
	}
	r.Items = items
	return nil
}
