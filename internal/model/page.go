package model

// Page is one window of a server-ordered collection. Page is 1-based and
// together with Limit echoes the request that produced it.
//
// A Page handed out by the cache is a snapshot and must not be modified.
// Transforms below always return a new Page.
type Page struct {
	Items []Resource `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

// SinglePage wraps a detail read so it is cached like a list.
func SinglePage(r Resource) *Page {
	return &Page{Items: []Resource{r}, Total: 1, Page: 1, Limit: 1}
}

// Clone returns a shallow copy with its own item slice.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = make([]Resource, len(p.Items))
	copy(c.Items, p.Items)
	return &c
}

// IndexOf returns the position of the item with the given id or -1.
func (p *Page) IndexOf(id string) int {
	if p == nil {
		return -1
	}
	for i, it := range p.Items {
		if it.ResourceID() == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the page holds the item with the given id.
func (p *Page) Contains(id string) bool {
	return p.IndexOf(id) >= 0
}

// PageCount is ceil(Total/Limit).
func (p *Page) PageCount() int {
	if p == nil || p.Limit <= 0 || p.Total <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// Transform derives a new snapshot from the current one. It is called with
// nil when no data is cached and must never modify its argument.
type Transform func(*Page) *Page

// Chain composes transforms left to right.
func Chain(ts ...Transform) Transform {
	return func(p *Page) *Page {
		for _, t := range ts {
			p = t(p)
		}
		return p
	}
}

// InsertFirst grows the collection by one. The first page shows r at the
// top, trimmed to its limit; later pages only see the new total since
// their window shifted by an item the client does not know. A page that
// already holds r's id gets r in place and keeps its total.
func InsertFirst(r Resource) Transform {
	return func(p *Page) *Page {
		if p == nil {
			return nil
		}
		if p.Contains(r.ResourceID()) {
			return ReplaceByID(r.ResourceID(), r)(p)
		}
		c := p.Clone()
		c.Total++
		if c.Page <= 1 {
			c.Items = append([]Resource{r}, c.Items...)
			if c.Limit > 0 && len(c.Items) > c.Limit {
				c.Items = c.Items[:c.Limit]
			}
		}
		return c
	}
}

// RemoveByID drops the item with the given id. Removing an absent item
// returns p unchanged.
func RemoveByID(id string) Transform {
	return func(p *Page) *Page {
		i := p.IndexOf(id)
		if i < 0 {
			return p
		}
		c := p.Clone()
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		if c.Total > 0 {
			c.Total--
		}
		return c
	}
}

// PatchByID replaces the item with the given id by fn(item). Pages without
// the item are returned unchanged.
func PatchByID(id string, fn func(Resource) Resource) Transform {
	return func(p *Page) *Page {
		i := p.IndexOf(id)
		if i < 0 {
			return p
		}
		c := p.Clone()
		c.Items[i] = fn(c.Items[i])
		return c
	}
}

// ReplaceByID swaps the item identified by id for r, which may carry a new
// id (a placeholder confirmed by the server).
func ReplaceByID(id string, r Resource) Transform {
	return PatchByID(id, func(Resource) Resource { return r })
}

// ApplyProgress patches progress and status of the matching item.
func ApplyProgress(ev ProgressEvent) Transform {
	return PatchByID(ev.ResourceID, func(r Resource) Resource {
		if pr, ok := r.(Progressive); ok {
			return pr.WithProgress(ev)
		}
		return r
	})
}
