package models

// Link is one item tile found on a listing page. Label is only set for
// image tiles and carries the image alt text.
type Link struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// ListingPage is the parsed view of one page of the paginated index.
type ListingPage struct {
	Tiles   int
	Links   []Link
	HasMore bool
}

// URLSet is an insertion-ordered set of absolute URLs.
type URLSet struct {
	index map[string]struct{}
	links []Link
}

// NewURLSet returns an empty set.
func NewURLSet() *URLSet {
	return &URLSet{index: make(map[string]struct{})}
}

// Add inserts link unless its URL is already present. It reports whether
// the link was new.
func (s *URLSet) Add(link Link) bool {
	if _, ok := s.index[link.URL]; ok {
		return false
	}
	s.index[link.URL] = struct{}{}
	s.links = append(s.links, link)
	return true
}

// Len returns the number of distinct URLs.
func (s *URLSet) Len() int {
	return len(s.links)
}

// Links returns a copy of the links in insertion order.
func (s *URLSet) Links() []Link {
	out := make([]Link, len(s.links))
	copy(out, s.links)
	return out
}

// URLs returns the URLs in insertion order.
func (s *URLSet) URLs() []string {
	out := make([]string, len(s.links))
	for i, link := range s.links {
		out[i] = link.URL
	}
	return out
}
