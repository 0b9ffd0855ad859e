package projector

import "feedsync/pkg/models"

type Page struct {
	Items  []models.Post `json:"items"`
	Number int           `json:"number"`
	Pages  int           `json:"pages"`
	Total  int           `json:"total"`
	Size   int           `json:"size"`
}

func (p Page) HasNext() bool { return p.Number < p.Pages }
func (p Page) HasPrev() bool { return p.Number > 1 }

// PageCount is ceil(total/size), never below 1.
func PageCount(total, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	n := (total + size - 1) / size
	if n < 1 {
		n = 1
	}
	return n
}

// ClampPage forces number into [1, PageCount(total, size)].
func ClampPage(number, total, size int) int {
	last := PageCount(total, size)
	if number < 1 {
		return 1
	}
	if number > last {
		return last
	}
	return number
}

// Paginate slices items into the requested page after clamping it.
func Paginate(items []models.Post, number, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	number = ClampPage(number, len(items), size)

	start := (number - 1) * size
	end := start + size
	if end > len(items) {
		end = len(items)
	}

	out := make([]models.Post, 0, end-start)
	for _, p := range items[start:end] {
		out = append(out, p.Clone())
	}
	return Page{
		Items:  out,
		Number: number,
		Pages:  PageCount(len(items), size),
		Total:  len(items),
		Size:   size,
	}
}

// Pager holds the view parameters of a searchable, paginated feed. It is
// view state, not feed state: it owns no posts.
type Pager struct {
	term string
	page int
	size int
}

func NewPager(size int) *Pager {
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Pager{page: 1, size: size}
}

func (p *Pager) Term() string { return p.term }
func (p *Pager) Page() int    { return p.page }
func (p *Pager) Size() int    { return p.size }

// SetTerm changes the filter. A different term starts again at page 1.
func (p *Pager) SetTerm(term string) {
	if term == p.term {
		return
	}
	p.term = term
	p.page = 1
}

func (p *Pager) SetPage(n int) {
	p.page = n
}

func (p *Pager) Next() { p.page++ }
func (p *Pager) Prev() { p.page-- }

// Apply filters posts and returns the active page. The stored page number is
// clamped to what the result allows.
func (p *Pager) Apply(posts []models.Post) Page {
	page := Paginate(Search(posts, p.term), p.page, p.size)
	p.page = page.Number
	return page
}
