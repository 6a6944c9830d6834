package azcore

import "context"

// PagingHandler supplies the page-fetching behavior for a Pager.
type PagingHandler[T any] struct {
	// More reports whether the page indicates more pages exist, typically
	// by the presence of a continuation link.
	More func(page T) bool

	// Fetcher retrieves the next page. current is nil for the first call.
	Fetcher func(ctx context.Context, current *T) (T, error)
}

// Pager iterates pages of results from a list operation.
//
//	pager := client.NewListPager(nil)
//	for pager.More() {
//		page, err := pager.NextPage(ctx)
//		...
//	}
type Pager[T any] struct {
	current   *T
	handler   PagingHandler[T]
	firstPage bool
}

// NewPager creates a Pager over the given handler. Service clients call
// this; applications receive configured pagers from New*Pager methods.
func NewPager[T any](handler PagingHandler[T]) *Pager[T] {
	return &Pager[T]{
		handler:   handler,
		firstPage: true,
	}
}

// More reports whether another page is available.
func (p *Pager[T]) More() bool {
	if p.current == nil {
		return true
	}
	return p.handler.More(*p.current)
}

// NextPage fetches the next page. A fetch error leaves the pager at its
// position so the same page can be retried.
func (p *Pager[T]) NextPage(ctx context.Context) (T, error) {
	var page T
	var err error
	if p.current != nil {
		if !p.handler.More(*p.current) {
			return page, errNoMorePages
		}
		page, err = p.handler.Fetcher(ctx, p.current)
	} else if p.firstPage {
		page, err = p.handler.Fetcher(ctx, nil)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	p.current = &page
	p.firstPage = false
	return page, nil
}
