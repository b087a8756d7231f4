package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// ListParams selects a page of records from a collection.
type ListParams struct {
	Page     int
	PageSize int // 0 returns every matching record
	Search   string
	Sort     string // field name, "-" prefix for descending
	Filters  map[string]string
}

// Normalized returns p with defaults applied.
func (p ListParams) Normalized() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	if p.Sort == "" {
		p.Sort = "-created_at"
	}
	return p
}

// Offset is the number of records skipped before the page.
func (p ListParams) Offset() int {
	if p.PageSize == 0 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// ListResult is the paginated list envelope returned by every collection.
type ListResult struct {
	Items    []Document `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
	HasMore  bool       `json:"has_more"`
}

// NewListResult builds the envelope for one page of items out of total.
func NewListResult(items []Document, p ListParams, total int) ListResult {
	if items == nil {
		items = []Document{}
	}
	res := ListResult{
		Items:    items,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    total,
	}
	if p.PageSize == 0 {
		res.Page = 1
		res.PageSize = len(items)
		return res
	}
	res.HasMore = p.Page*p.PageSize < total
	return res
}
