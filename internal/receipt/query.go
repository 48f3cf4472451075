package receipt

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListQuery selects a page of one user's receipts.
// Page is a page index: page N covers rows N*Size through N*Size+Size-1.
type ListQuery struct {
	UserID    string
	Page      int
	Size      int
	Status    string
	Committee string
	Search    string
	SortField string
	SortOrder string
}

type lessFunc func(a, b *ReceiptInfo) bool

var sortFields = map[string]lessFunc{
	"createdat": func(a, b *ReceiptInfo) bool { return a.ReceiptCreatedAt.Before(b.ReceiptCreatedAt) },
	"amount":    func(a, b *ReceiptInfo) bool { return a.Amount.LessThan(b.Amount) },
	"name": func(a, b *ReceiptInfo) bool {
		return strings.ToLower(a.ReceiptName) < strings.ToLower(b.ReceiptName)
	},
	"committee": func(a, b *ReceiptInfo) bool {
		return strings.ToLower(a.CommitteeName) < strings.ToLower(b.CommitteeName)
	},
	"status": func(a, b *ReceiptInfo) bool { return a.LatestReviewStatus < b.LatestReviewStatus },
}

// Validate checks paging and sorting parameters
func (q ListQuery) Validate() error {
	if q.Page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrInvalidQuery)
	}
	if q.Size < 1 || q.Size > MaxPageSize {
		return fmt.Errorf("%w: size must be between 1 and %d", ErrInvalidQuery, MaxPageSize)
	}
	if q.Page > math.MaxInt/q.Size {
		return fmt.Errorf("%w: page is out of range", ErrInvalidQuery)
	}
	if q.SortField != "" {
		if _, ok := sortFields[strings.ToLower(q.SortField)]; !ok {
			return fmt.Errorf("%w: cannot sort by %q", ErrInvalidQuery, q.SortField)
		}
	}
	switch strings.ToLower(q.SortOrder) {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("%w: sort order must be asc or desc", ErrInvalidQuery)
	}
	return nil
}

func (q ListQuery) matches(info *ReceiptInfo) bool {
	if q.Status != "" && !strings.EqualFold(string(info.LatestReviewStatus), q.Status) {
		return false
	}
	if q.Committee != "" && !strings.EqualFold(info.CommitteeName, q.Committee) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		haystack := strings.ToLower(info.ReceiptName + "\n" + info.ReceiptDescription + "\n" + info.CommitteeName)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and pages infos. Total counts every match.
func (q ListQuery) Apply(infos []*ReceiptInfo) *ReceiptPage {
	matched := make([]*ReceiptInfo, 0, len(infos))
	for _, info := range infos {
		if q.matches(info) {
			matched = append(matched, info)
		}
	}

	// Without an explicit field the newest receipts come first
	less := sortFields["createdat"]
	descending := true
	if q.SortField != "" {
		less = sortFields[strings.ToLower(q.SortField)]
		descending = strings.EqualFold(q.SortOrder, "desc")
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if descending {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return matched[i].ReceiptID < matched[j].ReceiptID
	})

	page := &ReceiptPage{Receipts: make([]*ReceiptInfo, 0), Total: len(matched)}
	// Bound the page before multiplying so the offset cannot overflow
	if q.Size < 1 || q.Page < 0 || q.Page > len(matched)/q.Size {
		return page
	}
	start := q.Page * q.Size
	if start >= len(matched) {
		return page
	}
	end := start + q.Size
	if end > len(matched) {
		end = len(matched)
	}
	page.Receipts = matched[start:end]
	return page
}
