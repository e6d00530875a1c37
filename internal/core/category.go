package core

import (
	"fmt"
	"strings"
)

// Category classifies a DerivedExpense. The set is closed: adding a value
// requires extending Category.Bucket, and CheckBucketCoverage fails until
// that is done.
type Category int

const (
	CategorySalesCommission Category = iota + 1
	CategorySetterCommission
	CategoryCallerCommission
	CategoryTeamLeaderCommission
	CategoryCopywriting
	CategoryPaymentFee
	CategoryAdvertising
	CategorySalaries
	CategorySoftware
	CategoryRent
	CategoryAccounting
	CategoryOther

	categoryEnd // sentinel, keep last
)

// Bucket is a P&L row group. Many categories collapse into one bucket.
type Bucket int

const (
	BucketRevenue Bucket = iota + 1
	BucketCommissions
	BucketMarketing
	BucketFees
	BucketOperations
	BucketOther
	BucketSummary
)

var categoryNames = map[Category]string{
	CategorySalesCommission:      "Comision vanzari",
	CategorySetterCommission:     "Comision setter",
	CategoryCallerCommission:     "Comision caller",
	CategoryTeamLeaderCommission: "Comision team leader",
	CategoryCopywriting:          "Copywriting",
	CategoryPaymentFee:           "Comision procesare plati",
	CategoryAdvertising:          "Reclame",
	CategorySalaries:             "Salarii",
	CategorySoftware:             "Software",
	CategoryRent:                 "Chirie",
	CategoryAccounting:           "Contabilitate",
	CategoryOther:                "Altele",
}

var bucketNames = map[Bucket]string{
	BucketRevenue:     "Venituri",
	BucketCommissions: "Comisioane",
	BucketMarketing:   "Marketing",
	BucketFees:        "Taxe procesare",
	BucketOperations:  "Operational",
	BucketOther:       "Altele",
	BucketSummary:     "Sumar",
}

// AllCategories enumerates every declared category.
func AllCategories() []Category {
	out := make([]Category, 0, int(categoryEnd)-1)
	for c := Category(1); c < categoryEnd; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for c, n := range categoryNames {
		if strings.EqualFold(n, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Automatic reports whether the category is produced by the allocation engine.
func (c Category) Automatic() bool {
	switch c {
	case CategorySalesCommission, CategorySetterCommission, CategoryCallerCommission,
		CategoryTeamLeaderCommission, CategoryCopywriting, CategoryPaymentFee, CategoryAdvertising:
		return true
	}
	return false
}

// Bucket maps a category to its P&L bucket. The switch has no default
// branch on purpose so an unmapped category surfaces as an error.
func (c Category) Bucket() (Bucket, error) {
	switch c {
	case CategorySalesCommission, CategorySetterCommission, CategoryCallerCommission,
		CategoryTeamLeaderCommission:
		return BucketCommissions, nil
	case CategoryCopywriting, CategoryAdvertising:
		return BucketMarketing, nil
	case CategoryPaymentFee:
		return BucketFees, nil
	case CategorySalaries, CategorySoftware, CategoryRent, CategoryAccounting:
		return BucketOperations, nil
	case CategoryOther:
		return BucketOther, nil
	}
	return 0, fmt.Errorf("%w: %s has no P&L bucket", ErrUnknownCategory, c)
}

// CheckBucketCoverage verifies that every category maps to a bucket.
func CheckBucketCoverage() error {
	var missing []string
	for _, c := range AllCategories() {
		if _, err := c.Bucket(); err != nil {
			missing = append(missing, c.String())
		}
		if _, ok := categoryNames[c]; !ok {
			missing = append(missing, fmt.Sprintf("unnamed %d", int(c)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unmapped categories: %s", ErrUnknownCategory, strings.Join(missing, ", "))
	}
	return nil
}

func (b Bucket) String() string {
	if n, ok := bucketNames[b]; ok {
		return n
	}
	return fmt.Sprintf("Bucket(%d)", int(b))
}

// ParseBucket is the inverse of Bucket.String.
func ParseBucket(s string) (Bucket, error) {
	for b, n := range bucketNames {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: bucket %q", ErrUnknownCategory, s)
}

// CategoryForRole returns the commission category for a payee role.
func CategoryForRole(r Role) (Category, error) {
	switch r {
	case RoleSales:
		return CategorySalesCommission, nil
	case RoleSetter:
		return CategorySetterCommission, nil
	case RoleCaller:
		return CategoryCallerCommission, nil
	case RoleTeamLeader:
		return CategoryTeamLeaderCommission, nil
	case RoleCopywriter:
		return CategoryCopywriting, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownRole, r)
}
