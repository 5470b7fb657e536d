package app

import (
	"fmt"
	"math"
	"sort"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// tenantPatch is a whitelisted partial tenant update.
type tenantPatch struct {
	AccountName  *string
	CompanyName  *string
	PhoneNumber  *string
	Address      *string
	BillingEmail *string
	StorageLimit *int64
	StorageUsed  *int64
	UserLimit    *int
	Metadata     map[string]any

	applied []string
	dropped []string
}

func parseTenantPatch(fields map[string]any) (tenantPatch, error) {
	var p tenantPatch
	var problems []string

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fields[key]
		var err error
		switch key {
		case "account_name":
			p.AccountName, err = asString(value)
		case "company_name":
			p.CompanyName, err = asString(value)
		case "phone_number":
			p.PhoneNumber, err = asString(value)
		case "address":
			p.Address, err = asString(value)
		case "billing_email":
			p.BillingEmail, err = asString(value)
		case "storage_limit":
			p.StorageLimit, err = asInt64(value)
		case "storage_used":
			p.StorageUsed, err = asInt64(value)
		case "user_limit":
			var n *int64
			n, err = asInt64(value)
			if n != nil {
				v := int(*n)
				p.UserLimit = &v
			}
		case "metadata":
			m, ok := value.(map[string]any)
			if !ok {
				err = fmt.Errorf("must be an object")
			}
			p.Metadata = m
		default:
			p.dropped = append(p.dropped, key)
			continue
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		p.applied = append(p.applied, key)
	}

	if len(problems) > 0 {
		return tenantPatch{}, &domain.ValidationError{Errors: problems}
	}
	return p, nil
}

func (p tenantPatch) apply(t *domain.Tenant) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setInt64 := func(dst *int64, src *int64) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}

	setString(&t.AccountName, p.AccountName)
	setString(&t.CompanyName, p.CompanyName)
	setString(&t.PhoneNumber, p.PhoneNumber)
	setString(&t.Address, p.Address)
	setString(&t.BillingEmail, p.BillingEmail)
	setInt64(&t.StorageLimit, p.StorageLimit)
	setInt64(&t.StorageUsed, p.StorageUsed)
	if p.UserLimit != nil && t.UserLimit != *p.UserLimit {
		t.UserLimit = *p.UserLimit
		changed = true
	}
	if len(p.Metadata) > 0 {
		t.Metadata = t.Metadata.Merge(p.Metadata)
		changed = true
	}
	return changed
}

func asString(v any) (*string, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("must be a string")
	}
	return &s, nil
}

func asInt64(v any) (*int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("must be a whole number")
		}
		n = int64(x)
	default:
		return nil, fmt.Errorf("must be a number")
	}
	if n < 0 {
		return nil, fmt.Errorf("must not be negative")
	}
	return &n, nil
}
