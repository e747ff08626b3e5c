package usecase

import (
	"sort"

	"keystone/internal/domain"
	"keystone/pkg/lease"
)

// ResolveEntitlements merges a product's feature definitions with a
// license's per-feature overrides into a sorted entitlement table.
// A definition is either a bare bool (enabled flag) or an object with
// enabled / limit / used fields; license values win over product values.
// Remaining is derived from limit and used and floors at zero; it stays
// nil for unlimited features.
func ResolveEntitlements(productFeatures, overrides map[string]any) []domain.Entitlement {
	names := map[string]struct{}{}
	for name := range productFeatures {
		names[name] = struct{}{}
	}
	for name := range overrides {
		names[name] = struct{}{}
	}

	out := make([]domain.Entitlement, 0, len(names))
	for name := range names {
		base := parseFeatureDef(productFeatures[name], hasKey(productFeatures, name))
		override := parseFeatureDef(overrides[name], hasKey(overrides, name))

		ent := domain.Entitlement{Feature: name, Enabled: true}
		if base.present {
			ent.Enabled = base.enabled
			ent.Limit = base.limit
		}
		if override.present {
			ent.Enabled = override.enabled
			if override.limit != nil {
				ent.Limit = override.limit
			}
			ent.Used = override.used
		}
		if ent.Limit != nil {
			remaining := *ent.Limit - ent.Used
			if remaining < 0 {
				remaining = 0
			}
			ent.Remaining = &remaining
		}
		out = append(out, ent)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// EnabledFeatures lists the names of enabled entitlements, in order.
func EnabledFeatures(ents []domain.Entitlement) []string {
	features := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.Enabled {
			features = append(features, e.Feature)
		}
	}
	return features
}

// FindEntitlement returns the entitlement for a feature, if present.
func FindEntitlement(ents []domain.Entitlement, feature string) (domain.Entitlement, bool) {
	for _, e := range ents {
		if e.Feature == feature {
			return e, true
		}
	}
	return domain.Entitlement{}, false
}

// ResolveLicenseEntitlements is the license-level convenience form of
// ResolveEntitlements.
func ResolveLicenseEntitlements(product domain.Product, lic domain.License) []domain.Entitlement {
	return ResolveEntitlements(product.Features, licenseOverrides(lic))
}

// leaseEntitlements copies the resolved table into the lease package's
// public payload type.
func leaseEntitlements(ents []domain.Entitlement) []lease.Entitlement {
	if ents == nil {
		return nil
	}
	out := make([]lease.Entitlement, len(ents))
	for i, e := range ents {
		out[i] = lease.Entitlement{
			Feature:   e.Feature,
			Enabled:   e.Enabled,
			Limit:     e.Limit,
			Used:      e.Used,
			Remaining: e.Remaining,
		}
	}
	return out
}

// licenseOverrides folds a license's feature flags and entitlement
// objects into one override map; entitlement objects win on collision.
func licenseOverrides(lic domain.License) map[string]any {
	if len(lic.Features) == 0 {
		return lic.Entitlements
	}
	merged := make(map[string]any, len(lic.Features)+len(lic.Entitlements))
	for name, def := range lic.Features {
		merged[name] = def
	}
	for name, def := range lic.Entitlements {
		merged[name] = def
	}
	return merged
}

type featureDef struct {
	present bool
	enabled bool
	limit   *int64
	used    int64
}

// parseFeatureDef normalizes a JSON feature definition. Bools toggle the
// feature; objects carry enabled, limit and used. Anything else counts
// as enabled with no limit.
func parseFeatureDef(raw any, present bool) featureDef {
	def := featureDef{present: present, enabled: true}
	if !present {
		return def
	}
	switch v := raw.(type) {
	case bool:
		def.enabled = v
	case map[string]any:
		if enabled, ok := v["enabled"].(bool); ok {
			def.enabled = enabled
		}
		if limit, ok := toInt64(v["limit"]); ok {
			def.limit = &limit
		}
		if used, ok := toInt64(v["used"]); ok {
			def.used = used
		}
	}
	return def
}

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}
